package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"channel-assistant/internal/domain"
	"channel-assistant/pkg/logger"
	"channel-assistant/pkg/metrics"
)

const (
	defaultHistoryTurns = 8
	defaultChunkSize    = 1800
	defaultResetCommand = "/new"
	defaultResetReply   = "Ok, I am starting a new conversation."
	defaultPlaceholder  = "Typing ..."
)

// Transport delivers messages to a chat channel. Send returns a handle that
// Edit accepts to overwrite the same message later.
type Transport interface {
	Send(ctx context.Context, channelID, content string) (string, error)
	Edit(ctx context.Context, channelID, messageID, content string) error
}

// HistoryReader returns the most recent completed turns of a conversation,
// oldest first.
type HistoryReader interface {
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// Completer is the language-model completion service. It owns the
// conversation-turn history unless opts.Restart is set.
type Completer interface {
	Complete(ctx context.Context, conversationID, text string, opts domain.ChatOptions) (string, error)
}

// Settings configures a Pipeline. Zero values select the defaults.
type Settings struct {
	BotID        string
	SystemPrompt string
	ErrorMessage string
	Collection   string
	Model        string
	HistoryTurns int
	ChunkSize    int
	ResetCommand string
	ResetReply   string
	Placeholder  string
}

func (s Settings) withDefaults() Settings {
	if s.HistoryTurns <= 0 {
		s.HistoryTurns = defaultHistoryTurns
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = defaultChunkSize
	}
	if strings.TrimSpace(s.ResetCommand) == "" {
		s.ResetCommand = defaultResetCommand
	}
	if s.ResetReply == "" {
		s.ResetReply = defaultResetReply
	}
	if s.Placeholder == "" {
		s.Placeholder = defaultPlaceholder
	}
	return s
}

// Outcome classifies how a message was handled.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRestarted Outcome = "restarted"
	OutcomeAnswered  Outcome = "answered"
	OutcomeFailed    Outcome = "failed"
)

// Result reports what Respond did with a message.
type Result struct {
	Outcome Outcome
	// Chunks is the number of reply chunks delivered, placeholder edit included.
	Chunks int
}

// Pipeline turns one inbound chat message into zero or more outbound messages.
type Pipeline struct {
	transport Transport
	state     *ConversationState
	history   HistoryReader
	retriever *Retriever
	completer Completer
	settings  Settings
	log       *logger.Logger
	locks     *keyedMutex
}

// NewPipeline wires the collaborators of a Pipeline. Unset settings take defaults.
func NewPipeline(t Transport, state *ConversationState, h HistoryReader, r *Retriever, c Completer, s Settings, log *logger.Logger) (*Pipeline, error) {
	if t == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	if state == nil {
		return nil, errors.New("usecase: conversation state must not be nil")
	}
	if h == nil {
		return nil, errors.New("usecase: history reader must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: retriever must not be nil")
	}
	if c == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{
		transport: t,
		state:     state,
		history:   h,
		retriever: r,
		completer: c,
		settings:  s.withDefaults(),
		log:       log,
		locks:     newKeyedMutex(),
	}, nil
}

// Respond handles one inbound message end to end. Any failure after the
// placeholder was sent is reported to the channel as the configured error
// message; the returned error carries the diagnostic detail.
func (p *Pipeline) Respond(ctx context.Context, msg domain.InboundMessage) (Result, error) {
	if !p.addressed(msg) {
		metrics.RecordTurn(string(OutcomeIgnored))
		return Result{Outcome: OutcomeIgnored}, nil
	}

	id := msg.ChannelID
	log := p.log.ForConversation(id, CorrelationID(ctx))
	log.Info("received message")

	unlock, err := p.locks.Lock(ctx, id)
	if err != nil {
		log.Warn("gave up waiting for conversation", zap.Error(err))
		metrics.RecordTurn(string(OutcomeFailed))
		return Result{Outcome: OutcomeFailed}, newError(ErrorBusy, "conversation_busy", err)
	}
	defer unlock()

	if strings.EqualFold(msg.Content, p.settings.ResetCommand) {
		return p.restart(ctx, log, id)
	}

	placeholder, err := p.transport.Send(ctx, id, p.settings.Placeholder)
	if err != nil {
		log.Error("placeholder send failed", zap.Error(err))
		metrics.RecordTurn(string(OutcomeFailed))
		return Result{Outcome: OutcomeFailed}, newError(ErrorTransport, "placeholder_send_error", err)
	}

	restart := p.state.GetRestart(ctx, id)
	history := p.userHistory(ctx, log, id, restart)
	log.Debug("question history", zap.Bool("restart", restart), zap.Strings("history", history))

	retrieved, err := p.retriever.Retrieve(ctx, RetrievalRequest{
		History:      history,
		Text:         msg.Content,
		SystemPrompt: p.settings.SystemPrompt,
		Collection:   p.settings.Collection,
	})
	if err != nil {
		if IsNoRelevantContext(err) {
			log.Info("no relevant context for question")
		}
		return p.fail(ctx, log, id, placeholder, err)
	}
	log.Debug("augmented prompt", zap.Int("passages", len(retrieved.Included)))

	start := time.Now()
	reply, err := p.completer.Complete(ctx, id, msg.Content, domain.ChatOptions{
		Model:        p.settings.Model,
		Restart:      restart,
		SystemPrompt: retrieved.Prompt,
	})
	metrics.ObserveStage("complete", start)
	if err != nil {
		return p.fail(ctx, log, id, placeholder, newError(ErrorCompletion, "completion_error", err))
	}

	chunks := SplitText(reply, p.settings.ChunkSize)
	if len(chunks) == 0 {
		return p.fail(ctx, log, id, placeholder, newError(ErrorCompletion, "empty_reply", nil))
	}
	delivered := p.dispatch(ctx, log, id, placeholder, chunks)

	if restart {
		log.Info("restarted conversation answered, clearing restart flag")
		if err := p.state.ClearAfterSuccess(ctx, id); err != nil {
			log.Error("restart flag clear failed", zap.Error(err))
		}
	}

	metrics.RecordTurn(string(OutcomeAnswered))
	log.Info("answered", zap.Int("chunks", delivered), zap.Int("passages", len(retrieved.Included)))
	return Result{Outcome: OutcomeAnswered, Chunks: delivered}, nil
}

func (p *Pipeline) addressed(msg domain.InboundMessage) bool {
	if msg.Author.Bot {
		p.log.Debug("ignored bot message", zap.String("author_id", msg.Author.ID))
		return false
	}
	if strings.TrimSpace(msg.ChannelID) == "" {
		p.log.Warn("ignored message without channel id", zap.String("message_id", msg.ID))
		return false
	}
	if !msg.IsDirect() && !msg.MentionsUser(p.settings.BotID) {
		p.log.Debug("ignored guild message", zap.String("channel_id", msg.ChannelID))
		return false
	}
	return true
}

func (p *Pipeline) restart(ctx context.Context, log *logger.Logger, id string) (Result, error) {
	if _, err := p.transport.Send(ctx, id, p.settings.ResetReply); err != nil {
		log.Warn("reset acknowledgement send failed", zap.Error(err))
	}
	if err := p.state.SetRestart(ctx, id, true); err != nil {
		log.Error("restart flag write failed", zap.Error(err))
		metrics.RecordTurn(string(OutcomeFailed))
		return Result{Outcome: OutcomeFailed}, newError(ErrorState, "restart_write_error", err)
	}
	log.Info("restarted conversation")
	metrics.RecordTurn(string(OutcomeRestarted))
	return Result{Outcome: OutcomeRestarted}, nil
}

// userHistory returns the user texts of recent turns. A restarted
// conversation starts from an empty history whatever the store holds.
func (p *Pipeline) userHistory(ctx context.Context, log *logger.Logger, id string, restart bool) []string {
	if restart {
		return nil
	}
	turns, err := p.history.GetHistory(ctx, id, p.settings.HistoryTurns)
	if err != nil {
		log.Warn("history read failed, continuing without history", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Text) != "" {
			out = append(out, t.Text)
		}
	}
	return out
}

func (p *Pipeline) fail(ctx context.Context, log *logger.Logger, id, placeholder string, err error) (Result, error) {
	log.Error("turn failed", zap.String("code", string(CodeOf(err))), zap.Error(err))
	if editErr := p.transport.Edit(ctx, id, placeholder, p.settings.ErrorMessage); editErr != nil {
		log.Error("error message delivery failed", zap.Error(editErr))
	}
	metrics.RecordTurn(string(OutcomeFailed))
	return Result{Outcome: OutcomeFailed}, err
}

// dispatch overwrites the placeholder with the first chunk and sends the rest
// in order. Delivery errors are logged; the turn already succeeded.
func (p *Pipeline) dispatch(ctx context.Context, log *logger.Logger, id, placeholder string, chunks []string) int {
	delivered := 0
	if err := p.transport.Edit(ctx, id, placeholder, chunks[0]); err != nil {
		log.Error("placeholder edit failed", zap.Error(err))
	} else {
		delivered++
	}
	for i, c := range chunks[1:] {
		if _, err := p.transport.Send(ctx, id, c); err != nil {
			log.Error("reply chunk send failed", zap.Int("chunk", i+1), zap.Error(err))
			continue
		}
		delivered++
	}
	metrics.AddChunks(delivered)
	return delivered
}

type correlationKey struct{}

// WithCorrelationID attaches a request correlation id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id attached by WithCorrelationID, or a fresh one.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return newUUID()
}

var newUUID = func() string {
	return uuid.NewString()
}
