package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"channel-assistant/internal/domain"
	"channel-assistant/pkg/logger"
	"channel-assistant/pkg/metrics"
)

const (
	defaultSearchLimit        = 5
	defaultRelevanceThreshold = 0.75
	defaultSoftCharLimit      = 30000
	passagePreviewLen         = 256
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorIndex interface {
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]domain.Passage, error)
}

// RetrieverConfig holds the retrieval tunables. Zero values select the
// defaults. A nil RelevanceThreshold selects 0.75; any set value, zero and
// negative included, is used as given.
type RetrieverConfig struct {
	Limit              int
	RelevanceThreshold *float64
	SoftCharLimit      int
}

// Threshold returns a RelevanceThreshold set to v.
func Threshold(v float64) *float64 {
	return &v
}

func (c RetrieverConfig) withDefaults() RetrieverConfig {
	if c.Limit <= 0 {
		c.Limit = defaultSearchLimit
	}
	if c.RelevanceThreshold == nil {
		c.RelevanceThreshold = Threshold(defaultRelevanceThreshold)
	} else {
		c.RelevanceThreshold = Threshold(*c.RelevanceThreshold)
	}
	if c.SoftCharLimit <= 0 {
		c.SoftCharLimit = defaultSoftCharLimit
	}
	return c
}

// RetrievalRequest is the question to answer and where to look for context.
type RetrievalRequest struct {
	// History holds prior user turns, oldest first.
	History      []string
	Text         string
	SystemPrompt string
	Collection   string
}

// RetrievalResult is the augmented prompt and the passages that went into it.
type RetrievalResult struct {
	Prompt   string
	Included []domain.Passage
}

// Retriever augments a system prompt with passages relevant to the question.
type Retriever struct {
	embedder Embedder
	index    VectorIndex
	cfg      RetrieverConfig
	log      *logger.Logger
}

// NewRetriever builds a Retriever, filling unset tunables with defaults.
func NewRetriever(e Embedder, idx VectorIndex, cfg RetrieverConfig, log *logger.Logger) (*Retriever, error) {
	if e == nil {
		return nil, errors.New("usecase: embedder must not be nil")
	}
	if idx == nil {
		return nil, errors.New("usecase: vector index must not be nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Retriever{embedder: e, index: idx, cfg: cfg.withDefaults(), log: log}, nil
}

// Retrieve embeds the question (history included), searches the index and
// appends every passage scoring above the relevance threshold until the
// prompt grows past the soft character limit. The limit is checked before
// each append, so the last accepted passage may overshoot it.
func (r *Retriever) Retrieve(ctx context.Context, req RetrievalRequest) (RetrievalResult, error) {
	question := questionText(req.History, req.Text)
	r.log.Debug("embedding question", zap.Int("history_turns", len(req.History)), zap.Int("chars", utf8.RuneCountInString(question)))

	start := time.Now()
	vector, err := r.embedder.Embed(ctx, question)
	metrics.ObserveStage("embed", start)
	if err != nil {
		return RetrievalResult{}, newError(ErrorEmbedding, "embedding_error", err)
	}
	if len(vector) == 0 {
		return RetrievalResult{}, newError(ErrorEmbedding, "empty_embedding", nil)
	}

	start = time.Now()
	passages, err := r.index.Search(ctx, req.Collection, vector, r.cfg.Limit)
	metrics.ObserveStage("search", start)
	if err != nil {
		return RetrievalResult{}, newError(ErrorSearch, "search_error", err)
	}

	var b strings.Builder
	b.WriteString(req.SystemPrompt)
	size := utf8.RuneCountInString(req.SystemPrompt)
	var included []domain.Passage
	for _, p := range passages {
		if size > r.cfg.SoftCharLimit {
			break
		}
		if !p.HasText {
			r.log.Warn("passage payload has no text", zap.String("passage_id", p.ID), zap.Float64("score", p.Score))
			continue
		}
		r.log.Debug("received passage", zap.Float64("score", p.Score), zap.String("text", preview(p.Text, passagePreviewLen)))
		if p.Score > *r.cfg.RelevanceThreshold {
			b.WriteString("\n")
			b.WriteString(p.Text)
			size += 1 + utf8.RuneCountInString(p.Text)
			included = append(included, p)
		}
	}
	metrics.RecordPassages(len(included))

	prompt := b.String()
	if prompt == req.SystemPrompt {
		return RetrievalResult{}, newError(ErrorNoRelevantContext, "no_relevant_context", nil)
	}
	return RetrievalResult{Prompt: prompt, Included: included}, nil
}

func questionText(history []string, text string) string {
	if len(history) == 0 {
		return text
	}
	parts := make([]string, 0, len(history)+1)
	parts = append(parts, history...)
	return strings.Join(append(parts, text), "\n")
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
