package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"channel-assistant/internal/domain"
)

const defaultContextTurns = 10

type Chatter interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// TurnStore persists the conversation turns replayed into each completion.
type TurnStore interface {
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	SaveCompletedTurn(ctx context.Context, conversationID, question, answer string, reset bool) error
}

// Completer is a conversation-aware completion service: it replays prior turns
// of a conversation and records each answered turn.
type Completer struct {
	chat         Chatter
	turns        TurnStore
	contextTurns int
}

func NewCompleter(chat Chatter, turns TurnStore, contextTurns int) (*Completer, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client must not be nil")
	}
	if turns == nil {
		return nil, errors.New("openai: turn store must not be nil")
	}
	if contextTurns <= 0 {
		contextTurns = defaultContextTurns
	}
	return &Completer{chat: chat, turns: turns, contextTurns: contextTurns}, nil
}

// Complete answers text within the conversation. With opts.Restart the prior
// turns are neither replayed nor reachable afterwards.
func (c *Completer) Complete(ctx context.Context, conversationID, text string, opts domain.ChatOptions) (string, error) {
	var history []domain.Message
	if !opts.Restart {
		var err error
		history, err = c.turns.GetHistory(ctx, conversationID, c.contextTurns)
		if err != nil {
			return "", fmt.Errorf("openai: load history: %w", err)
		}
	}

	reply, err := c.chat.Chat(ctx, opts.Model, buildPromptMessages(opts.SystemPrompt, text, history))
	if err != nil {
		return "", err
	}

	if err := c.turns.SaveCompletedTurn(ctx, conversationID, text, reply, opts.Restart); err != nil {
		return "", fmt.Errorf("openai: save turn: %w", err)
	}
	return reply, nil
}

func buildPromptMessages(systemPrompt, question string, history []domain.Message) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, 2*len(history)+2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, historyToPromptMessages(m)...)
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: question})
}

func historyToPromptMessages(m domain.Message) []domain.ChatMessage {
	if m.Status != domain.StatusComplete {
		return nil
	}
	question := strings.TrimSpace(m.Text)
	answer := strings.TrimSpace(m.Answer)
	if question == "" || answer == "" {
		return nil
	}
	return []domain.ChatMessage{
		{Role: domain.RoleUser, Content: question},
		{Role: domain.RoleAssistant, Content: answer},
	}
}
