package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"channel-assistant/pkg/logger"
)

// FlagStore is the key-value persistence consumed by ConversationState.
// Implementations must provide atomic get/set per key.
type FlagStore interface {
	GetValue(ctx context.Context, key string) (value string, found bool, err error)
	SetValue(ctx context.Context, key, value string) error
}

// ConversationState tracks the per-conversation restart flag.
type ConversationState struct {
	store FlagStore
	log   *logger.Logger
}

func NewConversationState(store FlagStore, log *logger.Logger) (*ConversationState, error) {
	if store == nil {
		return nil, errors.New("usecase: flag store must not be nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ConversationState{store: store, log: log}, nil
}

// GetRestart returns the persisted restart flag for id. A missing, unreadable
// or malformed value reads as false.
func (s *ConversationState) GetRestart(ctx context.Context, id string) bool {
	v, found, err := s.store.GetValue(ctx, id)
	if err != nil {
		s.log.Warn("restart flag read failed", zap.String("conversation_id", id), zap.Error(err))
		return false
	}
	if !found {
		return false
	}
	restart, err := strconv.ParseBool(v)
	if err != nil {
		s.log.Warn("restart flag malformed", zap.String("conversation_id", id), zap.String("value", v))
		return false
	}
	return restart
}

func (s *ConversationState) SetRestart(ctx context.Context, id string, restart bool) error {
	if err := s.store.SetValue(ctx, id, strconv.FormatBool(restart)); err != nil {
		return fmt.Errorf("usecase: set restart flag: %w", err)
	}
	return nil
}

// ClearAfterSuccess resets the flag once a restarted turn has been answered.
func (s *ConversationState) ClearAfterSuccess(ctx context.Context, id string) error {
	return s.SetRestart(ctx, id, false)
}
