package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"channel-assistant/internal/domain"
)

const maxStoredTurns = 100

// redisAPI is the subset of *redis.Client used by RedisStore.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// storedTurn is the JSON form of a turn kept in a Redis list.
type storedTurn struct {
	Text   string    `json:"text"`
	Answer string    `json:"answer"`
	At     time.Time `json:"at"`
}

// RedisStore keeps string flags under prefix+key and conversation turns in a
// list under prefix+"turns:"+id. A zero ttl keeps keys forever.
type RedisStore struct {
	rdb    redisAPI
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(rdb redisAPI, prefix string, ttl time.Duration) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}, nil
}

func (s *RedisStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository: redis get %q: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) SetValue(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("repository: redis set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) turnsKey(conversationID string) string {
	return s.prefix + "turns:" + conversationID
}

// GetHistory returns up to limit of the most recent turns, oldest first.
func (s *RedisStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.rdb.LRange(ctx, s.turnsKey(conversationID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("repository: redis history %q: %w", conversationID, err)
	}

	msgs := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var t storedTurn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("repository: decode turn: %w", err)
		}
		msgs = append(msgs, domain.Message{
			ConversationID: conversationID,
			SK:             msgSK(t.At),
			Text:           t.Text,
			Answer:         t.Answer,
			Status:         domain.StatusComplete,
		})
	}
	return msgs, nil
}

// SaveCompletedTurn appends a turn. With reset the earlier turns are dropped.
func (s *RedisStore) SaveCompletedTurn(ctx context.Context, conversationID, question, answer string, reset bool) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: SaveCompletedTurn: conversation id is required")
	}
	key := s.turnsKey(conversationID)
	raw, err := json.Marshal(storedTurn{Text: question, Answer: answer, At: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("repository: encode turn: %w", err)
	}

	if reset {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("repository: redis reset %q: %w", conversationID, err)
		}
	}
	if err := s.rdb.RPush(ctx, key, string(raw)).Err(); err != nil {
		return fmt.Errorf("repository: redis append turn %q: %w", conversationID, err)
	}
	if err := s.rdb.LTrim(ctx, key, -maxStoredTurns, -1).Err(); err != nil {
		return fmt.Errorf("repository: redis trim %q: %w", conversationID, err)
	}
	if s.ttl > 0 {
		if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("repository: redis expire %q: %w", conversationID, err)
		}
	}
	return nil
}
