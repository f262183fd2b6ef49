// Package config provides environment configuration for the assistant.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StateDynamoDB = "dynamodb"
	StateRedis    = "redis"

	VectorQdrant = "qdrant"
	VectorChroma = "chroma"
)

// Config holds all configuration for the application.
type Config struct {
	// Chat platform
	DiscordToken   string
	DiscordBaseURL string
	BotID          string
	SystemPrompt   string
	ErrorMessage   string
	Collection     string

	// Model provider
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	EmbeddingModel string
	OpenAIRetries  int

	// Retrieval and replies
	SearchLimit        int
	RelevanceThreshold float64
	SoftCharLimit      int
	ChunkSize          int
	HistoryTurns       int
	ContextTurns       int

	// Conversation state
	StateBackend  string
	StateTable    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// Vector index
	VectorBackend string
	QdrantURL     string
	QdrantAPIKey  string
	ChromaURL     string

	// Secrets
	ParamPrefix string

	// Worker
	NATSURL           string
	NATSSubject       string
	NATSQueue         string
	WorkerConcurrency int
	HTTPAddr          string
	RequestTimeout    time.Duration

	LogLevel string
}

// Load reads configuration from environment variables. The chat platform
// options also accept their upper-case spelling.
func Load() *Config {
	return &Config{
		DiscordToken:   getEnv("discord_token", getEnv("DISCORD_TOKEN", "")),
		DiscordBaseURL: getEnv("DISCORD_BASE_URL", ""),
		BotID:          getEnv("bot_id", getEnv("BOT_ID", "")),
		SystemPrompt:   getEnv("system_prompt", getEnv("SYSTEM_PROMPT", "")),
		ErrorMessage:   getEnv("error_mesg", getEnv("ERROR_MESG", "")),
		Collection:     getEnv("collection_name", getEnv("COLLECTION_NAME", "")),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-3.5-turbo-16k"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-ada-002"),
		OpenAIRetries:  getIntEnv("OPENAI_RETRY_TIMES", 3),

		SearchLimit:        getIntEnv("SEARCH_LIMIT", 5),
		RelevanceThreshold: getFloatEnv("RELEVANCE_THRESHOLD", 0.75),
		SoftCharLimit:      getIntEnv("SOFT_CHAR_LIMIT", 30000),
		ChunkSize:          getIntEnv("CHUNK_SIZE", 1800),
		HistoryTurns:       getIntEnv("HISTORY_TURNS", 8),
		ContextTurns:       getIntEnv("CONTEXT_TURNS", 10),

		StateBackend:  strings.ToLower(getEnv("STATE_BACKEND", StateDynamoDB)),
		StateTable:    getEnv("STATE_TABLE", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisTTL:      getDurationEnv("REDIS_TTL", 0),

		VectorBackend: strings.ToLower(getEnv("VECTOR_BACKEND", VectorQdrant)),
		QdrantURL:     getEnv("QDRANT_URL", "http://localhost:6334"),
		QdrantAPIKey:  getEnv("QDRANT_API_KEY", ""),
		ChromaURL:     getEnv("CHROMA_URL", "http://localhost:8000"),

		ParamPrefix: strings.TrimRight(getEnv("PARAM_PREFIX", ""), "/"),

		NATSURL:           getEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:       getEnv("NATS_SUBJECT", "chat.messages"),
		NATSQueue:         getEnv("NATS_QUEUE", "assistant"),
		WorkerConcurrency: getIntEnv("WORKER_CONCURRENCY", 4),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		RequestTimeout:    getDurationEnv("REQUEST_TIMEOUT", 2*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// TokenSource resolves a token stored under a parameter name.
type TokenSource interface {
	Token(ctx context.Context, name string) (string, error)
}

// NeedsSecrets reports whether ResolveSecrets has anything to fetch.
func (c *Config) NeedsSecrets() bool {
	return c.ParamPrefix != "" && (c.DiscordToken == "" || c.OpenAIAPIKey == "")
}

// ResolveSecrets fills missing tokens from the parameter store under
// ParamPrefix. Tokens set in the environment are kept.
func (c *Config) ResolveSecrets(ctx context.Context, src TokenSource) error {
	if !c.NeedsSecrets() {
		return nil
	}
	if src == nil {
		return errors.New("config: token source must not be nil")
	}
	if c.DiscordToken == "" {
		tok, err := src.Token(ctx, c.ParamPrefix+"/discord-token")
		if err != nil {
			return fmt.Errorf("config: resolve discord token: %w", err)
		}
		c.DiscordToken = tok
	}
	if c.OpenAIAPIKey == "" {
		tok, err := src.Token(ctx, c.ParamPrefix+"/open-ai-token")
		if err != nil {
			return fmt.Errorf("config: resolve openai token: %w", err)
		}
		c.OpenAIAPIKey = tok
	}
	return nil
}

// Validate reports every startup-fatal problem at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DiscordToken) == "" {
		errs = append(errs, errors.New("discord_token is required"))
	}
	if _, err := strconv.ParseUint(strings.TrimSpace(c.BotID), 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("bot_id must be a numeric user id, got %q", c.BotID))
	}
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}

	switch c.StateBackend {
	case StateDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb state backend"))
		}
	case StateRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis state backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend))
	}

	switch c.VectorBackend {
	case VectorQdrant:
		if strings.TrimSpace(c.QdrantURL) == "" {
			errs = append(errs, errors.New("QDRANT_URL is required for the qdrant vector backend"))
		}
	case VectorChroma:
		if strings.TrimSpace(c.ChromaURL) == "" {
			errs = append(errs, errors.New("CHROMA_URL is required for the chroma vector backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
