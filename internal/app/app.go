// Package app assembles the assistant from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"channel-assistant/internal/config"
	"channel-assistant/internal/integrations/discord"
	"channel-assistant/internal/integrations/openai"
	"channel-assistant/internal/integrations/paramstore"
	"channel-assistant/internal/integrations/vectorstore"
	"channel-assistant/internal/repository"
	"channel-assistant/internal/usecase"
	"channel-assistant/pkg/logger"
)

// turnStore is what both conversation stores provide.
type turnStore interface {
	usecase.FlagStore
	usecase.HistoryReader
	openai.TurnStore
}

// App is a fully wired pipeline plus the resources it holds.
type App struct {
	Pipeline *usecase.Pipeline

	closers []func() error
}

// Build resolves secrets, validates cfg and wires every collaborator.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load aws config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	if cfg.NeedsSecrets() {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		params, err := paramstore.New(awsssm.NewFromConfig(c))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if err := cfg.ResolveSecrets(ctx, params); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var store turnStore
	switch cfg.StateBackend {
	case config.StateRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		rs, err := repository.NewRedisStore(rdb, "assistant:", cfg.RedisTTL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		store = rs
	default:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		ds, err := repository.New(awsdynamodb.NewFromConfig(c), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		store = ds
	}

	var index usecase.VectorIndex
	switch cfg.VectorBackend {
	case config.VectorChroma:
		ch, err := vectorstore.NewChroma(cfg.ChromaURL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		index = ch
	default:
		q, err := vectorstore.NewQdrant(cfg.QdrantURL, vectorstore.WithQdrantAPIKey(cfg.QdrantAPIKey))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, q.Close)
		index = q
	}

	ai, err := openai.NewClient(cfg.OpenAIAPIKey,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
		openai.WithRetries(cfg.OpenAIRetries),
		openai.WithHTTPClient(&http.Client{Timeout: 90 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	completer, err := openai.NewCompleter(ai, store, cfg.ContextTurns)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	transport, err := discord.NewClient(cfg.DiscordToken, discord.WithBaseURL(cfg.DiscordBaseURL))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	pipeline, err := Assemble(Parts{
		Transport: transport,
		Flags:     store,
		History:   store,
		Embedder:  ai,
		Index:     index,
		Completer: completer,
	}, cfg, log)
	if err != nil {
		return nil, err
	}
	a.Pipeline = pipeline

	log.Info("assistant assembled")
	return a, nil
}

// Parts are the collaborators a pipeline is assembled from.
type Parts struct {
	Transport usecase.Transport
	Flags     usecase.FlagStore
	History   usecase.HistoryReader
	Embedder  usecase.Embedder
	Index     usecase.VectorIndex
	Completer usecase.Completer
}

// Assemble builds the pipeline from already constructed collaborators.
func Assemble(p Parts, cfg *config.Config, log *logger.Logger) (*usecase.Pipeline, error) {
	state, err := usecase.NewConversationState(p.Flags, log)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	retriever, err := usecase.NewRetriever(p.Embedder, p.Index, usecase.RetrieverConfig{
		Limit:              cfg.SearchLimit,
		RelevanceThreshold: usecase.Threshold(cfg.RelevanceThreshold),
		SoftCharLimit:      cfg.SoftCharLimit,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	pipeline, err := usecase.NewPipeline(p.Transport, state, p.History, retriever, p.Completer, usecase.Settings{
		BotID:        cfg.BotID,
		SystemPrompt: cfg.SystemPrompt,
		ErrorMessage: cfg.ErrorMessage,
		Collection:   cfg.Collection,
		Model:        cfg.OpenAIModel,
		HistoryTurns: cfg.HistoryTurns,
		ChunkSize:    cfg.ChunkSize,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return pipeline, nil
}

// Close releases held connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

var (
	_ usecase.Completer   = (*openai.Completer)(nil)
	_ usecase.Transport   = (*discord.Client)(nil)
	_ usecase.Embedder    = (*openai.Client)(nil)
	_ usecase.VectorIndex = (*vectorstore.Qdrant)(nil)
	_ usecase.VectorIndex = (*vectorstore.Chroma)(nil)
	_ turnStore           = (*repository.Client)(nil)
	_ turnStore           = (*repository.RedisStore)(nil)
)
