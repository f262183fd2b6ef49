package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goopenai "github.com/sashabaranov/go-openai"

	"channel-assistant/internal/domain"
)

const (
	defaultEmbeddingModel = string(goopenai.AdaEmbeddingV2)
	defaultRetries        = 3
	defaultRetryBackoff   = 500 * time.Millisecond
)

// api is the subset of *goopenai.Client used here.
type api interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, conv goopenai.EmbeddingRequestConverter) (goopenai.EmbeddingResponse, error)
}

// Client is a focused OpenAI client for embeddings and chat completions with
// bounded retries on transient failures.
type Client struct {
	api            api
	embeddingModel string
	retries        int
	backoff        time.Duration
}

type config struct {
	baseURL        string
	httpClient     *http.Client
	embeddingModel string
	retries        int
	backoff        time.Duration
}

type Option func(*config)

func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *config) {
		c.httpClient = httpClient
	}
}

func WithEmbeddingModel(model string) Option {
	return func(c *config) {
		c.embeddingModel = strings.TrimSpace(model)
	}
}

// WithRetries sets how many times a failed call is retried. Negative values
// are ignored.
func WithRetries(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.retries = n
		}
	}
}

func WithRetryBackoff(d time.Duration) Option {
	return func(c *config) {
		c.backoff = d
	}
}

// NewClient creates a Client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	cfg := config{
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		embeddingModel: defaultEmbeddingModel,
		retries:        defaultRetries,
		backoff:        defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.embeddingModel == "" {
		cfg.embeddingModel = defaultEmbeddingModel
	}

	clientCfg := goopenai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.baseURL, "/")
	}
	if cfg.httpClient != nil {
		clientCfg.HTTPClient = cfg.httpClient
	}

	return &Client{
		api:            goopenai.NewClientWithConfig(clientCfg),
		embeddingModel: cfg.embeddingModel,
		retries:        cfg.retries,
		backoff:        cfg.backoff,
	}, nil
}

// Embed returns the embedding of text. An empty slice with a nil error means
// the provider answered without any vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp goopenai.EmbeddingResponse
	err := c.withRetry(ctx, func() error {
		var err error
		resp, err = c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
			Input: []string{text},
			Model: goopenai.EmbeddingModel(c.embeddingModel),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return []float32{}, nil
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("openai: model must not be empty")
	}

	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]goopenai.ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	var resp goopenai.ChatCompletionResponse
	err := c.withRetry(ctx, func() error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) withRetry(ctx context.Context, call func() error) error {
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.backoff),
		backoff.WithMaxElapsedTime(0),
	)
	var last error
	err := backoff.Retry(func() error {
		last = call()
		if last != nil && !retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.retries)), ctx))
	if err != nil && last != nil && !errors.Is(err, last) {
		return errors.Join(last, err)
	}
	return err
}

// StatusCode extracts the upstream HTTP status from an OpenAI error.
func StatusCode(err error) (int, bool) {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	status, ok := StatusCode(err)
	if !ok || status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}
