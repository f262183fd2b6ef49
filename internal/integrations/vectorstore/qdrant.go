package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"channel-assistant/internal/domain"
)

// TextField is the payload key holding a passage's text.
const TextField = "text"

const defaultQdrantPort = 6334

// pointQuerier is the slice of the Qdrant client the adapter uses.
type pointQuerier interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Qdrant searches collections over the Qdrant gRPC API.
type Qdrant struct {
	api    pointQuerier
	client *qdrant.Client
}

type qdrantSettings struct {
	apiKey string
}

type QdrantOption func(*qdrantSettings)

func WithQdrantAPIKey(key string) QdrantOption {
	return func(s *qdrantSettings) {
		s.apiKey = strings.TrimSpace(key)
	}
}

// NewQdrant connects to the gRPC endpoint named by rawURL. An https scheme
// enables TLS and a missing port means 6334.
func NewQdrant(rawURL string, opts ...QdrantOption) (*Qdrant, error) {
	cfg, err := qdrantConfig(rawURL)
	if err != nil {
		return nil, err
	}
	var s qdrantSettings
	for _, opt := range opts {
		opt(&s)
	}
	cfg.APIKey = s.apiKey

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant client: %w", err)
	}
	return &Qdrant{api: client, client: client}, nil
}

func newQdrantWithAPI(api pointQuerier) (*Qdrant, error) {
	if api == nil {
		return nil, errors.New("vectorstore: qdrant api must not be nil")
	}
	return &Qdrant{api: api}, nil
}

func qdrantConfig(rawURL string) (*qdrant.Config, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("vectorstore: qdrant url must not be empty")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("vectorstore: qdrant url %q has no host", rawURL)
	}

	port := defaultQdrantPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: qdrant port: %w", err)
		}
	}
	return &qdrant.Config{
		Host:                   u.Hostname(),
		Port:                   port,
		UseTLS:                 u.Scheme == "https" || u.Scheme == "grpcs",
		PoolSize:               1,
		SkipCompatibilityCheck: true,
	}, nil
}

// Search returns the points nearest to vector, best first.
func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, limit int) ([]domain.Passage, error) {
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if limit > 0 {
		req.Limit = qdrant.PtrOf(uint64(limit))
	}

	points, err := q.api.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant search %q: %w", collection, err)
	}

	passages := make([]domain.Passage, 0, len(points))
	for _, p := range points {
		text, ok := payloadText(p.GetPayload())
		passages = append(passages, domain.Passage{
			ID:      pointID(p.GetId()),
			Score:   float64(p.GetScore()),
			Text:    text,
			HasText: ok,
		})
	}
	return passages, nil
}

// Close releases the gRPC connection.
func (q *Qdrant) Close() error {
	if q.client == nil {
		return nil
	}
	return q.client.Close()
}

func payloadText(payload map[string]*qdrant.Value) (string, bool) {
	v, ok := payload[TextField]
	if !ok {
		return "", false
	}
	s, ok := v.GetKind().(*qdrant.Value_StringValue)
	if !ok {
		return "", false
	}
	return s.StringValue, true
}

// pointID renders a numeric or UUID point id as a string.
func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u, ok := id.GetPointIdOptions().(*qdrant.PointId_Uuid); ok {
		return u.Uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}
