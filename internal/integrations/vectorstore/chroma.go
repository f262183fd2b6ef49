package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"channel-assistant/internal/domain"
)

const (
	defaultTenant   = "default_tenant"
	defaultDatabase = "default_database"
)

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

type chromaQueryResponse struct {
	IDs       [][]string   `json:"ids"`
	Documents [][]*string  `json:"documents"`
	Distances [][]*float64 `json:"distances"`
}

// Chroma queries collections through the Chroma v2 REST API. Collection ids
// are resolved by name once and cached.
type Chroma struct {
	baseURL    string
	httpClient *http.Client

	mu  sync.Mutex
	ids map[string]string
}

type ChromaOption func(*chromaOptions)

type chromaOptions struct {
	tenant     string
	database   string
	httpClient *http.Client
}

func WithChromaTenant(tenant, database string) ChromaOption {
	return func(o *chromaOptions) {
		o.tenant = tenant
		o.database = database
	}
}

func WithChromaHTTPClient(hc *http.Client) ChromaOption {
	return func(o *chromaOptions) {
		o.httpClient = hc
	}
}

func NewChroma(serverURL string, opts ...ChromaOption) (*Chroma, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if serverURL == "" {
		return nil, errors.New("vectorstore: chroma url must not be empty")
	}
	o := chromaOptions{
		tenant:     defaultTenant,
		database:   defaultDatabase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Chroma{
		baseURL:    fmt.Sprintf("%s/api/v2/tenants/%s/databases/%s", serverURL, url.PathEscape(o.tenant), url.PathEscape(o.database)),
		httpClient: o.httpClient,
		ids:        make(map[string]string),
	}, nil
}

// Search returns the documents nearest to vector with score 1 - distance.
func (c *Chroma) Search(ctx context.Context, collection string, vector []float32, limit int) ([]domain.Passage, error) {
	id, err := c.collectionID(ctx, collection)
	if err != nil {
		return nil, err
	}

	var resp chromaQueryResponse
	err = doJSON(ctx, c.httpClient, http.MethodPost, fmt.Sprintf("%s/collections/%s/query", c.baseURL, id), nil, chromaQueryRequest{
		QueryEmbeddings: [][]float32{vector},
		NResults:        limit,
		Include:         []string{"documents", "distances"},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: chroma query %q: %w", collection, err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	passages := make([]domain.Passage, 0, len(resp.IDs[0]))
	for i, pid := range resp.IDs[0] {
		p := domain.Passage{ID: pid}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) && resp.Distances[0][i] != nil {
			p.Score = 1 - *resp.Distances[0][i]
		}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			p.Text = *resp.Documents[0][i]
			p.HasText = true
		}
		passages = append(passages, p)
	}
	return passages, nil
}

func (c *Chroma) collectionID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.ids[name]; ok {
		return id, nil
	}
	var coll chromaCollection
	if err := doJSON(ctx, c.httpClient, http.MethodGet, fmt.Sprintf("%s/collections/%s", c.baseURL, url.PathEscape(name)), nil, nil, &coll); err != nil {
		return "", fmt.Errorf("vectorstore: chroma get collection %q: %w", name, err)
	}
	if coll.ID == "" {
		return "", fmt.Errorf("vectorstore: chroma collection %q has no id", name)
	}
	c.ids[name] = coll.ID
	return coll.ID, nil
}
