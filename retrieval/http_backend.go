package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hoferino/manda-platform-sub000/types"
)

// HTTPBackendConfig configures one retrieval tier reached over HTTP.
type HTTPBackendConfig struct {
	// Name labels the tier ("knowledge_graph", "vector_chunks").
	Name string `yaml:"name" json:"name"`

	// BaseURL of the search service; queries go to BaseURL + "/search".
	BaseURL string `yaml:"base_url" json:"base_url"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Timeout bounds each search call end to end.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// RateLimit caps outbound queries per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// RateBurst is the limiter burst size.
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// Validate reports configuration defects; called at construction so a
// missing URL fails at startup, not mid-conversation.
func (c HTTPBackendConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("backend name is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("backend %s: base_url is required", c.Name)
	}
	return nil
}

// searchRequest is the wire shape consumed by both tiers.
type searchRequest struct {
	Query      string `json:"query"`
	ScopeID    string `json:"scope_id"`
	NumResults int    `json:"num_results"`
}

type searchResponse struct {
	Results []struct {
		Content     string  `json:"content"`
		Score       float64 `json:"score"`
		SourceLabel string  `json:"source_label"`
		SourcePage  int     `json:"source_page,omitempty"`
	} `json:"results"`
}

// HTTPBackend queries a retrieval service over HTTP. Outbound traffic is
// rate limited so a retrieval storm cannot saturate the knowledge store.
type HTTPBackend struct {
	config  HTTPBackendConfig
	client  *http.Client
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewHTTPBackend creates a backend for config. Configuration defects fail
// here, at construction.
func NewHTTPBackend(config HTTPBackendConfig, logger *zap.Logger) (*HTTPBackend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &HTTPBackend{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: limiter,
		tracer:  otel.Tracer("retrieval"),
		logger:  logger.With(zap.String("component", "retrieval_backend"), zap.String("backend", config.Name)),
	}, nil
}

// Name returns the configured tier name.
func (b *HTTPBackend) Name() string {
	return b.config.Name
}

// Search issues the query and maps the response to knowledge items.
func (b *HTTPBackend) Search(ctx context.Context, query, scopeID string, numResults int) ([]types.KnowledgeItem, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	ctx, span := b.tracer.Start(ctx, "retrieval.search",
		trace.WithAttributes(
			attribute.String("backend", b.config.Name),
			attribute.String("scope_id", scopeID),
			attribute.Int("num_results", numResults),
		))
	defer span.End()

	body, err := json.Marshal(searchRequest{
		Query:      query,
		ScopeID:    scopeID,
		NumResults: numResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", b.config.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search %s: status %d", b.config.Name, resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]types.KnowledgeItem, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		items = append(items, types.KnowledgeItem{
			Content:     r.Content,
			Score:       r.Score,
			SourceLabel: r.SourceLabel,
			SourcePage:  r.SourcePage,
		})
	}

	span.SetAttributes(attribute.Int("result_count", len(items)))
	return items, nil
}
