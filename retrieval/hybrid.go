package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hoferino/manda-platform-sub000/types"
)

// Config configures the two-tier retriever.
type Config struct {
	// NumResults is the default truncation bound per call.
	NumResults int `yaml:"num_results" json:"num_results"`

	// ScoreThreshold filters low-relevance noise before truncation.
	ScoreThreshold float64 `yaml:"score_threshold" json:"score_threshold"`

	// PrimaryTimeout bounds the graph-aware tier.
	PrimaryTimeout time.Duration `yaml:"primary_timeout" json:"primary_timeout"`

	// FallbackTimeout bounds the vector tier; the fallback path must
	// complete well under the user-facing latency budget.
	FallbackTimeout time.Duration `yaml:"fallback_timeout" json:"fallback_timeout"`

	// SlowQueryThreshold triggers a warning log when a tier exceeds it,
	// so operators can detect index degradation.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" json:"slow_query_threshold"`
}

// DefaultConfig returns retrieval defaults.
func DefaultConfig() Config {
	return Config{
		NumResults:         5,
		ScoreThreshold:     0.3,
		PrimaryTimeout:     2 * time.Second,
		FallbackTimeout:    500 * time.Millisecond,
		SlowQueryThreshold: 500 * time.Millisecond,
	}
}

// MetricsSink receives per-tier retrieval events for export.
// Implementations must be safe for concurrent use.
type MetricsSink interface {
	RecordRetrieval(tier, status string, duration time.Duration)
	RecordTierFallback()
}

// Options tweaks a single Retrieve call.
type Options struct {
	// ForcePrimaryOnly skips the fallback tier even when primary is empty.
	ForcePrimaryOnly bool

	// ForceFallbackOnly skips primary entirely; used when the caller wants
	// the fastest path, e.g. a just-uploaded document not yet graph-indexed.
	ForceFallbackOnly bool
}

// HybridRetriever queries the primary tier first and falls back to the
// secondary tier when primary returns nothing. Tier faults are recovered
// here: callers see a (possibly empty) result, or an error only when
// every queried tier failed outright.
type HybridRetriever struct {
	config   Config
	primary  SearchBackend
	fallback SearchBackend
	tracer   trace.Tracer
	metrics  MetricsSink // nil disables reporting; set before first use
	logger   *zap.Logger
}

// NewHybridRetriever wires the two tiers. Both backends are required.
func NewHybridRetriever(config Config, primary, fallback SearchBackend, logger *zap.Logger) (*HybridRetriever, error) {
	if primary == nil || fallback == nil {
		return nil, fmt.Errorf("hybrid retriever requires both a primary and a fallback backend")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.NumResults <= 0 {
		config.NumResults = defaults.NumResults
	}
	if config.ScoreThreshold <= 0 {
		config.ScoreThreshold = defaults.ScoreThreshold
	}
	if config.PrimaryTimeout <= 0 {
		config.PrimaryTimeout = defaults.PrimaryTimeout
	}
	if config.FallbackTimeout <= 0 {
		config.FallbackTimeout = defaults.FallbackTimeout
	}
	if config.SlowQueryThreshold <= 0 {
		config.SlowQueryThreshold = defaults.SlowQueryThreshold
	}
	return &HybridRetriever{
		config:   config,
		primary:  primary,
		fallback: fallback,
		tracer:   otel.Tracer("retrieval"),
		logger:   logger.With(zap.String("component", "hybrid_retriever")),
	}, nil
}

// SetMetrics attaches a sink for tier events. Call during wiring, before
// the retriever serves traffic.
func (r *HybridRetriever) SetMetrics(sink MetricsSink) {
	r.metrics = sink
}

// Retrieve runs the tier state machine for one query. numResults <= 0
// uses the configured default.
func (r *HybridRetriever) Retrieve(ctx context.Context, query, scopeID string, numResults int, opts Options) (types.RetrievalResult, error) {
	if numResults <= 0 {
		numResults = r.config.NumResults
	}

	ctx, span := r.tracer.Start(ctx, "retrieval.retrieve",
		trace.WithAttributes(attribute.String("scope_id", scopeID)))
	defer span.End()

	start := time.Now()

	tiers := r.tierPlan(opts)
	var lastErr error
	result := types.RetrievalResult{Items: []types.KnowledgeItem{}}

	for i, tier := range tiers {
		items, err := r.queryTier(ctx, tier, query, scopeID, numResults)
		result.Tier = tier.tier
		if err != nil {
			lastErr = err
			r.logger.Warn("retrieval tier failed",
				zap.String("backend", tier.backend.Name()),
				zap.String("tier", string(tier.tier)),
				zap.Error(err))
			if i+1 < len(tiers) {
				r.noteTierFallback()
			}
			continue
		}
		lastErr = nil
		if len(items) > 0 {
			result.Items = items
			break
		}
		if i+1 < len(tiers) {
			// Empty primary is the fallback trigger, not a failure.
			r.logger.Info("primary tier empty, falling back",
				zap.String("scope_id", scopeID))
			r.noteTierFallback()
		}
	}

	result.LatencyMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.String("tier", string(result.Tier)),
		attribute.Int("result_count", len(result.Items)),
		attribute.Int64("latency_ms", result.LatencyMs),
	)

	if lastErr != nil && result.Empty() {
		return result, fmt.Errorf("all retrieval tiers failed: %w", lastErr)
	}
	return result, nil
}

type tierSpec struct {
	backend SearchBackend
	tier    types.Tier
	timeout time.Duration
}

func (r *HybridRetriever) tierPlan(opts Options) []tierSpec {
	primary := tierSpec{backend: r.primary, tier: types.TierPrimary, timeout: r.config.PrimaryTimeout}
	fallback := tierSpec{backend: r.fallback, tier: types.TierFallback, timeout: r.config.FallbackTimeout}

	switch {
	case opts.ForceFallbackOnly:
		return []tierSpec{fallback}
	case opts.ForcePrimaryOnly:
		return []tierSpec{primary}
	default:
		return []tierSpec{primary, fallback}
	}
}

// queryTier runs one backend with its timeout and sanitizes the batch.
func (r *HybridRetriever) queryTier(ctx context.Context, tier tierSpec, query, scopeID string, numResults int) ([]types.KnowledgeItem, error) {
	tctx, cancel := context.WithTimeout(ctx, tier.timeout)
	defer cancel()

	start := time.Now()
	items, err := tier.backend.Search(tctx, query, scopeID, numResults)
	elapsed := time.Since(start)

	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordRetrieval(string(tier.tier), status, elapsed)
	}

	if elapsed > r.config.SlowQueryThreshold {
		r.logger.Warn("slow retrieval tier",
			zap.String("backend", tier.backend.Name()),
			zap.String("tier", string(tier.tier)),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", r.config.SlowQueryThreshold))
	}
	if err != nil {
		return nil, err
	}
	return r.sanitize(items, tier, numResults), nil
}

// sanitize drops items without provenance (a backend contract violation,
// logged but never fatal), filters by score threshold, sorts descending,
// and truncates to numResults.
func (r *HybridRetriever) sanitize(items []types.KnowledgeItem, tier tierSpec, numResults int) []types.KnowledgeItem {
	kept := make([]types.KnowledgeItem, 0, len(items))
	for _, item := range items {
		if item.SourceLabel == "" {
			r.logger.Warn("dropping retrieval item without provenance",
				zap.String("backend", tier.backend.Name()),
				zap.String("content_prefix", prefix(item.Content, 60)))
			continue
		}
		if item.Score < r.config.ScoreThreshold {
			continue
		}
		kept = append(kept, item)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	if len(kept) > numResults {
		kept = kept[:numResults]
	}
	return kept
}

func (r *HybridRetriever) noteTierFallback() {
	if r.metrics != nil {
		r.metrics.RecordTierFallback()
	}
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
