package hook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hoferino/manda-platform-sub000/cache"
	"github.com/hoferino/manda-platform-sub000/intent"
	"github.com/hoferino/manda-platform-sub000/retrieval"
	"github.com/hoferino/manda-platform-sub000/tokenizer"
	"github.com/hoferino/manda-platform-sub000/types"
)

const (
	// defaultTokenBudget caps the injected context block.
	defaultTokenBudget = 2000

	// defaultLatencyWarnThreshold flags invocations that blow the
	// user-facing budget. Warn, never error.
	defaultLatencyWarnThreshold = 500 * time.Millisecond

	directiveHeader = "Relevant knowledge retrieved for the current question. " +
		"Cite sources when you use these facts:"
)

// Retriever is the slice of HybridRetriever the hook depends on.
type Retriever interface {
	Retrieve(ctx context.Context, query, scopeID string, numResults int, opts retrieval.Options) (types.RetrievalResult, error)
}

// Config tunes a Hook.
type Config struct {
	// TokenBudget bounds the formatted context string.
	TokenBudget int `yaml:"token_budget" json:"token_budget"`

	// NumResults is passed through to the retriever.
	NumResults int `yaml:"num_results" json:"num_results"`

	// LatencyWarnThreshold logs a warning when a full invocation
	// exceeds it.
	LatencyWarnThreshold time.Duration `yaml:"latency_warn_threshold" json:"latency_warn_threshold"`
}

// DefaultConfig returns hook defaults.
func DefaultConfig() Config {
	return Config{
		TokenBudget:          defaultTokenBudget,
		LatencyWarnThreshold: defaultLatencyWarnThreshold,
	}
}

// Result reports one hook invocation.
type Result struct {
	// Messages is the augmented list, or the caller's original list
	// untouched when nothing was injected.
	Messages []types.Message

	// LatencyMs covers the whole invocation including retrieval.
	LatencyMs int64

	// CacheHit is true when the context came from the topic cache.
	CacheHit bool

	// Skipped is true when the utterance did not warrant retrieval.
	Skipped bool

	// Tier records which retrieval tier served a cache miss. Empty on
	// skip, cache hit, or retrieval failure.
	Tier types.Tier
}

// Hook wires classifier, keyer, cache and retriever into the
// pre-response pipeline. All collaborators are injected; the hook holds
// no global state.
type Hook struct {
	config     Config
	classifier *intent.Classifier
	keyer      *cache.TopicKeyer
	contexts   *cache.KeyedCache[string]
	retriever  Retriever
	counter    tokenizer.Counter
	group      singleflight.Group
	tracer     trace.Tracer
	logger     *zap.Logger
}

// New constructs a Hook. Every collaborator except the logger is
// required; a missing one is a wiring bug and fails fast.
func New(config Config, classifier *intent.Classifier, keyer *cache.TopicKeyer, contexts *cache.KeyedCache[string], retriever Retriever, counter tokenizer.Counter, logger *zap.Logger) (*Hook, error) {
	if classifier == nil || keyer == nil || contexts == nil || retriever == nil || counter == nil {
		return nil, fmt.Errorf("hook requires classifier, keyer, context cache, retriever and token counter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.TokenBudget <= 0 {
		config.TokenBudget = defaults.TokenBudget
	}
	if config.LatencyWarnThreshold <= 0 {
		config.LatencyWarnThreshold = defaults.LatencyWarnThreshold
	}
	return &Hook{
		config:     config,
		classifier: classifier,
		keyer:      keyer,
		contexts:   contexts,
		retriever:  retriever,
		counter:    counter,
		tracer:     otel.Tracer("hook"),
		logger:     logger.With(zap.String("component", "retrieval_hook")),
	}, nil
}

// Run executes one pre-response pass over messages for scopeID. The
// returned message list is safe to hand straight to the generator:
// retrieval faults, cache faults and empty results all yield the
// original list, never an error the caller has to recover from.
func (h *Hook) Run(ctx context.Context, messages []types.Message, scopeID string) Result {
	start := time.Now()
	ctx, span := h.tracer.Start(ctx, "hook.run",
		trace.WithAttributes(attribute.String("scope_id", scopeID)))
	defer span.End()

	result := h.run(ctx, messages, scopeID)
	result.LatencyMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Bool("cache_hit", result.CacheHit),
		attribute.Bool("skipped", result.Skipped),
	)
	if elapsed := time.Since(start); elapsed > h.config.LatencyWarnThreshold {
		h.logger.Warn("hook exceeded latency budget",
			zap.String("scope_id", scopeID),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", h.config.LatencyWarnThreshold))
	}
	return result
}

func (h *Hook) run(ctx context.Context, messages []types.Message, scopeID string) Result {
	original := Result{Messages: messages}

	utterance := types.LatestUserContent(messages)
	if utterance == "" {
		original.Skipped = true
		return original
	}

	label := h.classifier.Classify(utterance)
	if !h.classifier.ShouldRetrieve(label) {
		h.logger.Debug("retrieval skipped",
			zap.String("scope_id", scopeID),
			zap.String("intent", string(label)))
		original.Skipped = true
		return original
	}

	key := h.keyer.DeriveKey(utterance, scopeID)

	if cached, ok := h.contexts.Get(ctx, key); ok {
		original.CacheHit = true
		// An empty cached string is a remembered empty retrieval;
		// inject nothing but skip the backend round trip.
		if cached == "" {
			return original
		}
		original.Messages = inject(messages, cached)
		return original
	}

	// Concurrent turns asking the same topic share one backend call.
	shared, err, _ := h.group.Do(key, func() (any, error) {
		return h.retriever.Retrieve(ctx, utterance, scopeID, h.config.NumResults, retrieval.Options{})
	})
	if err != nil {
		h.logger.Warn("retrieval failed, responding without context",
			zap.String("scope_id", scopeID),
			zap.String("key", key),
			zap.Error(err))
		return original
	}
	retrieved := shared.(types.RetrievalResult)
	original.Tier = retrieved.Tier

	formatted := h.formatContext(retrieved.Items)
	h.contexts.Set(ctx, key, formatted, 0)

	if formatted == "" {
		return original
	}
	original.Messages = inject(messages, formatted)
	return original
}

// formatContext renders items as citation lines under the token budget.
// Lines are accumulated greedily and whole: the first line that would
// overflow the budget is dropped along with everything after it.
func (h *Hook) formatContext(items []types.KnowledgeItem) string {
	var b strings.Builder
	used := 0
	for _, item := range items {
		line := formatLine(item)
		tokens := h.countTokens(line)
		if used+tokens > h.config.TokenBudget {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		used += tokens
	}
	return b.String()
}

func formatLine(item types.KnowledgeItem) string {
	if item.HasPage() {
		return fmt.Sprintf("- %s [%s, p. %d]", item.Content, item.SourceLabel, item.SourcePage)
	}
	return fmt.Sprintf("- %s [%s]", item.Content, item.SourceLabel)
}

// inject prepends the context block as a system directive, leaving the
// caller's slice untouched.
func inject(messages []types.Message, formatted string) []types.Message {
	directive := types.NewSystemMessage(directiveHeader + "\n" + formatted)
	augmented := make([]types.Message, 0, len(messages)+1)
	augmented = append(augmented, directive)
	augmented = append(augmented, messages...)
	return augmented
}

func (h *Hook) countTokens(text string) int {
	n, err := h.counter.CountTokens(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}
