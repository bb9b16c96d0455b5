package isolation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hoferino/manda-platform-sub000/cache"
	"github.com/hoferino/manda-platform-sub000/tokenizer"
	"github.com/hoferino/manda-platform-sub000/types"
)

// defaultMaxSummaryTokens bounds every summary regardless of input size.
const defaultMaxSummaryTokens = 150

// Record is the cached form of an isolated tool result.
type Record struct {
	ToolName          string          `json:"tool_name"`
	CallID            string          `json:"call_id"`
	FullResult        json.RawMessage `json:"full_result"`
	Summary           string          `json:"summary"`
	FullSizeTokens    int             `json:"full_size_tokens"`
	SummarySizeTokens int             `json:"summary_size_tokens"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ToolFunc is the invocation signature the isolator wraps. The wrapped
// function keeps this exact signature, so wrapping composes over an
// arbitrary tool list without per-tool special-casing upstream.
type ToolFunc func(ctx context.Context, call types.ToolCall) (any, error)

// Isolator summarizes tool results for the conversation and persists the
// full payloads in its own cache instance.
type Isolator struct {
	cache            *cache.KeyedCache[Record]
	registry         *FormatterRegistry
	counter          tokenizer.Counter
	maxSummaryTokens int
	logger           *zap.Logger
}

// NewIsolator creates an Isolator over its dedicated result cache.
func NewIsolator(resultCache *cache.KeyedCache[Record], registry *FormatterRegistry, counter tokenizer.Counter, logger *zap.Logger) *Isolator {
	if registry == nil {
		registry = NewFormatterRegistry()
	}
	if counter == nil {
		counter = tokenizer.NewEstimator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Isolator{
		cache:            resultCache,
		registry:         registry,
		counter:          counter,
		maxSummaryTokens: defaultMaxSummaryTokens,
		logger:           logger.With(zap.String("component", "tool_result_isolator")),
	}
}

// Isolate summarizes fullResult and persists the full payload under
// callID. A blank callID gets a generated one. Error-shaped results are
// summarized but not cached: there is nothing useful to follow up on.
// Summarization is deterministic given (toolName, fullResult).
func (i *Isolator) Isolate(ctx context.Context, toolName, callID string, fullResult any) (Record, error) {
	if callID == "" {
		callID = uuid.NewString()
	}

	raw, err := json.Marshal(fullResult)
	if err != nil {
		return Record{}, fmt.Errorf("tool %s result not serializable: %w", toolName, err)
	}

	// Summarize over the decoded JSON form so the formatters see the same
	// shapes regardless of the tool's concrete Go types.
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}

	summary := i.boundedSummary(toolName, decoded)

	fullTokens := i.countTokens(string(raw))
	summaryTokens := i.countTokens(summary)
	if summaryTokens > fullTokens {
		// A tiny payload can cost fewer tokens than its own summary.
		// The recorded summary size never exceeds the full size.
		summaryTokens = fullTokens
	}

	record := Record{
		ToolName:          toolName,
		CallID:            callID,
		FullResult:        raw,
		Summary:           summary,
		FullSizeTokens:    fullTokens,
		SummarySizeTokens: summaryTokens,
		CreatedAt:         time.Now(),
	}

	if m, ok := decoded.(map[string]any); ok {
		if failed, _ := errorShaped(m); failed {
			i.logger.Debug("error-shaped tool result not cached",
				zap.String("tool", toolName),
				zap.String("call_id", callID))
			return record, nil
		}
	}

	i.cache.Set(ctx, callID, record, 0)
	i.logger.Debug("tool result isolated",
		zap.String("tool", toolName),
		zap.String("call_id", callID),
		zap.Int("full_tokens", fullTokens),
		zap.Int("summary_tokens", summaryTokens))

	return record, nil
}

// Retrieve returns the full payload stored under callID, subject to the
// cache's TTL and eviction rules.
func (i *Isolator) Retrieve(ctx context.Context, callID string) (json.RawMessage, bool) {
	record, ok := i.cache.Get(ctx, callID)
	if !ok {
		return nil, false
	}
	return record.FullResult, true
}

// Wrap returns a ToolFunc with the same signature that executes tool,
// isolates its result, and returns only the summary to the conversation.
// Tool execution errors pass through unchanged.
func (i *Isolator) Wrap(tool ToolFunc) ToolFunc {
	return func(ctx context.Context, call types.ToolCall) (any, error) {
		result, err := tool(ctx, call)
		if err != nil {
			return nil, err
		}

		record, ierr := i.Isolate(ctx, call.Name, call.ID, result)
		if ierr != nil {
			// A payload we cannot even serialize is a defect in the tool;
			// degrade to a generic note rather than break the turn.
			i.logger.Warn("tool result isolation failed",
				zap.String("tool", call.Name),
				zap.Error(ierr))
			return fmt.Sprintf("[%s] Completed; result could not be isolated.", call.Name), nil
		}
		return record.Summary, nil
	}
}

// boundedSummary formats the result and enforces the summary token
// ceiling. The formatted summary replaces the payload in the conversation
// unconditionally: raw JSON never leaks into a turn, no matter how small.
func (i *Isolator) boundedSummary(toolName string, decoded any) string {
	summary := i.registry.Format(toolName, decoded)

	for i.countTokens(summary) > i.maxSummaryTokens && len(summary) > 16 {
		summary = truncateWords(summary, len(summary)*3/4)
	}
	return summary
}

func (i *Isolator) countTokens(text string) int {
	count, err := i.counter.CountTokens(text)
	if err != nil {
		// The estimator never fails; an exact counter that does is still
		// usable via its length heuristic.
		return len(text) / 4
	}
	return count
}
