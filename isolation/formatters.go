package isolation

import (
	"fmt"
	"sort"
	"strings"
)

// Category tags a tool with the summary strategy that fits its output
// shape. Unregistered tools fall back to CategoryGeneric; the registry is
// populated at initialization, never grown per-call.
type Category string

const (
	// CategoryKnowledgeSearch covers search-style tools returning scored
	// result lists.
	CategoryKnowledgeSearch Category = "knowledge_search"
	// CategoryMutation covers tools that create or update a single record.
	CategoryMutation Category = "mutation"
	// CategoryList covers tools returning enumerations.
	CategoryList Category = "list"
	// CategoryGeneric is the default strategy for unknown tools.
	CategoryGeneric Category = "generic"
)

// Formatter renders a decoded tool result into a bounded summary string.
// Implementations must produce bounded output regardless of input size:
// large arrays are summarized by count, never enumerated.
type Formatter func(toolName string, result any) string

// FormatterRegistry dispatches a tool name to its category formatter.
type FormatterRegistry struct {
	formatters map[Category]Formatter
	tools      map[string]Category
}

// NewFormatterRegistry creates a registry with the built-in category
// formatters and no tool bindings.
func NewFormatterRegistry() *FormatterRegistry {
	return &FormatterRegistry{
		formatters: map[Category]Formatter{
			CategoryKnowledgeSearch: formatKnowledgeSearch,
			CategoryMutation:        formatMutation,
			CategoryList:            formatList,
			CategoryGeneric:         formatGeneric,
		},
		tools: make(map[string]Category),
	}
}

// RegisterTool binds a tool name to a category. Unknown categories bind
// to generic.
func (r *FormatterRegistry) RegisterTool(toolName string, category Category) {
	if _, ok := r.formatters[category]; !ok {
		category = CategoryGeneric
	}
	r.tools[toolName] = category
}

// Format summarizes result for toolName using its bound category
// formatter, defaulting to generic.
func (r *FormatterRegistry) Format(toolName string, result any) string {
	category, ok := r.tools[toolName]
	if !ok {
		category = CategoryGeneric
	}
	return r.formatters[category](toolName, result)
}

// maxSnippetChars bounds the content excerpt embedded in summaries.
const maxSnippetChars = 160

func formatKnowledgeSearch(toolName string, result any) string {
	if m, ok := result.(map[string]any); ok {
		if failed, msg := errorShaped(m); failed {
			return fmt.Sprintf("[%s] Failed: %s", toolName, msg)
		}
	}

	items := resultItems(result)
	if len(items) == 0 {
		return fmt.Sprintf("[%s] Found no results.", toolName)
	}

	minScore, maxScore := 1.0, 0.0
	scored := false
	var sources []string
	seen := make(map[string]struct{})
	for _, raw := range items {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if score, ok := floatField(m, "score"); ok {
			scored = true
			if score < minScore {
				minScore = score
			}
			if score > maxScore {
				maxScore = score
			}
		}
		if src, ok := stringField(m, "source_label", "source", "sourceLabel"); ok {
			if _, dup := seen[src]; !dup && len(sources) < 3 {
				seen[src] = struct{}{}
				sources = append(sources, src)
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Found %d result(s)", toolName, len(items))
	if scored {
		fmt.Fprintf(&b, " (confidence %.2f-%.2f)", minScore, maxScore)
	}
	b.WriteString(".")

	if top, ok := items[0].(map[string]any); ok {
		if content, found := stringField(top, "content", "text", "snippet"); found {
			fmt.Fprintf(&b, " Top: %q.", truncateWords(content, maxSnippetChars))
		}
	}
	if len(sources) > 0 {
		fmt.Fprintf(&b, " Sources: %s.", strings.Join(sources, ", "))
	}
	return b.String()
}

func formatMutation(toolName string, result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return fmt.Sprintf("[%s] Succeeded.", toolName)
	}
	if failed, msg := errorShaped(m); failed {
		return fmt.Sprintf("[%s] Failed: %s", toolName, msg)
	}
	if id, ok := stringField(m, "id", "identifier", "question_id", "item_id"); ok {
		return fmt.Sprintf("[%s] Succeeded (id=%s).", toolName, id)
	}
	return fmt.Sprintf("[%s] Succeeded.", toolName)
}

func formatList(toolName string, result any) string {
	if m, ok := result.(map[string]any); ok {
		if failed, msg := errorShaped(m); failed {
			return fmt.Sprintf("[%s] Failed: %s", toolName, msg)
		}
	}

	items := resultItems(result)
	if len(items) == 0 {
		return fmt.Sprintf("[%s] Found no results.", toolName)
	}

	var labels []string
	for _, raw := range items {
		if len(labels) == 3 {
			break
		}
		if m, ok := raw.(map[string]any); ok {
			if label, found := stringField(m, "name", "label", "title", "category"); found {
				labels = append(labels, label)
			}
		} else if s, ok := raw.(string); ok {
			labels = append(labels, truncateWords(s, 40))
		}
	}

	summary := fmt.Sprintf("[%s] %d item(s)", toolName, len(items))
	if len(labels) > 0 {
		suffix := ""
		if len(items) > len(labels) {
			suffix = ", ..."
		}
		summary += fmt.Sprintf(": %s%s", strings.Join(labels, ", "), suffix)
	}
	return summary + "."
}

func formatGeneric(toolName string, result any) string {
	switch v := result.(type) {
	case nil:
		return fmt.Sprintf("[%s] Completed with no output.", toolName)
	case string:
		return fmt.Sprintf("[%s] %s", toolName, truncateWords(v, maxSnippetChars))
	case []any:
		return fmt.Sprintf("[%s] Returned %d item(s).", toolName, len(v))
	case map[string]any:
		if failed, msg := errorShaped(v); failed {
			return fmt.Sprintf("[%s] Failed: %s", toolName, msg)
		}
		fields := make([]string, 0, len(v))
		for k := range v {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		if len(fields) > 6 {
			fields = fields[:6]
		}
		return fmt.Sprintf("[%s] Succeeded. Fields: %s.", toolName, strings.Join(fields, ", "))
	default:
		return fmt.Sprintf("[%s] Completed.", toolName)
	}
}

// errorShaped reports whether a decoded payload carries a failure
// indicator, and extracts its message.
func errorShaped(m map[string]any) (bool, string) {
	if msg, ok := stringField(m, "error", "error_message"); ok && msg != "" {
		return true, msg
	}
	if success, ok := m["success"].(bool); ok && !success {
		if msg, ok := stringField(m, "message", "detail"); ok {
			return true, msg
		}
		return true, "unspecified failure"
	}
	return false, ""
}

// resultItems extracts the item list from either a bare array or a
// wrapping object ({results: [...]}, {items: [...]}).
func resultItems(result any) []any {
	switch v := result.(type) {
	case []any:
		return v
	case map[string]any:
		for _, field := range []string{"results", "items", "entries", "data"} {
			if items, ok := v[field].([]any); ok {
				return items
			}
		}
	}
	return nil
}

func stringField(m map[string]any, names ...string) (string, bool) {
	for _, name := range names {
		if s, ok := m[name].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func floatField(m map[string]any, name string) (float64, bool) {
	switch v := m[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// truncateWords truncates s to at most maxLen bytes, at a word boundary
// where possible.
func truncateWords(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	truncated := s[:maxLen]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > maxLen/2 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}
