// Package tokenizer provides token counting for context-budget enforcement.
// It offers an exact tiktoken-backed counter and a character-ratio
// estimator used when the encoding data is unavailable.
package tokenizer
