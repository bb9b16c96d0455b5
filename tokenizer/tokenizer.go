package tokenizer

// Counter is the unified token counting interface. Budget enforcement in
// the hook and summary ceilings in the isolator only ever need counts,
// so encoding and decoding are deliberately not part of the contract.
type Counter interface {
	// CountTokens returns the token count for the given text.
	CountTokens(text string) (int, error)

	// Name returns the counter name for logs and debugging.
	Name() string
}

// NewCounter returns a tiktoken-backed counter for the given encoding,
// falling back to the estimator when the encoding is unknown. The
// tiktoken counter itself degrades to estimation if the encoding data
// cannot be loaded at first use.
func NewCounter(encoding string) Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return NewTiktokenCounter(encoding)
}
