package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the encoding used when no explicit one is configured.
const DefaultEncoding = "cl100k_base"

// TiktokenCounter counts tokens using a tiktoken encoding. The encoding
// is initialized lazily because loading it can fetch data on first use;
// if that load fails the counter degrades to the estimator permanently
// rather than failing every count.
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	fallback *Estimator
	once     sync.Once
}

// NewTiktokenCounter creates a counter for the given tiktoken encoding.
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenCounter{
		encoding: encoding,
		fallback: NewEstimator(),
	}
}

func (t *TiktokenCounter) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			// Leave enc nil; CountTokens routes to the estimator.
			return
		}
		t.enc = enc
	})
}

// CountTokens returns the exact token count, or an estimate when the
// encoding could not be loaded.
func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	t.init()
	if t.enc == nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// Name returns the counter name.
func (t *TiktokenCounter) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
