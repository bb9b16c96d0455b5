package intent

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hoferino/manda-platform-sub000/types"
)

// PatternSet holds the matcher sources per terminal label. Patterns are
// configuration, not code: new greeting or meta phrasing is added here
// without touching dispatch logic.
type PatternSet struct {
	Greeting []string `yaml:"greeting" json:"greeting"`
	Meta     []string `yaml:"meta" json:"meta"`
}

// DefaultPatterns returns the built-in matcher set.
func DefaultPatterns() PatternSet {
	return PatternSet{
		Greeting: []string{
			`^(hi|hello|hey|yo|howdy|greetings)\b`,
			`^good (morning|afternoon|evening|day)\b`,
			`^(thanks|thank you|thx|cheers)\b`,
			`^(bye|goodbye|see you|later)\b`,
		},
		Meta: []string{
			`\bwhat can you do\b`,
			`\bwho (are|made) you\b`,
			`\bwhat are you\b`,
			`\byour (capabilities|features|limitations)\b`,
			`\bhow do (you|i use you|i talk to you) work\b`,
			`^help\b`,
		},
	}
}

// Classifier labels utterances by testing greeting patterns first, then
// meta patterns; anything else defaults to factual. The task label exists
// for future differentiation and is currently conflated with factual:
// both open the retrieval gate identically.
type Classifier struct {
	greeting []*regexp.Regexp
	meta     []*regexp.Regexp
	logger   *zap.Logger
}

// NewClassifier compiles the pattern set. A malformed pattern is a
// configuration defect and fails construction rather than a request.
func NewClassifier(patterns PatternSet, logger *zap.Logger) (*Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	greeting, err := compilePatterns(patterns.Greeting)
	if err != nil {
		return nil, fmt.Errorf("compile greeting patterns: %w", err)
	}
	meta, err := compilePatterns(patterns.Meta)
	if err != nil {
		return nil, fmt.Errorf("compile meta patterns: %w", err)
	}

	return &Classifier{
		greeting: greeting,
		meta:     meta,
		logger:   logger.With(zap.String("component", "intent_classifier")),
	}, nil
}

// Classify returns the label for utterance. Pure and synchronous.
func (c *Classifier) Classify(utterance string) types.IntentLabel {
	normalized := strings.ToLower(strings.TrimSpace(utterance))

	for _, re := range c.greeting {
		if re.MatchString(normalized) {
			return types.IntentGreeting
		}
	}
	for _, re := range c.meta {
		if re.MatchString(normalized) {
			return types.IntentMeta
		}
	}
	return types.IntentFactual
}

// ShouldRetrieve reports whether label opens the retrieval gate.
func (c *Classifier) ShouldRetrieve(label types.IntentLabel) bool {
	return label.TriggersRetrieval()
}

func compilePatterns(sources []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(sources))
	for _, source := range sources {
		re, err := regexp.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", source, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
