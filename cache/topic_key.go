package cache

import (
	"sort"
	"strings"
	"unicode"
)

// topicKeyPrefix namespaces topic keys in the shared remote tier.
const topicKeyPrefix = "retrieval:ctx"

// minTopicTokenLen filters short, stopword-ish tokens out of the key.
const minTopicTokenLen = 4

// TopicKeyer derives a normalized, order-independent cache key from a
// free-text query, so paraphrased follow-ups land on the same entry:
// "What was Q3 revenue" and "revenue for Q3 what was" key identically.
//
// The bag-of-words scheme is an intentional precision/recall trade-off
// favoring hit rate over exactness: genuinely different questions sharing
// the same significant tokens collide and may serve each other's context.
// That approximation is accepted, not corrected.
type TopicKeyer struct{}

// NewTopicKeyer creates a TopicKeyer.
func NewTopicKeyer() *TopicKeyer {
	return &TopicKeyer{}
}

// DeriveKey builds the cache key for query within scopeID. The scope
// prefix partitions keys per tenant/deal so cross-tenant collisions are
// structurally impossible.
func (k *TopicKeyer) DeriveKey(query, scopeID string) string {
	tokens := significantTokens(query)
	if len(tokens) == 0 {
		return topicKeyPrefix + ":" + scopeID + ":general"
	}
	return topicKeyPrefix + ":" + scopeID + ":" + strings.Join(tokens, "_")
}

// significantTokens lowercases the query, strips non-alphanumeric runes,
// drops tokens of length <= 3, and sorts the remainder lexicographically.
func significantTokens(query string) []string {
	normalized := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, query)

	var tokens []string
	for _, token := range strings.Fields(normalized) {
		if len(token) >= minTopicTokenLen {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return tokens
}
