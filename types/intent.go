package types

// IntentLabel classifies a user utterance for retrieval gating.
// Labels are computed fresh per inbound message and never persisted.
type IntentLabel string

const (
	// IntentGreeting covers salutations and small talk; skips retrieval.
	IntentGreeting IntentLabel = "greeting"
	// IntentMeta covers questions about the assistant itself; skips retrieval.
	IntentMeta IntentLabel = "meta"
	// IntentFactual covers questions about deal content; triggers retrieval.
	IntentFactual IntentLabel = "factual"
	// IntentTask covers action requests; triggers retrieval identically to
	// factual for now, kept distinct for future differentiation.
	IntentTask IntentLabel = "task"
)

// TriggersRetrieval reports whether the label gates the retrieval path open.
func (l IntentLabel) TriggersRetrieval() bool {
	return l == IntentFactual || l == IntentTask
}
