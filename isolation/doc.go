// Package isolation keeps large tool results out of the conversation
// context. A tool invocation's full payload is persisted behind an opaque
// call ID in its own cache; only a short, bounded natural-language summary
// flows back into the message list. Follow-up turns retrieve the full
// payload by call ID when they actually need it.
package isolation
