// Package hook runs proactive context retrieval ahead of response
// generation. One invocation per inbound user turn: classify the
// utterance, probe the topic cache, retrieve on miss, and prepend the
// formatted knowledge as a system directive. Every failure path degrades
// to the original, unmodified message list.
package hook
