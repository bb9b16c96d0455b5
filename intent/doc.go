// Package intent classifies user utterances into retrieval-relevance
// labels. Classification is pure pattern matching with no I/O or model
// call: it gates the expensive retrieval path and must never become a
// latency source itself.
package intent
