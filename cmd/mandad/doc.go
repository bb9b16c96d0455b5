// Command mandad serves the due-diligence context pipeline: proactive
// knowledge retrieval, topic caching and tool result isolation, exposed
// over HTTP with health and Prometheus endpoints.
package main
