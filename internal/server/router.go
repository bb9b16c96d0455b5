package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hoferino/manda-platform-sub000/cache"
	"github.com/hoferino/manda-platform-sub000/hook"
	"github.com/hoferino/manda-platform-sub000/internal/ctxkeys"
	"github.com/hoferino/manda-platform-sub000/internal/metrics"
	"github.com/hoferino/manda-platform-sub000/isolation"
	"github.com/hoferino/manda-platform-sub000/types"
)

// Router exposes the context pipeline over HTTP.
type Router struct {
	hook        *hook.Hook
	isolator    *isolation.Isolator
	contexts    *cache.KeyedCache[string]
	toolResults *cache.KeyedCache[isolation.Record]
	collector   *metrics.Collector
	logger      *zap.Logger
}

// NewRouter builds the service mux. The collector may be nil, e.g. in
// handler-level tests.
func NewRouter(h *hook.Hook, iso *isolation.Isolator, contexts *cache.KeyedCache[string], toolResults *cache.KeyedCache[isolation.Record], collector *metrics.Collector, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		hook:        h,
		isolator:    iso,
		contexts:    contexts,
		toolResults: toolResults,
		collector:   collector,
		logger:      logger.With(zap.String("component", "router")),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", r.instrument("/healthz", http.HandlerFunc(r.handleHealth)))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("POST /v1/context", r.instrument("/v1/context", http.HandlerFunc(r.handleContext)))
	mux.Handle("POST /v1/tools/isolate", r.instrument("/v1/tools/isolate", http.HandlerFunc(r.handleIsolate)))
	mux.Handle("GET /v1/tools/{call_id}", r.instrument("/v1/tools/{call_id}", http.HandlerFunc(r.handleToolResult)))
	return mux
}

// contextRequest is the /v1/context request body.
type contextRequest struct {
	ScopeID  string          `json:"scope_id"`
	Messages []types.Message `json:"messages"`
}

// contextResponse mirrors the hook result.
type contextResponse struct {
	Messages  []types.Message `json:"messages"`
	LatencyMs int64           `json:"latency_ms"`
	CacheHit  bool            `json:"cache_hit"`
	Skipped   bool            `json:"skipped"`
	Tier      types.Tier      `json:"tier,omitempty"`
}

func (r *Router) handleContext(w http.ResponseWriter, req *http.Request) {
	var body contextRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ScopeID == "" {
		writeError(w, http.StatusBadRequest, "scope_id is required")
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	ctx := ctxkeys.WithScopeID(req.Context(), body.ScopeID)
	result := r.hook.Run(ctx, body.Messages, body.ScopeID)

	if r.collector != nil {
		r.collector.RecordHookInvocation(outcome(body.Messages, result),
			time.Duration(result.LatencyMs)*time.Millisecond)
	}

	writeJSON(w, http.StatusOK, contextResponse{
		Messages:  result.Messages,
		LatencyMs: result.LatencyMs,
		CacheHit:  result.CacheHit,
		Skipped:   result.Skipped,
		Tier:      result.Tier,
	})
}

// isolateRequest is the /v1/tools/isolate request body.
type isolateRequest struct {
	ToolName string          `json:"tool_name"`
	CallID   string          `json:"call_id"`
	Result   json.RawMessage `json:"result"`
}

// isolateResponse returns the compact stand-in for the tool result.
type isolateResponse struct {
	CallID            string `json:"call_id"`
	Summary           string `json:"summary"`
	FullSizeTokens    int    `json:"full_size_tokens"`
	SummarySizeTokens int    `json:"summary_size_tokens"`
}

func (r *Router) handleIsolate(w http.ResponseWriter, req *http.Request) {
	var body isolateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}
	if len(body.Result) == 0 {
		writeError(w, http.StatusBadRequest, "result is required")
		return
	}

	var decoded any
	if err := json.Unmarshal(body.Result, &decoded); err != nil {
		writeError(w, http.StatusBadRequest, "result is not valid JSON")
		return
	}

	record, err := r.isolator.Isolate(req.Context(), body.ToolName, body.CallID, decoded)
	if err != nil {
		r.logger.Error("isolation failed",
			zap.String("tool", body.ToolName),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "isolation failed")
		return
	}

	if r.collector != nil {
		r.collector.RecordIsolation(body.ToolName, record.FullSizeTokens, record.SummarySizeTokens)
	}

	writeJSON(w, http.StatusOK, isolateResponse{
		CallID:            record.CallID,
		Summary:           record.Summary,
		FullSizeTokens:    record.FullSizeTokens,
		SummarySizeTokens: record.SummarySizeTokens,
	})
}

func (r *Router) handleToolResult(w http.ResponseWriter, req *http.Request) {
	callID := req.PathValue("call_id")
	if callID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	full, ok := r.isolator.Retrieve(req.Context(), callID)
	if !ok {
		writeError(w, http.StatusNotFound, "no isolated result for call_id")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(full)
}

// cacheHealth is one cache's health snapshot.
type cacheHealth struct {
	Degraded bool    `json:"degraded"`
	Size     int     `json:"size"`
	HitRate  float64 `json:"hit_rate"`
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	caches := map[string]cacheHealth{}
	if r.contexts != nil {
		stats := r.contexts.Stats()
		caches["retrieval_context"] = cacheHealth{
			Degraded: r.contexts.Degraded(),
			Size:     stats.Size,
			HitRate:  stats.HitRate,
		}
	}
	if r.toolResults != nil {
		stats := r.toolResults.Stats()
		caches["tool_results"] = cacheHealth{
			Degraded: r.toolResults.Degraded(),
			Size:     stats.Size,
			HitRate:  stats.HitRate,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"caches": caches,
	})
}

func outcome(original []types.Message, result hook.Result) string {
	switch {
	case result.Skipped:
		return "skipped"
	case result.CacheHit:
		return "cache_hit"
	case len(result.Messages) > len(original):
		return "injected"
	default:
		return "empty"
	}
}

// instrument assigns a request ID and records count and duration per
// route.
func (r *Router) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := req.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		req = req.WithContext(ctxkeys.WithRequestID(req.Context(), requestID))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		if rec.status >= http.StatusInternalServerError {
			r.logger.Warn("request failed",
				zap.String("path", path),
				zap.Int("status", rec.status),
				zap.String("request_id", requestID))
		}
		if r.collector != nil {
			r.collector.RecordHTTPRequest(req.Method, path, rec.status, time.Since(start))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
