package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/triage-ai/medalert/internal/collab"
	"github.com/triage-ai/medalert/internal/pipeline"
	"github.com/triage-ai/medalert/internal/storage"
)

// DispatchLister reads recent dispatch audit events.
type DispatchLister interface {
	ListDispatches(ctx context.Context, params storage.ListDispatchesParams) ([]storage.DispatchEvent, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Pipeline    *pipeline.Pipeline
	Transcriber collab.Transcriber
	Extractor   collab.Extractor
	Dispatches  DispatchLister // nil if ClickHouse unavailable
	Limiter     *RateLimiter   // nil disables rate limiting
	Logger      *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "MedAlert API is running"})
	})

	// Advice & history
	mux.HandleFunc("GET /rules", deps.handleListRules)
	mux.HandleFunc("GET /history", deps.handleListHistory)
	mux.HandleFunc("DELETE /history", deps.handleClearHistory)
	mux.HandleFunc("POST /analyze", deps.handleAnalyze)
	mux.HandleFunc("POST /transcribe", deps.handleTranscribe)

	// Autonomous action
	mux.HandleFunc("POST /agent/emergency", deps.handleEmergency)
	mux.HandleFunc("GET /agent/status", deps.handleAgentStatus)
	mux.HandleFunc("GET /agent/dispatches", deps.handleListDispatches)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	var h http.Handler = mux
	if deps.Limiter != nil {
		h = deps.Limiter.Middleware(h)
	}
	return corsMiddleware(requestLogging(h, deps.Logger))
}
