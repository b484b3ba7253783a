package routes

import (
	"net/http"

	"github.com/caretide/priorauth/internal/api/handlers"
	"github.com/caretide/priorauth/internal/api/middleware"
	"github.com/caretide/priorauth/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	caseHandler          *handlers.CaseHandler
	orchestrationHandler *handlers.OrchestrationHandler
	assistantHandler     *handlers.AssistantHandler
	sseHandler           *handlers.SSEHandler

	cacheMiddleware *middleware.CacheMiddleware
	metrics         *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	caseHandler *handlers.CaseHandler,
	orchestrationHandler *handlers.OrchestrationHandler,
	assistantHandler *handlers.AssistantHandler,
	sseHandler *handlers.SSEHandler,
	cacheMiddleware *middleware.CacheMiddleware,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:                  http.NewServeMux(),
		caseHandler:          caseHandler,
		orchestrationHandler: orchestrationHandler,
		assistantHandler:     assistantHandler,
		sseHandler:           sseHandler,
		cacheMiddleware:      cacheMiddleware,
		metrics:              metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	// Health check endpoint
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Case endpoints
	r.mux.HandleFunc("GET /api/cases", r.caseHandler.ListCases)
	r.mux.HandleFunc("GET /api/cases/{id}", r.caseHandler.GetCase)
	r.mux.HandleFunc("GET /api/stats", r.caseHandler.GetStatistics)

	// Orchestration endpoint
	r.mux.HandleFunc("POST /api/cases/{id}/orchestrate", r.orchestrationHandler.OrchestrateCase)

	// Assistant endpoint
	r.mux.HandleFunc("POST /api/assistant/chat", r.assistantHandler.Chat)

	// Real-time case event stream
	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/cases/{id}/events", r.sseHandler.StreamCaseEvents)
	}

	// Apply middleware in reverse order (last middleware wraps first)
	// CORS must be outermost so cached responses also get CORS headers.
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)

	if r.cacheMiddleware != nil {
		handler = r.cacheMiddleware.Middleware(handler)
	}

	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)

	// Compression, ETag and cache headers
	handler = middleware.ResponseOptimization(handler)

	handler = middleware.CORSMiddleware(handler)

	return handler
}
