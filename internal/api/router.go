// Package api exposes the proxy, the conversation session and the summary
// cache over HTTP, and the same operations as MCP tools.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/vidsum/internal/prefetch"
	"github.com/kalambet/vidsum/internal/proxy"
	"github.com/kalambet/vidsum/internal/qa"
	"github.com/kalambet/vidsum/internal/session"
	"github.com/kalambet/vidsum/internal/storage"
)

// SessionHeader selects the conversation session for a request.
const SessionHeader = "X-Session-ID"

// SummaryLister lists cached summary records. Implemented by storage.Store
// and storage.RedisStore.
type SummaryLister interface {
	ListSummaries(ctx context.Context, limit, offset int) ([]storage.SummaryRecord, error)
}

// Deps holds everything the HTTP surface needs.
type Deps struct {
	Forwarder    *proxy.Forwarder
	Orchestrator *qa.Orchestrator
	Sessions     *session.Registry
	Summaries    SummaryLister
	Jobs         prefetch.JobStore // optional; prefetch is disabled when nil
	Token        string
	RateLimit    float64
	RateBurst    int
}

// NewHandler builds the chi router with request logging and recovery.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(deps.RateLimit, deps.RateBurst))
		r.Get("/proxy", handleProxy(deps))
		r.Get("/api/proxy", handleProxy(deps))
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/session", handleGetSession(deps))
		r.Delete("/session", handleResetSession(deps))
		r.Post("/session/video", handleLoadVideo(deps))
		r.Post("/session/ask", handleAsk(deps))
		r.Get("/questions", handleQuestions(deps))
		r.Get("/summaries", handleListSummaries(deps))
		r.Post("/summaries/prefetch", handlePrefetch(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}
