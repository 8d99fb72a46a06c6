// Package api exposes the HTTP interface for the lead discovery service.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/sources for source configuration CRUD and manual crawl triggers.
//   - /v1/jobs for job status, logs, and cancellation.
//   - /v1/leads for browsing extracted leads.
//   - /v1/stats for a crawl and lead summary.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/dispatcher"
	"github.com/JakeFAU/leadsniffer/internal/metrics"
	"github.com/JakeFAU/leadsniffer/internal/scrape"
)

const requestTimeout = 60 * time.Second

// Server wires HTTP handlers to the stores and the dispatcher.
type Server struct {
	router     chi.Router
	configs    crawler.ConfigStore
	jobs       crawler.JobStore
	logs       crawler.LogStore
	leads      crawler.LeadStore
	dispatcher *dispatcher.Dispatcher
	registry   *scrape.Registry
	clock      crawler.Clock
	defaultRPM int
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	configs crawler.ConfigStore,
	jobs crawler.JobStore,
	logs crawler.LogStore,
	leads crawler.LeadStore,
	dispatcher *dispatcher.Dispatcher,
	registry *scrape.Registry,
	clock crawler.Clock,
	defaultRPM int,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		configs:    configs,
		jobs:       jobs,
		logs:       logs,
		leads:      leads,
		dispatcher: dispatcher,
		registry:   registry,
		clock:      clock,
		defaultRPM: defaultRPM,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sources", func(r chi.Router) {
			r.Post("/", s.createSource)
			r.Get("/", s.listSources)
			r.Route("/{source_id}", func(r chi.Router) {
				r.Get("/", s.getSource)
				r.Put("/", s.updateSource)
				r.Post("/crawl", s.triggerCrawl)
			})
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/log", s.getJobLog)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Get("/leads", s.listLeads)
		r.Get("/stats", s.getStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The config store is the cheapest round trip through the backend.
	if _, err := s.configs.ListConfigs(r.Context(), true); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
