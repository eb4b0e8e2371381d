package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/metrics"
	"github.com/JakeFAU/watch-wrapped/internal/store"
)

// Check reports whether a dependency is ready to serve.
type Check func(ctx context.Context) error

// CacheSizer reports the number of cached metadata entries.
type CacheSizer interface {
	Len(ctx context.Context) (int, error)
}

// Server wires HTTP handlers to the status store and cache.
type Server struct {
	router    chi.Router
	status    store.StatusStore
	cache     CacheSizer
	checks    map[string]Check
	logger    *zap.Logger
	rateLimit int
}

// Option customizes a Server.
type Option func(*Server)

// WithRateLimit caps /v1 requests per client IP per minute. Probes and
// /metrics are never limited. Non-positive values disable limiting.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		s.rateLimit = perMinute
	}
}

const (
	requestTimeout = 15 * time.Second
	checkTimeout   = 2 * time.Second
)

// NewServer constructs a Server with middleware and routes. checks are run by
// /readyz; any failure reports 503.
func NewServer(status store.StatusStore, cache CacheSizer, checks map[string]Check, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		status: status,
		cache:  cache,
		checks: checks,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
		}
		r.Get("/jobs/{job_id}/status", s.getJobStatus)
		r.Get("/cache/stats", s.cacheStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failures": failures})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type jobStatusResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	ResultURI string    `json:"result_uri,omitempty"`
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeError(w, http.StatusNotImplemented, "status store not configured")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	state, err := s.status.GetStatus(r.Context(), jobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		s.logger.Error("get job status failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load job status")
		return
	}
	s.writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:     state.JobID,
		Status:    string(state.Status),
		UpdatedAt: state.UpdatedAt,
		ResultURI: state.ResultURI,
	})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusNotImplemented, "cache not configured")
		return
	}
	n, err := s.cache.Len(r.Context())
	if err != nil {
		s.logger.Error("cache stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load cache")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"entries": n})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
