package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/metrics"
	"github.com/lazypower/canopy/internal/search"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the canopy HTTP API server. Every handler touching the graph
// runs inside the cache's exclusive region.
type Server struct {
	cache   *graph.Cache
	search  *search.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  chi.Router
	version string
	started time.Time

	defaultLimit    int
	fuzzyAttributes bool
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics serves m's registry on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSearchDefaults sets the limit applied when a search request gives
// none, and whether attribute names match fuzzily by default.
func WithSearchDefaults(limit int, fuzzyAttributes bool) Option {
	return func(s *Server) {
		s.defaultLimit = limit
		s.fuzzyAttributes = fuzzyAttributes
	}
}

// New creates a new Server over cache and the search service built on it.
func New(cache *graph.Cache, svc *search.Service, version string, opts ...Option) *Server {
	s := &Server{
		cache:   cache,
		search:  svc,
		logger:  slog.Default(),
		version: version,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/search", s.handleSearch)

		r.Post("/notes", s.handleCreateNote)
		r.Get("/notes/{noteID}", s.handleGetNote)
		r.Delete("/notes/{noteID}", s.handleDeleteNote)
		r.Get("/notes/{noteID}/paths", s.handleNotePaths)
		r.Get("/notes/{noteID}/subtree", s.handleSubtree)
		r.Put("/notes/{noteID}/attributes", s.handleSetAttribute)
		r.Delete("/notes/{noteID}/attributes", s.handleRemoveAttribute)

		r.Post("/branches", s.handleCreateBranch)
		r.Delete("/branches/{branchID}", s.handleDeleteBranch)
	})

	if reg := s.metrics.Registry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s.router = r
}

// exclusive runs fn in the cache's exclusive region and writes any error.
// It reports whether fn succeeded.
func (s *Server) exclusive(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) bool {
	err := s.cache.Exclusive(r.Context(), fn)
	if err != nil {
		s.writeError(w, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// badRequest is a client error raised by a handler before touching the graph.
type badRequest string

func (e badRequest) Error() string { return string(e) }

// writeError maps graph errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var br badRequest
	switch {
	case errors.As(err, &br), errors.Is(err, graph.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, graph.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, graph.ErrDeleted):
		status = http.StatusGone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var notes int
	ok := s.exclusive(w, r, func(ctx context.Context) error {
		notes = s.cache.NoteCount()
		return nil
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"notes":   notes,
	})
}
