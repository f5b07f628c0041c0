// Package api exposes the HTTP interface of the monitor: health probes,
// Prometheus metrics, the rolling status report, and full-text search.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/index"
	"github.com/openlexbr/douflow/internal/metrics"
	"github.com/openlexbr/douflow/internal/monitor"
)

const requestTimeout = 30 * time.Second

// Reporter produces the rolling status report. Satisfied by the monitor.
type Reporter interface {
	Report(ctx context.Context) (monitor.Report, error)
}

// Searcher answers full-text queries. Satisfied by the indexer.
type Searcher interface {
	Search(ctx context.Context, q index.Query) (index.Result, error)
}

// Server wires HTTP handlers to the monitor and the search index.
type Server struct {
	router   chi.Router
	reporter Reporter
	searcher Searcher
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(reporter Reporter, searcher Searcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		reporter: reporter,
		searcher: searcher,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/status", s.status)
	r.Get("/api/busca", s.search)

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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// status handles GET /status and returns the monitor report as JSON.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if s.reporter == nil {
		s.writeError(w, http.StatusServiceUnavailable, "monitor unavailable")
		return
	}
	report, err := s.reporter.Report(r.Context())
	if err != nil {
		s.logger.Error("status report failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to build status report")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// search handles GET /api/busca?q=&data_inicio=&data_fim=&secao=&tipo=&max=.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		s.writeError(w, http.StatusServiceUnavailable, "search index unavailable")
		return
	}

	q := index.Query{
		Text:          strings.TrimSpace(r.URL.Query().Get("q")),
		DataInicio:    r.URL.Query().Get("data_inicio"),
		DataFim:       r.URL.Query().Get("data_fim"),
		Secao:         r.URL.Query().Get("secao"),
		TipoDocumento: r.URL.Query().Get("tipo"),
	}
	if q.Text == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	if raw := r.URL.Query().Get("max"); raw != "" {
		max, err := strconv.Atoi(raw)
		if err != nil || max <= 0 {
			s.writeError(w, http.StatusBadRequest, "max must be a positive integer")
			return
		}
		q.Max = max
	}

	result, err := s.searcher.Search(r.Context(), q)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
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
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
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

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

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
