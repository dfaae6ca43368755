package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/metrics"
)

// NoticeReader is the query side of the record sink.
type NoticeReader interface {
	QueryAll(ctx context.Context) ([]crawler.Record, error)
	QueryBy(ctx context.Context, filter crawler.Filter) ([]crawler.Record, error)
	DistinctClasses(ctx context.Context) ([]string, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

// Server wires HTTP handlers to the notice store.
type Server struct {
	router  chi.Router
	notices NoticeReader
	runs    crawler.RunRecorder
	ready   Pinger
	logger  *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithRuns exposes run history on /v1/runs.
func WithRuns(runs crawler.RunRecorder) Option {
	return func(s *Server) { s.runs = runs }
}

// WithReadiness makes /readyz call ping.
func WithReadiness(ping Pinger) Option {
	return func(s *Server) { s.ready = ping }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(notices NoticeReader, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{notices: notices, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/notices", s.listNotices)
		r.Get("/classes", s.listClasses)
		r.Get("/runs", s.listRuns)
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
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type noticesResponse struct {
	Count   int              `json:"count"`
	Notices []crawler.Record `json:"notices"`
}

// listNotices serves every notice, or the ones matching exactly one of
// class or min_hours.
func (s *Server) listNotices(w http.ResponseWriter, r *http.Request) {
	filter, filtered, err := parseFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var records []crawler.Record
	if filtered {
		records, err = s.notices.QueryBy(r.Context(), filter)
	} else {
		records, err = s.notices.QueryAll(r.Context())
	}
	if err != nil {
		s.logger.Error("query notices failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to query notices")
		return
	}
	if records == nil {
		records = []crawler.Record{}
	}
	s.writeJSON(w, http.StatusOK, noticesResponse{Count: len(records), Notices: records})
}

func parseFilter(r *http.Request) (crawler.Filter, bool, error) {
	q := r.URL.Query()
	class := strings.TrimSpace(q.Get("class"))
	rawHours := strings.TrimSpace(q.Get("min_hours"))
	if class == "" && rawHours == "" {
		return crawler.Filter{}, false, nil
	}
	filter := crawler.Filter{ClassCode: strings.ToUpper(class)}
	if rawHours != "" {
		hours, err := strconv.Atoi(rawHours)
		if err != nil || hours < 0 {
			return crawler.Filter{}, false, fmt.Errorf("min_hours must be a non-negative integer")
		}
		filter.MinHours = &hours
	}
	if err := filter.Validate(); err != nil {
		return crawler.Filter{}, false, err
	}
	return filter, true, nil
}

func (s *Server) listClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := s.notices.DistinctClasses(r.Context())
	if err != nil {
		s.logger.Error("list classes failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list classes")
		return
	}
	if classes == nil {
		classes = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"classes": classes})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []crawler.RunSummary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string) //nolint:errcheck // absent means empty
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
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
