// Package server serves the latest snapshot and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/valentindosimont/usagedash/internal/logger"
	"github.com/valentindosimont/usagedash/internal/metrics"
	"github.com/valentindosimont/usagedash/internal/usage"
)

// Latest holds the most recent snapshot and collection error for readers
type Latest struct {
	mu      sync.RWMutex
	snap    usage.Snapshot
	ok      bool
	lastErr error
	errAt   time.Time
}

// Set stores a fresh snapshot and clears the last error
func (l *Latest) Set(snap usage.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = snap
	l.ok = true
	l.lastErr = nil
}

// SetError records a failed cycle; the previous snapshot stays readable
func (l *Latest) SetError(err error, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastErr = err
	l.errAt = at
}

// Get returns the latest snapshot and whether one was ever collected
func (l *Latest) Get() (usage.Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.ok
}

func (l *Latest) failure() (time.Time, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.errAt, l.lastErr
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status          string     `json:"status"`
	LastCollectedAt *time.Time `json:"last_collected_at"`
	LastError       string     `json:"last_error,omitempty"`
	LastErrorAt     *time.Time `json:"last_error_at,omitempty"`
}

// Server exposes /snapshot, /healthz and /metrics
type Server struct {
	latest   *Latest
	exporter *metrics.Exporter
	logger   *zap.Logger
	router   chi.Router
}

// New creates the HTTP server. exporter may be nil, which disables /metrics.
func New(latest *Latest, exporter *metrics.Exporter, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	s := &Server{latest: latest, exporter: exporter, logger: l}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLog(l))
	if exporter != nil {
		r.Use(exporter.Middleware())
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/snapshot", s.snapshot)
	r.Get("/snapshot/{provider}", s.providerRecord)
	if exporter != nil {
		r.Method(http.MethodGet, "/metrics", exporter.Handler())
	}

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return eris.Wrapf(err, "server: listen %s", addr)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}

	if snap, ok := s.latest.Get(); ok {
		at := snap.GeneratedAt
		resp.LastCollectedAt = &at
	} else {
		resp.Status = "starting"
	}

	if at, err := s.latest.failure(); err != nil {
		resp.Status = "degraded"
		resp.LastError = err.Error()
		resp.LastErrorAt = &at
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest.Get()
	if !ok {
		logger.From(r.Context()).Debug("snapshot requested before first collection")
		writeError(w, http.StatusServiceUnavailable, "not_ready", "no snapshot collected yet")
		return
	}
	if snap.Providers == nil {
		snap.Providers = []usage.StatusRecord{}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) providerRecord(w http.ResponseWriter, r *http.Request) {
	p, err := usage.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		logger.From(r.Context()).Debug("unknown provider requested", zap.Error(err))
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error())
		return
	}
	snap, ok := s.latest.Get()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "no snapshot collected yet")
		return
	}
	ctx := logger.With(r.Context(), zap.String("provider", string(p)))
	rec, found := snap.Find(p)
	if !found {
		logger.From(ctx).Debug("record requested for disabled provider")
		writeError(w, http.StatusNotFound, "provider_disabled", string(p)+" is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// requestLog emits one log line per request and stores a request-scoped logger in the context
func requestLog(l *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := l.With(zap.String("request_id", chiMiddleware.GetReqID(r.Context())))

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logger.Into(r.Context(), reqLogger)))

			reqLogger.Debug("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
