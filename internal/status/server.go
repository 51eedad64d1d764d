// Package status serves a read-only HTTP view of the running plugin on a
// loopback address: health, the current session and Prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/plugrpc/internal/dispatch"
)

// ErrNotLoopback is returned by Start for listen addresses other hosts could reach.
var ErrNotLoopback = errors.New("status server must listen on a loopback address")

// Config holds status server configuration.
type Config struct {
	Listen  string
	Plugin  string
	Version string
}

// Tracker remembers the session being served. Its Track method matches
// serve.Options.OnSession.
type Tracker struct {
	current atomic.Pointer[dispatch.Session]
}

// Track records s as the current session.
func (t *Tracker) Track(s *dispatch.Session) {
	t.current.Store(s)
}

// Snapshot returns the current session's snapshot, if there is one.
func (t *Tracker) Snapshot() (dispatch.Snapshot, bool) {
	s := t.current.Load()
	if s == nil {
		return dispatch.Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Server represents the status HTTP server.
type Server struct {
	config    Config
	tracker   *Tracker
	metrics   http.Handler
	logger    *slog.Logger
	startedAt time.Time
	addr      atomic.Value
}

// New creates a status server. metrics may be nil, in which case /metrics is
// not mounted.
func New(config Config, tracker *Tracker, metrics http.Handler, logger *slog.Logger) *Server {
	if tracker == nil {
		tracker = &Tracker{}
	}
	return &Server{
		config:    config,
		tracker:   tracker,
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() string {
	if v, ok := s.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Start listens and serves until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	if err := checkLoopback(s.config.Listen); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("status listen: %w", err)
	}
	s.addr.Store(ln.Addr().String())

	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("status server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Debug("status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("status server error: %w", err)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/session", s.handleSession)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	Plugin        string `json:"plugin"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	SessionState  string `json:"session_state,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		Plugin:        s.config.Plugin,
		Version:       s.config.Version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if snap, ok := s.tracker.Snapshot(); ok {
		resp.SessionState = snap.State.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.tracker.Snapshot()
	if !ok {
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "no session accepted yet"})
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func checkLoopback(listen string) error {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return fmt.Errorf("status listen address %q: %w", listen, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%w: %s", ErrNotLoopback, listen)
	}
	return nil
}
