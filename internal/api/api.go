// Package api exposes the turn engine over HTTP.
//
// Endpoints: POST /v1/turn processes one conversational turn, GET and DELETE
// /v1/session/{id} read and remove session state, POST /v1/tools/check runs
// the per-call tool authorization check, GET /health reports liveness.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dialogdesk/dialogdesk/internal/engine"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server serves the DialogDesk HTTP API.
type Server struct {
	engine *engine.Engine
	addr   string
	http   *http.Server
}

// NewServer creates an API server over the given engine.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{engine: eng, addr: cfg.Addr}
}

// Handler builds the route table. Exposed for tests via httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/turn", s.turnHandler)
	mux.HandleFunc("/v1/session/", s.sessionHandler)
	mux.HandleFunc("/v1/tools/check", s.toolCheckHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Run() error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.Run: DialogDesk API listening", "addr", s.addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	slog.Info("Server.Shutdown: stopping API server")
	return s.http.Shutdown(ctx)
}
