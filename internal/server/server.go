// Package server exposes the session manager over HTTP. JSON only; every
// failure uses the shared taxonomy wire shape.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reasond/internal/audit"
	"reasond/internal/core"
	"reasond/internal/session"
)

// Config holds the listener settings.
type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Version        string
}

// Server wires the manager, the optional audit log and the HTTP surface.
type Server struct {
	cfg     Config
	manager *session.Manager
	audit   *audit.Log
	logger  *zap.Logger
	ready   atomic.Bool
}

// New builds a server. auditLog may be nil.
func New(cfg Config, manager *session.Manager, auditLog *audit.Log, logger *zap.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{cfg: cfg, manager: manager, audit: auditLog, logger: logger}
}

// Handler builds the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", s.handleCreateSession(session.KindRule))
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession(session.KindRule))
	mux.HandleFunc("DELETE /sessions/{id}", s.handleTerminate(session.KindRule))
	mux.HandleFunc("GET /sessions/principal/{pid}", s.handleListSessions)
	mux.HandleFunc("POST /sessions/{id}/evaluate", s.handleEvaluate)

	mux.HandleFunc("POST /devils/sessions", s.handleCreateSession(session.KindLogic))
	mux.HandleFunc("GET /devils/sessions/{id}", s.handleGetSession(session.KindLogic))
	mux.HandleFunc("DELETE /devils/sessions/{id}", s.handleTerminate(session.KindLogic))
	mux.HandleFunc("POST /devils/sessions/{id}/query", s.handleQuery)
	mux.HandleFunc("POST /devils/sessions/{id}/consult", s.handleConsult)
	mux.HandleFunc("POST /devils/sessions/{id}/retract", s.handleRetract)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, core.NewError(core.KindCommandNotFound, "no route for %s %s", r.Method, r.URL.Path))
	})

	var h http.Handler = mux
	h = s.withTimeout(h)
	h = s.withLogging(h)
	h = s.withRecovery(h)
	return h
}

// Run serves until ctx is canceled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.Handler()}
	s.ready.Store(true)
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps any error onto the taxonomy wire shape.
func writeError(w http.ResponseWriter, err error) {
	resp := core.ToResponse(err)
	writeJSON(w, resp.Code, resp)
}

// readJSON decodes a request body into dst under the body cap.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return core.NewError(core.KindInvalidRequestBody,
				"request body exceeds %d bytes", maxErr.Limit)
		}
		return core.WrapError(core.KindInvalidRequestBody, err, "invalid JSON body: %v", err)
	}
	return nil
}
