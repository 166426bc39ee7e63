// Package server implements NEXUS3's HTTP Server (C14): single-bind
// listener, bearer-token auth, path routing onto the RPC dispatchers, an
// already-running-server probe, and graceful shutdown. Grounded on the
// teacher's internal/gateway/http_server.go (bind/serve/shutdown idiom)
// and internal/web/middleware.go (bearer auth shape).
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus3/nexus3/internal/logmux"
	"github.com/nexus3/nexus3/internal/metrics"
	"github.com/nexus3/nexus3/internal/persistence"
	"github.com/nexus3/nexus3/internal/pool"
	"github.com/nexus3/nexus3/internal/rpc"
)

const serviceName = "nexus3"

// Config wires the Server's dependencies.
type Config struct {
	Addr        string // host:port to bind
	TokenPath   string // path the bearer token is read from / written to
	Token       string // pre-derived bearer token; empty means Serve derives one from TokenPath itself
	Pool        *pool.Pool
	Persistence *persistence.Store // optional: enables auto-restore on /agent/{id}
	Multiplexer *logmux.Multiplexer
	Metrics     *metrics.Metrics // optional
	Logger      *slog.Logger
	Now         func() time.Time

	// ProviderCloser, if non-nil, is closed during graceful shutdown
	// (spec §4.14: "close the provider's HTTP clients").
	ProviderCloser io.Closer
}

// Server is NEXUS3's single-bind HTTP/JSON-RPC front door.
type Server struct {
	cfg    Config
	global *rpc.GlobalDispatcher

	mu       sync.Mutex
	token    string
	listener net.Listener
	http     *http.Server
}

// New constructs a Server. Call Serve to bind and run it.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{cfg: cfg}
	s.global = rpc.NewGlobalDispatcher(cfg.Pool, s.Shutdown)
	return s
}

// Serve probes for an already-running server, binds addr, and serves until
// ctx is cancelled or Shutdown is called. Returns ErrAlreadyRunning or
// ErrPortHeld (spec §4.14's "distinct error" requirement) without binding
// if the probe finds something already listening.
func (s *Server) Serve(ctx context.Context) error {
	if err := probe(s.cfg.Addr); err != nil {
		return err
	}

	token := s.cfg.Token
	if token == "" {
		var err error
		token, err = LoadOrCreateToken(s.cfg.TokenPath)
		if err != nil {
			return err
		}
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}

	if err := persistToken(s.cfg.TokenPath, token); err != nil {
		listener.Close()
		return err
	}

	s.mu.Lock()
	s.token = token
	s.listener = listener
	s.http = &http.Server{
		Handler:           s.authMiddleware(s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpServer := s.http
	s.mu.Unlock()

	s.cfg.Logger.Info("server: bound", "addr", s.cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.Shutdown(context.Background())
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /", s.handleGlobal)
	mux.HandleFunc("POST /rpc", s.handleGlobal)
	mux.HandleFunc("POST /agent/{agent_id}", s.handleAgent)
	return mux
}

// authMiddleware enforces the bearer API key on every endpoint except
// /healthz (spec §6: "all endpoints except a liveness probe").
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		presented := strings.TrimPrefix(header, prefix)

		s.mu.Lock()
		expected := s.token
		s.mu.Unlock()

		if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"service": serviceName, "status": "ok"})
}

func (s *Server) handleGlobal(w http.ResponseWriter, r *http.Request) {
	var req rpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, rpc.Response{JSONRPC: "2.0", Error: &rpc.Error{
			Code: rpc.ErrCodeParseError, Message: "invalid JSON-RPC request: " + err.Error(),
		}})
		return
	}

	start := s.cfg.Now()
	resp := s.global.Dispatch(r.Context(), req)
	s.cfg.Metrics.ObserveDispatch(req.Method, start, resp.Error != nil)
	s.refreshPoolGauge()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")

	var req rpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, rpc.Response{JSONRPC: "2.0", Error: &rpc.Error{
			Code: rpc.ErrCodeParseError, Message: "invalid JSON-RPC request: " + err.Error(),
		}})
		return
	}

	a, err := rpc.RestoreOrNotFound(s.cfg.Pool, s.cfg.Persistence, agentID)
	if err != nil {
		writeJSON(w, http.StatusOK, rpc.Response{JSONRPC: "2.0", ID: req.ID, Error: &rpc.Error{
			Code: rpc.ErrCodeAgentNotFound, Message: err.Error(),
		}})
		return
	}

	dispatcher := rpc.NewAgentDispatcher(a, s.cfg.Multiplexer, s.cfg.Persistence)

	start := s.cfg.Now()
	resp := dispatcher.Dispatch(r.Context(), req)
	s.cfg.Metrics.ObserveDispatch(agentID+"."+req.Method, start, resp.Error != nil)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) refreshPoolGauge() {
	if s.cfg.Metrics == nil {
		return
	}
	var named, temp int
	for _, snap := range s.cfg.Pool.List() {
		if snap.IsTemp {
			temp++
		} else {
			named++
		}
	}
	s.cfg.Metrics.SetPoolSize(named, temp)
}

// Shutdown signals in-flight requests via their cancellation tokens,
// destroys every pooled agent (closing its storage cleanly), closes the
// provider's HTTP clients, deletes the token file, and stops the HTTP
// server (spec §4.14's graceful shutdown sequence).
func (s *Server) Shutdown(ctx context.Context) {
	s.cfg.Pool.DestroyAll()

	if s.cfg.ProviderCloser != nil {
		if err := s.cfg.ProviderCloser.Close(); err != nil {
			s.cfg.Logger.Warn("server: close provider client failed", "error", err)
		}
	}

	if err := deleteToken(s.cfg.TokenPath); err != nil {
		s.cfg.Logger.Warn("server: delete token file failed", "error", err)
	}

	s.mu.Lock()
	httpServer := s.http
	s.mu.Unlock()
	if httpServer == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.cfg.Logger.Warn("server: http shutdown error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
