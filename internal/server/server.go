// Package server exposes the gateway over HTTP: the duplex WebSocket
// control plane plus the peripheral health, metrics, and webchat endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zankora/agw/internal/config"
	"github.com/zankora/agw/internal/gateway"
	"github.com/zankora/agw/internal/metrics"
	"github.com/zankora/agw/internal/security"
)

// Version is reported by hello and healthz.
const Version = "0.1.0"

// ServerName identifies this implementation on the wire.
const ServerName = "agent-gateway"

const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>agw</title></head>
<body>
<h1>agw</h1>
<p>Agent gateway control plane. Connect a client to the WebSocket endpoint.</p>
</body>
</html>
`

// Server owns the HTTP listener and the control-plane router.
type Server struct {
	cfg    *config.Config
	gw     *gateway.Gateway
	inst   *metrics.Instruments
	router *Router

	upgrader websocket.Upgrader
}

// New builds a Server over a started gateway. inst may be nil in tests.
func New(cfg *config.Config, gw *gateway.Gateway, inst *metrics.Instruments) *Server {
	s := &Server{
		cfg:  cfg,
		gw:   gw,
		inst: inst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The control plane is key-authenticated, not cookie
			// authenticated, so origin checks add nothing.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.router = newRouter(s)
	return s
}

// Handler returns the full HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Server.WSPath, s.handleWS)
	mux.HandleFunc(s.cfg.Server.HealthPath, s.handleHealth)
	if s.inst != nil {
		mux.Handle(s.cfg.Server.MetricsPath, s.inst.Handler())
	}
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, fmt.Sprintf("%d", s.cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr, "ws_path", s.cfg.Server.WSPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":      true,
		"service": ServerName,
		"version": Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

// handleWS authenticates, upgrades, and hands the socket to a client
// session. Auth happens before the upgrade so a bad key costs one HTTP 401,
// not a WebSocket handshake.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Security.RequireClientAuth {
		key := r.Header.Get("x-api-key")
		if !security.VerifyClientKey(key, s.cfg.Security.ClientAPIKeys) {
			slog.Warn("ws auth rejected", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	// The request context's fate after a hijack varies; the session owns
	// its own lifetime and ends when the socket does.
	c := newClient(s, conn)
	c.serve(context.Background())
}
