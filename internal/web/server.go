// Package web is the single HTTP front of the server: one TCP listener
// that serves the viewer assets from the public directory and hands
// WebSocket upgrades, on any path, to the control channel.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/lucidesk/lucidesk/internal/logging"
)

var log = logging.L("web")

const indexPage = "viewer.html"

// Options configures the HTTP front.
type Options struct {
	Addr      string
	PublicDir string

	// MaxClients caps concurrently accepted connections, viewers
	// included. Zero disables the cap.
	MaxClients int
}

// Server owns the listener and routes each request either to the WebSocket
// hub or to the static file tree.
type Server struct {
	opts Options
	hub  http.Handler

	srv *http.Server
	ln  net.Listener
}

// NewServer builds the front. hub receives every request that carries
// WebSocket upgrade headers.
func NewServer(opts Options, hub http.Handler) *Server {
	return &Server{opts: opts, hub: hub}
}

// Start binds the listener and begins serving in the background. A bind
// failure is returned to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	if s.opts.MaxClients > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxClients)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", logging.KeyError, err)
		}
	}()

	log.Info("listening", "addr", ln.Addr().String(), "publicDir", s.opts.PublicDir)
	return nil
}

// Stop shuts the server down, waiting for in-flight plain HTTP requests.
// Hijacked WebSocket connections are closed by the hub, not here.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Addr reports the bound address, useful when Options.Addr used port 0.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.hub.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.serveStatic(w, r)
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path
	if name == "/" {
		name = "/" + indexPage
	}
	name = path.Clean(name)

	base := filepath.Clean(s.opts.PublicDir)
	full := filepath.Join(base, filepath.FromSlash(name))
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// The viewer requires cross-origin isolation; both headers ship on
	// every asset.
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	if strings.EqualFold(filepath.Ext(full), ".html") {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	}

	http.ServeFile(w, r, full)
}
