package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lucidesk/lucidesk/internal/logging"
)

// Hub upgrades HTTP requests into viewer sessions and tracks them for
// shutdown. It implements http.Handler; the HTTP front routes every
// WebSocket upgrade here regardless of path.
type Hub struct {
	deps     Deps
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// NewHub wires a hub to the server components sessions will drive.
func NewHub(deps Deps) *Hub {
	return &Hub{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Viewers reach the page by IP or hostname interchangeably;
			// the Origin header is not checked.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[*Session]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed", logging.KeyRemoteAddr, r.RemoteAddr, logging.KeyError, err)
		return
	}

	sess := newSession(newClient(conn), h.deps, r.RemoteAddr, r.Host)
	h.add(sess)
	defer h.remove(sess)

	sess.run()
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// SessionCount returns the number of live viewer sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// StopAll force-closes every session's connection. Readers unblock and
// each session finishes its own teardown on its handler goroutine.
func (h *Hub) StopAll() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}
