package notification

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const liveWriteTimeout = 5 * time.Second

type liveConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *liveConn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks open websocket connections per actor and implements LiveSocket.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[*liveConn]struct{}
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub accepts upgrades from allowedOrigins; "*" or an empty list allows any origin.
func NewHub(logger zerolog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		conns:  make(map[string]map[*liveConn]struct{}),
		logger: logger.With().Str("component", "live_hub").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Hub) register(actorID string, conn *websocket.Conn) *liveConn {
	c := &liveConn{conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[actorID] == nil {
		h.conns[actorID] = make(map[*liveConn]struct{})
	}
	h.conns[actorID][c] = struct{}{}
	return c
}

func (h *Hub) unregister(actorID string, c *liveConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.conns[actorID]
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.conns, actorID)
	}
}

// TryPush writes payload to every connection of actorID and reports whether any accepted it.
func (h *Hub) TryPush(actorID string, payload []byte) bool {
	h.mu.RLock()
	targets := make([]*liveConn, 0, len(h.conns[actorID]))
	for c := range h.conns[actorID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range targets {
		if err := c.write(payload); err != nil {
			h.logger.Debug().Err(err).Str("actor_id", actorID).Msg("live push failed")
			continue
		}
		delivered = true
	}
	return delivered
}

// ConnectionCount returns the number of open connections for actorID.
func (h *Hub) ConnectionCount(actorID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[actorID])
}

// Serve upgrades the request and keeps the connection registered until the client leaves.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, actorID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("actor_id", actorID).Msg("websocket upgrade failed")
		return
	}
	c := h.register(actorID, conn)
	h.logger.Debug().Str("actor_id", actorID).Msg("live client connected")

	defer func() {
		h.unregister(actorID, c)
		conn.Close()
		h.logger.Debug().Str("actor_id", actorID).Msg("live client disconnected")
	}()

	// Clients do not send anything; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("actor_id", actorID).Msg("live connection closed unexpectedly")
			}
			return
		}
	}
}
