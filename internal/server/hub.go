package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"styleforge/internal/model"
)

const (
	watchWSWriteWait = 10 * time.Second
	watchWSPongWait  = 60 * time.Second
	watchWSPingEvery = (watchWSPongWait * 9) / 10
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// watchFrame is the outbound message pushed to watchers whenever a
// variation changes while streaming, waiting for quota, completing or
// failing.
type watchFrame struct {
	Type      string                    `json:"type"`
	SessionID string                    `json:"sessionId"`
	Variation *model.ComponentVariation `json:"variation,omitempty"`
	Message   string                    `json:"message,omitempty"`
}

// wsConn serializes writes; broadcasts and the ping loop share one
// underlying connection.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(watchWSWriteWait))
	return w.c.WriteJSON(v)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(watchWSWriteWait))
	return w.c.WriteMessage(websocket.PingMessage, nil)
}

// Hub fans variation updates out to websocket watchers per session.
// It implements engine.Observer.
type Hub struct {
	mu    sync.Mutex
	conns map[string]map[*wsConn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*wsConn]struct{})}
}

func (h *Hub) add(sessionID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[sessionID]
	if !ok {
		set = make(map[*wsConn]struct{})
		h.conns[sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(sessionID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, sessionID)
		}
	}
}

// VariationUpdated broadcasts the new variation state to all watchers
// of the session. Slow or dead connections are dropped.
func (h *Hub) VariationUpdated(sessionID string, v model.ComponentVariation) {
	frame := watchFrame{Type: "variation", SessionID: sessionID, Variation: &v}

	h.mu.Lock()
	targets := make([]*wsConn, 0, len(h.conns[sessionID]))
	for c := range h.conns[sessionID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(frame); err != nil {
			log.Printf("watch ws: dropping conn for %s: %v", sessionID, err)
			h.remove(sessionID, c)
			_ = c.c.Close()
		}
	}
}

// handleWatchWS upgrades the connection and keeps it subscribed to one
// session until the peer goes away.
func (s *Server) handleWatchWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, ok := s.store.Get(sessionID); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("watch ws: upgrade failed: %v", err)
		return
	}
	wc := &wsConn{c: conn}
	s.hub.add(sessionID, wc)
	defer func() {
		s.hub.remove(sessionID, wc)
		_ = conn.Close()
	}()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(watchWSPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchWSPongWait))
	})

	go func() {
		ticker := time.NewTicker(watchWSPingEvery)
		defer ticker.Stop()
		for range ticker.C {
			if err := wc.ping(); err != nil {
				return
			}
		}
	}()

	// Watchers only listen; we still read to notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
