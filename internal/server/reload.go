package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/anchor-ui/anchor/internal/logging"
	"github.com/coder/websocket"
)

// reloadMessage is the wire format pushed to browsers.
type reloadMessage struct {
	Type string `json:"type"`
}

// reloadHub tracks connected live-reload clients and broadcasts to them.
type reloadHub struct {
	logger logging.Logger

	mutex   sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newReloadHub(logger logging.Logger) *reloadHub {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &reloadHub{
		logger:  logger.WithComponent("reload"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (h *reloadHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The dev server is bound to localhost; cross-origin pages on other
		// local ports are fine.
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket accept failed")
		return
	}

	h.mutex.Lock()
	h.clients[conn] = struct{}{}
	h.mutex.Unlock()

	defer func() {
		h.mutex.Lock()
		delete(h.clients, conn)
		h.mutex.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Clients only listen; the read loop exists to notice disconnects.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// broadcast sends a message to every connected client; clients that fail to
// accept it are dropped.
func (h *reloadHub) broadcast(messageType string) {
	payload, err := json.Marshal(reloadMessage{Type: messageType})
	if err != nil {
		return
	}

	h.mutex.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, conn := range conns {
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close(websocket.StatusPolicyViolation, "write failed")
		}
	}
}

// clientCount returns the number of connected clients.
func (h *reloadHub) clientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// closeAll disconnects every client.
func (h *reloadHub) closeAll() {
	h.mutex.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mutex.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
