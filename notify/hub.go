/*
hub.go - WebSocket broadcast hub

PURPOSE:
  Pushes two kinds of frames to every connected browser:
    data:update  "this collection changed, refetch it"
    alarm        a rendered audit event for the activity feed

  The hub implements ledger.Notifier, so the mutation gatekeeper fans
  out here without knowing about websockets. Delivery is best effort:
  a client that cannot keep up is dropped, and a mutation never waits
  on the network.

WIRE FORMAT:
  {"type": "data:update", "data": {"type": "lots", "ts": "..."}}
  {"type": "alarm",       "data": {"message": "...", "event": {...}}}

SEE ALSO:
  - ledger/types.go: Notifier interface and AuditEvent
  - api/server.go: mounts HandleWS at /ws
*/
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agrovale/seedlot-engine/ledger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// Outbound buffer per client; a client this far behind is dropped.
	sendBuffer = 256
)

// Frame is the envelope for every outbound message.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type dataUpdate struct {
	Type ledger.EntityKind `json:"type"`
	TS   time.Time         `json:"ts"`
}

type alarmPayload struct {
	Message string            `json:"message"`
	Event   ledger.AuditEvent `json:"event"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out frames to all connected clients.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

var _ ledger.Notifier = (*Hub)(nil)

// NewHub creates a hub. log may be nil.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients come through the same origin-checked API;
			// the socket itself carries no mutations.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("websocket client connected", zap.Int("clients", n))

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.log.Warn("dropping slow websocket client")
				h.drop(c)
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// =============================================================================
// NOTIFIER
// =============================================================================

// DataChanged tells every client to refetch one collection.
func (h *Hub) DataChanged(kind ledger.EntityKind) {
	h.send(Frame{
		Type: "data:update",
		Data: dataUpdate{Type: kind, TS: time.Now().UTC()},
	})
}

// Alarm pushes an audit event with its rendered message.
func (h *Hub) Alarm(ev ledger.AuditEvent) {
	h.send(Frame{
		Type: "alarm",
		Data: alarmPayload{Message: ev.Message(), Event: ev},
	})
}

func (h *Hub) send(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Warn("marshal websocket frame", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("websocket broadcast buffer full, frame dropped")
	}
}

// =============================================================================
// HTTP
// =============================================================================

// HandleWS upgrades the request and attaches the client to the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards inbound frames; the socket is one-way. It exists to
// process control frames and notice disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
