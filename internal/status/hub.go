// Package status implements the ambient HTTP/WebSocket observability
// surface (spec §9): a read-only health/status/metrics endpoint plus a
// broadcast feed of portfolio snapshots, polled from the persisted state
// store rather than wired into the orchestrator's hot path.
//
// The WebSocket hub is adapted from internal/api/websocket.go (teacher):
// same register/unregister/broadcast channel shape and ReadPump/WritePump
// pattern, narrowed to one message type (a portfolio snapshot) instead of
// the teacher's order/position/trade/signal/risk channel set, since this
// engine has exactly one kind of state worth streaming.
package status

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/pkg/types"
)

// SnapshotMessage is the single WebSocket payload shape this surface emits.
type SnapshotMessage struct {
	Type      string              `json:"type"`
	Portfolio types.PortfolioState `json:"portfolio"`
	Timestamp int64               `json:"timestamp"`
}

// Client is one connected WebSocket subscriber.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans portfolio snapshots out to every connected client.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub builds an idle Hub; call Run to start its event loop.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("status.hub"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes register/unregister/broadcast events until ctx signals via
// the stop channel closing (the caller owns the goroutine lifetime).
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		case <-stop:
			return
		}
	}
}

// BroadcastSnapshot publishes the current portfolio state to every client.
func (h *Hub) BroadcastSnapshot(p types.PortfolioState) {
	msg := SnapshotMessage{Type: "portfolio_snapshot", Portfolio: p, Timestamp: time.Now().UnixMilli()}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal snapshot", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping snapshot")
	}
}

// ClientCount reports the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{id: id, hub: hub, conn: conn, send: make(chan []byte, 16)}
}

// readPump drains (and discards) client frames, purely to detect close/ping
// per gorilla/websocket convention; this surface is broadcast-only.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
