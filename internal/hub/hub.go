// Package hub fans completed bars and raw ticks out to connected dashboard
// websocket clients, filtered by the symbols each client has asked for.
//
// Delivery is best-effort and at-most-once per connected session: a client
// that cannot keep up, or whose connection fails, is dropped so the rest
// are unaffected. The publisher never blocks.
package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	writeWait     = 5 * time.Second
	pingPeriod    = 30 * time.Second
	sendQueueSize = 64
)

// wsConn is the slice of *websocket.Conn the hub needs; tests substitute a
// fake.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// gorilla/websocket message and control types, mirrored here so the fake
// conn in tests does not need the dependency.
const (
	textMessage = 1
	pingMessage = 9
)

// Client is one downstream websocket connection and its symbol filter. An
// empty filter means the client receives only unfiltered events.
type Client struct {
	conn wsConn
	send chan []byte

	mu      sync.RWMutex
	symbols map[string]struct{}

	closeOnce sync.Once
}

func (c *Client) subscribedTo(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.symbols[symbol]
	return ok
}

// Symbols returns a copy of the client's filter.
func (c *Client) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	return out
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub tracks connected clients and delivers events to them.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*Client]struct{}),
	}
}

// Register adds a connection and starts its writer. The caller keeps
// reading from the connection (for filter updates) and must Unregister on
// read error.
func (h *Hub) Register(conn wsConn) *Client {
	c := &Client{
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		symbols: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	go h.writePump(c)
	h.logger.Info("dashboard client connected", zap.Int("clients", n))
	return c
}

// Unregister drops the client and closes its connection.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.closeSend()
	c.conn.Close()
	h.logger.Info("dashboard client disconnected", zap.Int("clients", n))
}

// UpdateSubscriptions replaces the client's symbol filter.
func (h *Hub) UpdateSubscriptions(c *Client, symbols []string) {
	next := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		next[s] = struct{}{}
	}
	c.mu.Lock()
	c.symbols = next
	c.mu.Unlock()
}

// Publish delivers the event to every client whose filter contains the
// event's symbol, or to all clients when the event carries no symbol. It
// never blocks: clients with a full send queue are dropped.
func (h *Hub) Publish(e Event) {
	data, err := e.MarshalJSON()
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return
	}

	var dropped []*Client
	h.mu.RLock()
	for c := range h.clients {
		if e.Symbol != "" && !c.subscribedTo(e.Symbol) {
			continue
		}
		select {
		case c.send <- data:
		default:
			dropped = append(dropped, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dropped {
		h.logger.Warn("dropping slow dashboard client")
		h.Unregister(c)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump serializes all writes to one connection and keeps it alive
// with pings.
func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(textMessage, data); err != nil {
				h.logger.Warn("dashboard write failed", zap.Error(err))
				h.Unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(pingMessage, nil); err != nil {
				h.Unregister(c)
				return
			}
		}
	}
}
