package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"bmadloop/internal/events"
)

// Client is one connected websocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan events.Event

	mu     sync.Mutex
	closed bool
}

// Hub maintains the set of active websocket clients and broadcasts
// runner events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan events.Event
	register   chan *Client
	unregister chan *Client
	logger     *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// NewHub creates a websocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan events.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			h.running = false
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- ev:
				default:
					// Client buffer full, drop the connection.
					go func(c *Client) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop stops the hub.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.running {
		close(h.stopCh)
	}
	h.mu.Unlock()
}

// Broadcast sends an event to all connected clients. A full broadcast
// buffer drops the event.
func (h *Hub) Broadcast(ev events.Event) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return
	}
	select {
	case h.broadcast <- ev:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWs upgrades a request to a websocket subscription.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan events.Event, 64),
	}
	h.register <- client

	go client.writePump()
	client.readPump()
}

// readPump drains the connection until it closes. Inbound messages are
// ignored: the stream is one-way.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	ctx := c.conn.CloseRead(context.Background())
	<-ctx.Done()
}

// writePump sends events to the connection, pinging to keep it alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := wsjson.Write(ctx, c.conn, ev)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close(websocket.StatusNormalClosure, "")
}
