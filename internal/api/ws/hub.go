package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/judge/internal/observability"
	"github.com/your-org/judge/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the API key and CORS layers
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	visitorID *uuid.UUID // optional filter
}

func (c *Client) wants(msg message) bool {
	if c.visitorID == nil {
		return true
	}
	return msg.visitorID != nil && *msg.visitorID == *c.visitorID
}

type message struct {
	data      []byte
	visitorID *uuid.UUID
}

// Hub maintains active WebSocket clients and fans visitor events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub event loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "visitor_filter", client.visitorID)

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
				slog.Debug("ws client disconnected")
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// too slow to keep up
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast forwards an encoded EventEnvelope as received from the queue.
func (h *Hub) Broadcast(payload []byte) error {
	var env dto.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	h.send(message{data: payload, visitorID: env.VisitorID})
	return nil
}

func (h *Hub) send(msg message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *Hub) BroadcastEvent(env *dto.EventEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	h.send(message{data: data, visitorID: env.VisitorID})
}

// HandleWS upgrades the request. ?visitor_id= limits the feed to one visitor.
func (h *Hub) HandleWS(c *gin.Context) {
	var filter *uuid.UUID
	if v := c.Query("visitor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visitor_id"})
			return
		}
		filter = &id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 64),
		visitorID: filter,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	// incoming messages are ignored; reading detects disconnects
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
