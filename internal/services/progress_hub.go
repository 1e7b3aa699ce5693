package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/naturelog/client/internal/models"
	"github.com/naturelog/client/internal/observability"
)

// ProgressClient is one connected UI websocket
type ProgressClient struct {
	ID         string
	Conn       *websocket.Conn
	Send       chan []byte
	hub        *ProgressHub
	closedOnce sync.Once
}

// ProgressHub fans sync progress events out to connected UI clients. Events
// are fire-and-forget: a slow client gets disconnected rather than stalling
// the sync pass.
type ProgressHub struct {
	clients    map[*ProgressClient]bool
	register   chan *ProgressClient
	unregister chan *ProgressClient
	broadcast  chan []byte
	mu         sync.RWMutex
	log        *observability.Logger
}

// NewProgressHub creates a new ProgressHub
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		clients:    make(map[*ProgressClient]bool),
		register:   make(chan *ProgressClient),
		unregister: make(chan *ProgressClient),
		broadcast:  make(chan []byte, 256),
		log:        observability.GetLogger().WithField("component", "progress-hub"),
	}
}

// Run starts the hub's main loop
func (h *ProgressHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debugf("progress client connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			h.log.Debugf("progress client disconnected: %s", client.ID)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// client buffer full, drop the connection
					go func(c *ProgressClient) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub
func (h *ProgressHub) Register(client *ProgressClient) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *ProgressHub) Unregister(client *ProgressClient) {
	h.unregister <- client
}

// Publish broadcasts one sync event to every connected client
func (h *ProgressHub) Publish(event models.SyncEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Errorf("could not marshal sync event: %v", err)
		return
	}
	h.broadcast <- data
}

// ClientCount returns the number of connected clients
func (h *ProgressHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient creates a client connected to this hub
func (h *ProgressHub) NewClient(id string, conn *websocket.Conn) *ProgressClient {
	return &ProgressClient{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, 64),
		hub:  h,
	}
}

// Close closes the client connection
func (c *ProgressClient) Close() {
	c.closedOnce.Do(func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	})
}

// WritePump pumps events from the hub to the websocket connection
func (c *ProgressClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump drains the connection so pongs and close frames are processed.
// The progress feed is one-directional; inbound payloads are discarded.
func (c *ProgressClient) ReadPump() {
	defer c.Close()

	c.Conn.SetReadLimit(4 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}
