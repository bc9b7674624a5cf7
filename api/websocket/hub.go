// Package websocket pushes answer streams and ingestion progress to
// browser clients over a per-client connection registry.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/log"
)

// Hub tracks active clients by their caller-chosen client ID. A second
// connection with the same ID replaces the first.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	mu   sync.RWMutex
	stop chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run is the hub's main loop; start it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.id]; ok {
				close(old.send)
				old.conn.Close()
			}
			h.clients[client.id] = client
			h.mu.Unlock()
			log.Debugf("websocket client connected: %s", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			// Only drop the registry entry if it still points at this
			// connection; a reconnect may already have replaced it.
			if current, ok := h.clients[client.id]; ok && current == client {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			log.Debugf("websocket client disconnected: %s", client.id)

		case <-h.stop:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.stop)
}

// Send queues a JSON payload for one client. Unknown clients and full
// send buffers drop the message; progress events are best-effort. The
// read lock is held across the channel send: Run closes send channels
// only under the write lock, so a send can never hit a closed channel.
func (h *Hub) Send(clientID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warnf("failed to marshal websocket payload: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}

	select {
	case client.send <- data:
	default:
		log.Warnf("websocket send buffer full for client %s, dropping message", clientID)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ProgressNotifier routes ingestion progress events to one client.
func (h *Hub) ProgressNotifier(clientID string) domain.ProgressNotifier {
	return domain.ProgressFunc(func(p domain.IngestProgress) {
		h.Send(clientID, ProgressEvent{
			Type:       eventDocumentProgress,
			DocumentID: p.DocumentID,
			Filename:   p.Filename,
			Stage:      p.Stage,
			Progress:   p.Progress,
			Detail:     p.Detail,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		})
	})
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

func NewClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		id:   id,
	}
}

// WritePump drains the send channel to the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Upgrader for WebSocket connections.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}
