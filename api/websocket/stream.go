package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/docqa/pkg/domain"
)

// streamChunkInterval paces the cumulative answer frames so the client
// sees the answer grow rather than arrive all at once.
const streamChunkInterval = 50 * time.Millisecond

// Asker runs the full question pipeline; the websocket layer streams
// the finished answer back word by word.
type Asker interface {
	Ask(ctx context.Context, req domain.AskRequest) (*domain.AskResponse, error)
}

// StreamHandler serves /ws/:client_id connections.
type StreamHandler struct {
	hub   *Hub
	asker Asker
}

func NewStreamHandler(hub *Hub, asker Asker) gin.HandlerFunc {
	h := &StreamHandler{hub: hub, asker: asker}
	return h.Handle
}

// Handle upgrades the connection and reads messages until it closes.
func (h *StreamHandler) Handle(c *gin.Context) {
	clientID := c.Param("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id is required"})
		return
	}

	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to upgrade connection"})
		return
	}

	client := NewClient(h.hub, conn, clientID)
	h.hub.register <- client
	go client.WritePump()

	h.readLoop(client)
}

func (h *StreamHandler) readLoop(client *Client) {
	defer func() {
		h.hub.unregister <- client
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.hub.Send(client.id, StreamEvent{Type: eventError, Error: "invalid message format"})
			continue
		}

		switch msg.Type {
		case "ping":
			h.hub.Send(client.id, StreamEvent{Type: eventPong})
		case "stream_answer":
			h.streamAnswer(client.id, msg)
		default:
			h.hub.Send(client.id, StreamEvent{Type: eventError, Error: "unknown message type"})
		}
	}
}

func boolPtr(b bool) *bool { return &b }

// streamAnswer runs the ask pipeline, then replays the answer as
// cumulative chunks growing word by word.
func (h *StreamHandler) streamAnswer(clientID string, msg InboundMessage) {
	h.hub.Send(clientID, StreamEvent{
		Type:      eventStreamStart,
		Question:  msg.Question,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	resp, err := h.asker.Ask(context.Background(), domain.AskRequest{
		Question:       msg.Question,
		TopK:           msg.TopK,
		ScoreThreshold: msg.ScoreThreshold,
		MaxTokens:      msg.MaxTokens,
		Temperature:    msg.Temperature,
	})
	if err != nil {
		h.hub.Send(clientID, StreamEvent{Type: eventStreamError, Error: err.Error()})
		return
	}
	if !resp.Success && resp.Error != "" {
		h.hub.Send(clientID, StreamEvent{Type: eventStreamError, Error: resp.Error})
		return
	}

	words := strings.Fields(resp.Answer)
	var content strings.Builder
	for i, word := range words {
		if i > 0 {
			content.WriteString(" ")
		}
		content.WriteString(word)
		h.hub.Send(clientID, StreamEvent{
			Type:       eventStreamChunk,
			Content:    content.String(),
			IsComplete: boolPtr(false),
		})
		time.Sleep(streamChunkInterval)
	}

	h.hub.Send(clientID, StreamEvent{
		Type:       eventStreamEnd,
		Content:    resp.Answer,
		LLMUsed:    resp.LLMUsed,
		IsComplete: boolPtr(true),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}
