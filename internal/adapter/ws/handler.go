// Package ws implements the WebSocket adapter that streams request progress
// to connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection. An empty conversationID
// subscribes to every conversation.
type conn struct {
	ws             *websocket.Conn
	cancel         context.CancelFunc
	conversationID string
}

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	mu             sync.RWMutex
	conns          map[*conn]struct{}
	originPatterns []string
}

// NewHub creates a hub. originPatterns restrict cross-origin upgrades; an
// empty list accepts any origin.
func NewHub(originPatterns ...string) *Hub {
	return &Hub{
		conns:          make(map[*conn]struct{}),
		originPatterns: originPatterns,
	}
}

// HandleWS upgrades the request to a WebSocket. The optional
// conversation_id query parameter limits delivery to one conversation.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	if len(h.originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	// The connection outlives the upgrade request.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel, conversationID: r.URL.Query().Get("conversation_id")}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "conversation_id", c.conversationID)

	// Read loop detects disconnects and consumes pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends msg to every connection subscribed to its conversation.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c.conversationID == "" || c.conversationID == msg.ConversationID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "error", err)
			h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client. Each read loop performs the close
// handshake once its context is cancelled.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.cancel()
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
