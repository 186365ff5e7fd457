// Package transport implements the chat surface: one websocket
// connection per user, carrying private messages in both
// directions. Outbound messages get a handle so they can later be
// edited in place.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	outboxSize   = 64
	writeTimeout = 10 * time.Second
	readLimit    = 4 << 10 // chat messages are short
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Frame is the wire format. Inbound frames carry type "message"
// and a text body; outbound frames additionally carry the message
// id, and type "edit" replaces a previously sent message.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// MessageHandler consumes one inbound chat message. It must not
// block: the conversation engine queues per user internally.
type MessageHandler func(externalID, text string)

// Hub tracks the live connection per user and routes frames. It
// implements the Sender interface of both the conversation engine
// and the notification dispatcher.
type Hub struct {
	handler MessageHandler
	logger  *slog.Logger

	mu    sync.RWMutex
	conns map[string]*client
}

type client struct {
	externalID string
	ws         *websocket.Conn
	outbox     chan Frame
	closeOnce  sync.Once
}

func NewHub(handler MessageHandler, logger *slog.Logger) *Hub {
	return &Hub{
		handler: handler,
		logger:  logger,
		conns:   make(map[string]*client),
	}
}

// Register adopts an upgraded websocket for the user and starts
// its pumps. A second connection for the same user replaces the
// first.
func (h *Hub) Register(externalID string, ws *websocket.Conn) {
	c := &client{
		externalID: externalID,
		ws:         ws,
		outbox:     make(chan Frame, outboxSize),
	}

	h.mu.Lock()
	if old, ok := h.conns[externalID]; ok {
		go old.close()
	}
	h.conns[externalID] = c
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.outbox)
		_ = c.ws.Close()
	})
}

// readPump feeds inbound message frames to the handler until the
// connection drops. Frames of any other type are ignored; the
// socket is private per user, so there is nothing to filter beyond
// that.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("transport: read failed", "user", c.externalID, "error", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.logger.Debug("transport: bad frame", "user", c.externalID, "error", err)
			continue
		}
		if f.Type != "" && f.Type != "message" {
			continue
		}
		if f.Text == "" {
			continue
		}
		h.handler(c.externalID, f.Text)
	}
}

// writePump owns all writes to the socket: queued frames plus the
// keepalive pings.
func (h *Hub) writePump(c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case f, ok := <-c.outbox:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(f); err != nil {
				h.logger.Debug("transport: write failed", "user", c.externalID, "error", err)
				c.close()
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if h.conns[c.externalID] == c {
		delete(h.conns, c.externalID)
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) lookup(externalID string) (*client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[externalID]
	if !ok {
		return nil, fmt.Errorf("user %s is not connected", externalID)
	}
	return c, nil
}

// Send queues a message for the user and returns its handle.
func (h *Hub) Send(ctx context.Context, externalID, text string) (string, error) {
	c, err := h.lookup(externalID)
	if err != nil {
		return "", err
	}
	f := Frame{Type: "message", ID: uuid.NewString(), Text: text}
	if err := h.enqueue(ctx, c, f); err != nil {
		return "", err
	}
	return f.ID, nil
}

// Edit queues a replacement for a previously sent message.
func (h *Hub) Edit(ctx context.Context, externalID, messageID, text string) error {
	c, err := h.lookup(externalID)
	if err != nil {
		return err
	}
	return h.enqueue(ctx, c, Frame{Type: "edit", ID: messageID, Text: text})
}

func (h *Hub) enqueue(ctx context.Context, c *client, f Frame) error {
	select {
	case c.outbox <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops every connection; used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		delete(h.conns, id)
		c.close()
	}
}
