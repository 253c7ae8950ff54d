package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/xAleksandar/tonight-app-sub003/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 20
)

// accessChecker re-authorizes a caller against a conversation. Room joins run
// through it on every attempt so a block or a status change created
// mid-session takes effect on the next join, not just at connect time.
type accessChecker interface {
	Resolve(ctx context.Context, conversationID string, callerID string) (*services.ChatAccess, error)
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	name   string
	send   chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, name string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		name:   name,
		send:   make(chan []byte, 32),
	}
}

func (c *Client) ReadPump(access accessChecker) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleInbound(access, payload)
	}
}

// handleInbound dispatches one client frame. Protocol errors come back as
// error events on the same connection; nothing a client sends can tear down
// the transport.
func (c *Client) handleInbound(access accessChecker, payload []byte) {
	var incoming struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(payload, &incoming); err != nil {
		c.writeEvent(&Event{Type: EventError, Error: "invalid message payload"})
		return
	}
	if incoming.ConversationID == "" {
		c.writeEvent(&Event{Type: EventError, Error: "missing conversation id"})
		return
	}

	switch incoming.Type {
	case "join":
		if _, err := access.Resolve(context.Background(), incoming.ConversationID, c.userID); err != nil {
			c.writeEvent(&Event{
				Type:           EventError,
				ConversationID: incoming.ConversationID,
				Error:          accessDenialReason(err),
			})
			return
		}
		c.hub.Join(c, incoming.ConversationID)
	case "leave":
		c.hub.Leave(c, incoming.ConversationID)
	case EventTypingStart, EventTypingStop:
		c.hub.Relay(c, incoming.ConversationID, incoming.Type)
	default:
		c.writeEvent(&Event{Type: EventError, Error: "unsupported message type"})
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeEvent(event *Event) {
	if event.Timestamp == "" {
		event.Timestamp = services.FormatChatTimestamp(time.Now())
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.Unregister(c)
	}
}

// accessDenialReason maps resolver errors to client-facing strings. A blocked
// pair reads the same as a non-member so the block itself is not disclosed.
func accessDenialReason(err error) string {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		return "conversation not found"
	case errors.Is(err, services.ErrConversationNotAccepted):
		return "join request not accepted"
	case errors.Is(err, services.ErrNotConversationMember), errors.Is(err, services.ErrConversationBlocked):
		return "forbidden"
	default:
		return "unable to join conversation"
	}
}
