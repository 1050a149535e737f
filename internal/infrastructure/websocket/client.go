package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"backoffice/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var clientIDCounter atomic.Uint64

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte // owned by the hub, closed on unregister
	direct  chan []byte // replies to this client's own frames
	visible atomic.Bool
}

// NewClient creates a client. New clients count as visible until they say otherwise.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		id:     clientIDCounter.Add(1),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		direct: make(chan []byte, 8),
	}
	c.visible.Store(true)
	return c
}

// ID returns the client's connection-ordered identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Visible reports whether the client's page is in the foreground.
func (c *Client) Visible() bool {
	return c.visible.Load()
}

type visibilityData struct {
	Visible bool `json:"visible"`
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handle applies one client frame and returns a reply, if any.
func (c *Client) handle(raw []byte) *Message {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	switch msg.Type {
	case MessageTypePing:
		return &Message{Type: MessageTypePong}
	case MessageTypeVisibility:
		var v visibilityData
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return nil
		}
		was := c.visible.Swap(v.Visible)
		if v.Visible && !was {
			// Coming back to the foreground: events may have been ignored meanwhile.
			return &Message{Type: MessageTypeRefresh}
		}
	}
	return nil
}

func (c *Client) reply(msg *Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.direct <- frame:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn(context.Background(), "unexpected websocket close", "client_id", c.id, "error", err)
			}
			return
		}
		if reply := c.handle(raw); reply != nil {
			c.reply(reply)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case frame := <-c.direct:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

// Start registers the client and begins pumping. It returns false when the
// hub has already stopped.
func (c *Client) Start() bool {
	select {
	case c.hub.Register <- c:
	case <-c.hub.done:
		return false
	}
	go c.writePump()
	go c.readPump()
	return true
}
