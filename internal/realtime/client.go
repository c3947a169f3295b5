package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one websocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]struct{} // guarded by hub.mu
	userID int64
	role   string
}

type inbound struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

type reply struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Error string `json:"error,omitempty"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Int64("userID", c.userID).Msg("realtime read")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.reply(reply{Type: "error", Error: "malformed frame"})
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in inbound) {
	switch in.Type {
	case "ping":
		c.reply(reply{Type: "pong"})
	case "subscribe":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := Authorize(ctx, c.hub.own, c.userID, c.role, in.Topic)
		cancel()
		if err != nil {
			msg := err.Error()
			if !errors.Is(err, ErrBadTopic) && !errors.Is(err, ErrForbidden) {
				c.hub.log.Warn().Err(err).Str("topic", in.Topic).Msg("realtime authorize")
				msg = ErrForbidden.Error()
			}
			c.reply(reply{Type: "error", Topic: in.Topic, Error: msg})
			return
		}
		c.hub.subscribe(c, in.Topic)
		c.reply(reply{Type: "subscribed", Topic: in.Topic})
	case "unsubscribe":
		c.hub.unsubscribe(c, in.Topic)
		c.reply(reply{Type: "unsubscribed", Topic: in.Topic})
	default:
		c.reply(reply{Type: "error", Error: "unknown frame type"})
	}
}

func (c *Client) reply(r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
