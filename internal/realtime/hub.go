// Package realtime pushes order, cart and notification events to connected
// websocket clients. Clients subscribe to topics such as "order:42"; the hub
// fans every published event out to the subscribers of its topic.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/01moynul/zyra-golang/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64

	// RedisChannel carries events between API instances.
	RedisChannel = "zyra:realtime"
)

// Message is an event delivered to subscribers of Topic.
type Message struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// Hub tracks connected clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	closed  bool

	log      zerolog.Logger
	own      Ownership
	upgrader websocket.Upgrader
	rdb      *redis.Client
}

// NewHub creates a hub. allowedOrigin of "" or "*" accepts any origin.
func NewHub(log zerolog.Logger, own Ownership, allowedOrigin string) *Hub {
	h := &Hub{
		topics:  make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		log:     log.With().Str("component", "realtime").Logger(),
		own:     own,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedOrigin == "" || allowedOrigin == "*" || origin == allowedOrigin
		},
	}
	return h
}

// UseRedis routes publishes through a redis channel so every instance
// subscribed to it delivers the event. Call Listen to consume it.
func (h *Hub) UseRedis(rdb *redis.Client) {
	h.rdb = rdb
}

// Publish sends an event to all subscribers of topic. It never blocks on
// slow clients.
func (h *Hub) Publish(ctx context.Context, topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal realtime payload: %w", err)
	}
	msg := Message{Type: "event", Topic: topic, Event: event, Payload: raw, At: time.Now().UTC()}

	if h.rdb != nil {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal realtime message: %w", err)
		}
		if err := h.rdb.Publish(ctx, RedisChannel, data).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
		return nil
	}

	h.deliver(msg)
	return nil
}

// Listen consumes the redis channel until ctx is done.
func (h *Hub) Listen(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	sub := h.rdb.Subscribe(ctx, RedisChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				h.log.Warn().Err(err).Msg("dropping malformed realtime message")
				continue
			}
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("topic", msg.Topic).Msg("marshal realtime message")
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.topics[msg.Topic] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn().Int64("userID", c.userID).Msg("disconnecting slow realtime client")
		h.remove(c)
	}
}

// Subscribers returns the number of clients subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// ServeWS upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64, role string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		topics: make(map[string]struct{}),
		userID: userID,
		role:   role,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return fmt.Errorf("realtime hub closed")
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeConnected(1)

	go c.writePump()
	c.readPump()
	return nil
}

func (h *Hub) subscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
	c.topics[topic] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropTopic(c, topic)
}

func (h *Hub) dropTopic(c *Client, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(c.topics, topic)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for topic := range c.topics {
		h.dropTopic(c, topic)
	}
	close(c.send)
	h.mu.Unlock()
	metrics.RealtimeConnected(-1)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}
