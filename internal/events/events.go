// Package events publishes order domain events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderCancelled     = "order.cancelled"

	DefaultTopic = "zyra.orders"
)

// OrderEvent is the JSON body of every order message.
type OrderEvent struct {
	Event       string    `json:"event"`
	OrderID     int64     `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	ShopID      int64     `json:"shopId"`
	UserID      int64     `json:"userId"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"totalAmount"`
	At          time.Time `json:"at"`
}

// Key returns the partition key, e.g. "order-order.created-42".
func (e OrderEvent) Key() string {
	return fmt.Sprintf("order-%s-%d", e.Event, e.OrderID)
}

// Publisher delivers order events.
type Publisher interface {
	PublishOrder(ctx context.Context, events ...OrderEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events to a kafka topic.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaWriter builds the writer used by NewKafkaPublisher.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		MaxAttempts:            3,
		WriteTimeout:           2 * time.Second,
		ReadTimeout:            2 * time.Second,
	}
}

// NewKafkaPublisher connects to brokers lazily; no I/O happens until the
// first publish.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: NewKafkaWriter(brokers, topic)}
}

func (p *KafkaPublisher) PublishOrder(ctx context.Context, events ...OrderEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		if e.At.IsZero() {
			e.At = time.Now().UTC()
		}
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", e.Event, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(e.Key()), Value: value})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write order events: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Noop discards events. Used when no brokers are configured.
type Noop struct{}

func (Noop) PublishOrder(context.Context, ...OrderEvent) error { return nil }
func (Noop) Close() error                                     { return nil }
