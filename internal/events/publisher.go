// Package events publishes order lifecycle events to Kafka. Consumers
// (storefront tabs, back-office dashboards) subscribe to the topic
// instead of polling the orders collection.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/modavn/storefront/internal/models"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
)

// OrderEvent is the wire shape of one order lifecycle event.
type OrderEvent struct {
	Type       string             `json:"type"`
	OrderID    int64              `json:"order_id"`
	UserID     int64              `json:"user_id"`
	Status     models.OrderStatus `json:"status"`
	PrevStatus models.OrderStatus `json:"prev_status,omitempty"`
	Total      int64              `json:"total,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Publisher writes order events to a Kafka topic. A nil Publisher is
// valid and drops everything, so wiring stays unconditional.
type Publisher struct {
	client *kgo.Client
	topic  string
}

// NewPublisher connects to the given brokers. Returns nil when no
// brokers are configured.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, err
	}

	return &Publisher{client: client, topic: topic}, nil
}

// OrderCreated publishes an order.created event.
func (p *Publisher) OrderCreated(ctx context.Context, order *models.Order) {
	p.publish(ctx, OrderEvent{
		Type:       TypeOrderCreated,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		Total:      order.Total,
		OccurredAt: order.CreatedAt,
	})
}

// OrderStatusChanged publishes an order.status_changed event.
func (p *Publisher) OrderStatusChanged(ctx context.Context, order *models.Order, prev models.OrderStatus, at time.Time) {
	p.publish(ctx, OrderEvent{
		Type:       TypeOrderStatusChanged,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		PrevStatus: prev,
		OccurredAt: at,
	})
}

// publish is fire-and-forget; the event stream is advisory and never
// part of the transactional contract.
func (p *Publisher) publish(ctx context.Context, event OrderEvent) {
	if p == nil {
		return
	}

	value, err := json.Marshal(event)
	if err != nil {
		log.Printf("[EVENTS] failed to marshal %s event for order %d: %v", event.Type, event.OrderID, err)
		return
	}

	record := &kgo.Record{Topic: p.topic, Value: value}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			log.Printf("[EVENTS] failed to publish %s event for order %d: %v", event.Type, event.OrderID, err)
		}
	})
}

// Close flushes and shuts down the Kafka client.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.client.Close()
}
