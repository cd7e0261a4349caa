package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/stitchline/api/internal/services"
)

// PubSubEventPublisher publishes order lifecycle and stock movement events to
// Pub/Sub topics. Either topic may be nil, in which case that event family is
// disabled.
type PubSubEventPublisher struct {
	orders  *pubsub.Topic
	stock   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(orders, stock *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orders == nil && stock == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		orders:  orders,
		stock:   stock,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues an order lifecycle event on the orders topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) (string, error) {
	if p == nil || p.orders == nil {
		return "", errors.New("pubsub event publisher: orders topic not configured")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", event.Status)
	setAttr(attrs, "previousStatus", event.PreviousStatus)

	result := p.orders.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// PublishStockEvent enqueues a stock movement event on the stock topic.
func (p *PubSubEventPublisher) PublishStockEvent(ctx context.Context, event services.StockEvent) (string, error) {
	if p == nil || p.stock == nil {
		return "", errors.New("pubsub event publisher: stock topic not configured")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal stock event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "reservationId", event.ReservationID)
	setAttr(attrs, "orderRef", event.OrderRef)
	setAttr(attrs, "reason", event.Reason)

	result := p.stock.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish stock event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
