package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hangerworks/api/internal/services"
)

// PubSubPublisher fans order and payment lifecycle events out to Pub/Sub
// topics for downstream consumers (dashboards, exports, integrations).
type PubSubPublisher struct {
	orders   *pubsub.Topic
	payments *pubsub.Topic
	marshal  func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a publisher over the two lifecycle topics.
func NewPubSubPublisher(orders, payments *pubsub.Topic) (*PubSubPublisher, error) {
	if orders == nil {
		return nil, errors.New("pubsub event publisher: orders topic is required")
	}
	if payments == nil {
		return nil, errors.New("pubsub event publisher: payments topic is required")
	}
	return &PubSubPublisher{
		orders:   orders,
		payments: payments,
		marshal:  json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues one order lifecycle event.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orders == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "actorId", event.ActorID)
	if event.Revision > 0 {
		attrs["revision"] = strconv.FormatInt(event.Revision, 10)
	}

	result := p.orders.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PublishPaymentEvent enqueues one payment verification event.
func (p *PubSubPublisher) PublishPaymentEvent(ctx context.Context, event services.PaymentEvent) error {
	if p == nil || p.payments == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "paymentId", event.PaymentID)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.Status))
	setAttr(attrs, "actorId", event.ActorID)

	result := p.payments.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish payment event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
