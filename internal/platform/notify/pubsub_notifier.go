package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// message is the envelope consumed by the notification delivery worker.
type message struct {
	CustomerID string         `json:"customerId"`
	TemplateID string         `json:"templateId"`
	Payload    map[string]any `json:"payload,omitempty"`
	QueuedAt   time.Time      `json:"queuedAt"`
}

// PubSubNotifier queues customer notifications on a Pub/Sub topic. Delivery
// (email, in-app) happens in a separate worker; callers treat enqueueing as
// fire and forget.
type PubSubNotifier struct {
	topic   *pubsub.Topic
	clock   func() time.Time
	marshal func(any) ([]byte, error)
}

// NewPubSubNotifier constructs a notifier over the given topic.
func NewPubSubNotifier(topic *pubsub.Topic) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	return &PubSubNotifier{
		topic:   topic,
		clock:   time.Now,
		marshal: json.Marshal,
	}, nil
}

// Notify enqueues one templated notification for the customer.
func (n *PubSubNotifier) Notify(ctx context.Context, customerID, templateID string, payload map[string]any) error {
	if n == nil || n.topic == nil {
		return errors.New("pubsub notifier: not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return errors.New("pubsub notifier: customer id is required")
	}
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return errors.New("pubsub notifier: template id is required")
	}

	data, err := n.marshal(message{
		CustomerID: customerID,
		TemplateID: templateID,
		Payload:    payload,
		QueuedAt:   n.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"customerId": customerID,
			"templateId": templateID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
