// Package bus defines the change-notification contract that keeps every open
// order session converged on server truth. Implementations deliver row-level
// mutation events (insert/update/delete with old and new payloads) to
// subscribers registered for a topic and optional filter.
package bus

import (
	"context"
	"time"
)

// EventType classifies a row-level mutation.
type EventType string

const (
	// EventInsert signals a newly created record.
	EventInsert EventType = "INSERT"
	// EventUpdate signals a mutated record.
	EventUpdate EventType = "UPDATE"
	// EventDelete signals a removed record.
	EventDelete EventType = "DELETE"
)

// Topic names the entity stream a subscription attaches to.
type Topic string

const (
	// TopicOrders streams order record mutations.
	TopicOrders Topic = "orders"
	// TopicPayments streams active-payment slot mutations.
	TopicPayments Topic = "payments"
)

// Event is one delivered mutation. New carries the post-mutation fields
// (nil for deletes), Old the pre-mutation fields when known. Revision is the
// record's commit version at event time; consumers drop events older than
// their local revision for the affected fields.
type Event struct {
	Type       EventType
	Topic      Topic
	EntityID   string
	OrderID    string
	Revision   int64
	Old        map[string]any
	New        map[string]any
	OccurredAt time.Time
}

// Filter narrows a subscription. Zero values match everything on the topic.
type Filter struct {
	// EntityID restricts delivery to one record (an order id on TopicOrders).
	EntityID string
	// OrderID restricts payment events to those owned by one order.
	OrderID string
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(event Event) bool {
	if f.EntityID != "" && event.EntityID != f.EntityID {
		return false
	}
	if f.OrderID != "" && event.OrderID != f.OrderID {
		return false
	}
	return true
}

// Handler consumes delivered events. Handlers must be safe to call after the
// subscribing view logically closed; implementations stop delivering once the
// subscription is closed but a handler already in flight may still complete.
type Handler func(event Event)

// Subscription is the explicit handle owning a registered handler's lifecycle.
type Subscription interface {
	// Close unregisters the handler. Closing twice is a no-op.
	Close()
}

// Bus fans mutation events out to subscribers.
type Bus interface {
	Subscribe(ctx context.Context, topic Topic, filter Filter, handler Handler) (Subscription, error)
}
