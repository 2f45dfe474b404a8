package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"

	pfirestore "github.com/hangerworks/api/internal/platform/firestore"
)

const (
	ordersCollection   = "orders"
	paymentsCollection = "payments"

	fieldOrderID  = "orderId"
	fieldRevision = "revision"
)

// FirestoreBus implements Bus on top of Firestore snapshot listeners. Each
// subscription owns one listener goroutine; closing the subscription cancels
// the listener. Listener errors terminate the stream and are logged; the
// session layer treats a silent stream like any other transport loss and
// refetches on reconnect.
type FirestoreBus struct {
	provider *pfirestore.Provider
	logger   *zap.Logger
}

// NewFirestoreBus constructs a snapshot-listener backed bus.
func NewFirestoreBus(provider *pfirestore.Provider, logger *zap.Logger) (*FirestoreBus, error) {
	if provider == nil {
		return nil, errors.New("bus: firestore provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirestoreBus{provider: provider, logger: logger}, nil
}

type listenerSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close implements Subscription; it cancels the listener and waits for it to drain.
func (s *listenerSubscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Subscribe opens a snapshot listener for the topic and filter.
func (b *FirestoreBus) Subscribe(ctx context.Context, topic Topic, filter Filter, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("bus: handler is required")
	}

	client, err := b.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	var collection string
	switch topic {
	case TopicOrders:
		collection = ordersCollection
	case TopicPayments:
		collection = paymentsCollection
	default:
		return nil, errors.New("bus: unknown topic " + string(topic))
	}

	query := client.Collection(collection).Query
	if id := strings.TrimSpace(filter.EntityID); id != "" {
		query = query.Where(firestore.DocumentID, "==", client.Collection(collection).Doc(id))
	}
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" && topic == TopicPayments {
		query = query.Where(fieldOrderID, "==", orderID)
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &listenerSubscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go b.listen(listenCtx, topic, query, handler, sub.done)

	return sub, nil
}

func (b *FirestoreBus) listen(ctx context.Context, topic Topic, query firestore.Query, handler Handler, done chan<- struct{}) {
	defer close(done)

	snapshots := query.Snapshots(ctx)
	defer snapshots.Stop()

	// Previous payloads per document id; needed to populate Event.Old since
	// Firestore change notifications only carry the new state.
	previous := make(map[string]map[string]any)
	first := true

	for {
		snapshot, err := snapshots.Next()
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Warn("bus: snapshot stream terminated",
					zap.String("topic", string(topic)),
					zap.Error(err))
			}
			return
		}

		for _, change := range snapshot.Changes {
			event, ok := buildEvent(topic, change, previous)
			if !ok {
				continue
			}
			// The initial snapshot replays current documents as adds; sessions
			// adopt state via their own full fetch, so suppress the replay.
			if first && event.Type == EventInsert {
				continue
			}
			handler(event)
		}
		first = false
	}
}

func buildEvent(topic Topic, change firestore.DocumentChange, previous map[string]map[string]any) (Event, bool) {
	id := change.Doc.Ref.ID

	switch change.Kind {
	case firestore.DocumentAdded, firestore.DocumentModified:
		data := change.Doc.Data()
		event := Event{
			Topic:      topic,
			EntityID:   id,
			OrderID:    orderIDFrom(topic, id, data),
			Revision:   revisionFrom(data),
			Old:        previous[id],
			New:        data,
			OccurredAt: change.Doc.UpdateTime,
		}
		if change.Kind == firestore.DocumentAdded {
			event.Type = EventInsert
		} else {
			event.Type = EventUpdate
		}
		previous[id] = data
		return event, true
	case firestore.DocumentRemoved:
		event := Event{
			Type:       EventDelete,
			Topic:      topic,
			EntityID:   id,
			OrderID:    orderIDFrom(topic, id, previous[id]),
			Old:        previous[id],
			OccurredAt: time.Now().UTC(),
		}
		delete(previous, id)
		return event, true
	default:
		return Event{}, false
	}
}

func orderIDFrom(topic Topic, entityID string, data map[string]any) string {
	if topic == TopicOrders {
		return entityID
	}
	if data == nil {
		return ""
	}
	if v, ok := data[fieldOrderID].(string); ok {
		return v
	}
	return ""
}

func revisionFrom(data map[string]any) int64 {
	switch v := data[fieldRevision].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
