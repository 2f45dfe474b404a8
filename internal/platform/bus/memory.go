package bus

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryBus is an in-process Bus used by tests and single-node deployments.
// Publish delivers synchronously in registration order.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Topic]map[int]*memorySubscription
	closed bool
}

// NewMemoryBus constructs an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[Topic]map[int]*memorySubscription),
	}
}

type memorySubscription struct {
	bus     *MemoryBus
	topic   Topic
	id      int
	filter  Filter
	handler Handler

	once sync.Once
}

// Close implements Subscription.
func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if topicSubs, ok := s.bus.subs[s.topic]; ok {
			delete(topicSubs, s.id)
		}
	})
}

// Subscribe registers a handler for the topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic Topic, filter Filter, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("bus: handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("bus: closed")
	}

	b.nextID++
	sub := &memorySubscription{
		bus:     b,
		topic:   topic,
		id:      b.nextID,
		filter:  filter,
		handler: handler,
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]*memorySubscription)
	}
	b.subs[topic][sub.id] = sub
	return sub, nil
}

// Publish fans the event out to matching subscribers. Handlers run outside the
// bus lock so they may subscribe or unsubscribe reentrantly.
func (b *MemoryBus) Publish(event Event) {
	b.mu.Lock()
	matched := make([]*memorySubscription, 0, 4)
	for _, sub := range b.subs[event.Topic] {
		if sub.filter.Matches(event) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	for _, sub := range matched {
		sub.handler(event)
	}
}

// Close drops all subscriptions; further Subscribe calls fail.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[Topic]map[int]*memorySubscription)
}
