package admin

import (
	"sync"

	"go.uber.org/zap"

	"splinter/admin/store"
)

// EventBus persists admin events and fans them out to subscribers. Each
// subscriber gets a buffered channel; a saturated subscriber is dropped
// with an error rather than blocking the service.
type EventBus struct {
	logger *zap.Logger
	store  store.EventStore

	mu          sync.Mutex
	subscribers map[int]chan *store.Event
	nextID      int
}

func NewEventBus(logger *zap.Logger, eventStore store.EventStore) *EventBus {
	return &EventBus{
		logger:      logger,
		store:       eventStore,
		subscribers: make(map[int]chan *store.Event),
	}
}

// Emit assigns an id through the event store and broadcasts the stored
// event.
func (b *EventBus) Emit(e store.Event) (*store.Event, error) {
	stored, err := b.store.AddEvent(e)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- stored:
		default:
			b.logger.Error("dropping admin event subscriber, channel full",
				zap.Int("subscriber_id", id))
			close(ch)
			delete(b.subscribers, id)
		}
	}
	return stored, nil
}

// Subscribe returns a channel of future events and the subscriber id.
func (b *EventBus) Subscribe(buffer int) (<-chan *store.Event, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *store.Event, buffer)
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	return ch, id
}

// Unsubscribe removes and closes a subscription.
func (b *EventBus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Store exposes the backing event store for catch-up reads.
func (b *EventBus) Store() store.EventStore { return b.store }
