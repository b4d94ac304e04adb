package streaming

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/abrplay/internal/media"
)

// EventType names an engine event.
type EventType string

const (
	EventBuffering      EventType = "buffering"
	EventAdaptation     EventType = "adaptation"
	EventVariantChanged EventType = "variantchanged"
	EventTracksChanged  EventType = "trackschanged"
	EventStallDetected  EventType = "stalldetected"
	EventGapJumped      EventType = "gapjumped"
	EventEnded          EventType = "ended"
	EventError          EventType = "error"
)

// Event is delivered to subscribers.
type Event struct {
	Type        EventType         `json:"type"`
	Time        time.Time         `json:"time"`
	ContentType media.ContentType `json:"content_type,omitempty"`
	// Buffering is set on buffering events.
	Buffering bool `json:"buffering,omitempty"`
	// Variant is the newly active variant on adaptation and variantchanged.
	Variant *media.Variant `json:"-"`
	// From and To bound the gap on stalldetected and gapjumped.
	From float64 `json:"from,omitempty"`
	To   float64 `json:"to,omitempty"`
	Err  error   `json:"-"`
}

// Subscriber receives events until Unsubscribe closes its channel.
type Subscriber struct {
	ID     string
	Events chan Event
}

const subscriberBuffer = 64

// eventBus fans events out to subscribers without blocking the engine.
type eventBus struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	handler     func(Event)
	logger      *slog.Logger
	now         func() time.Time
}

func newEventBus(handler func(Event), logger *slog.Logger, now func() time.Time) *eventBus {
	return &eventBus{
		subscribers: make(map[string]*Subscriber),
		handler:     handler,
		logger:      logger,
		now:         now,
	}
}

func (b *eventBus) subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscriber{ID: uuid.NewString(), Events: make(chan Event, subscriberBuffer)}
	b.subscribers[sub.ID] = sub
	return sub
}

func (b *eventBus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

func (b *eventBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// emit must not be called with engine locks held: the handler runs inline.
func (b *eventBus) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	b.mu.Lock()
	for _, sub := range b.subscribers {
		select {
		case sub.Events <- ev:
		default:
			b.logger.Warn("subscriber event channel full, dropping event",
				slog.String("subscriber_id", sub.ID),
				slog.String("event", string(ev.Type)))
		}
	}
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}
