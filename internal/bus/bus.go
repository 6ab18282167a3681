package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/your-org/judge/internal/observability"
)

// Event is anything that can be published on the bus.
type Event interface {
	EventName() string
}

// Handler receives published events. A returned error is logged and does not
// stop delivery to the remaining handlers.
type Handler func(ctx context.Context, event Event) error

// Bus is a synchronous in-process publish/subscribe dispatcher.
type Bus struct {
	mu     sync.RWMutex
	all    []Handler
	byName map[string][]Handler
}

func New() *Bus {
	return &Bus{byName: make(map[string][]Handler)}
}

// Subscribe registers h for every event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// SubscribeTo registers h for events with the given name only.
func (b *Bus) SubscribeTo(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byName[name] = append(b.byName[name], h)
}

// Publish delivers event to every matching handler in registration order.
// Named subscribers run before catch-all subscribers.
func (b *Bus) Publish(ctx context.Context, event Event) {
	name := event.EventName()

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byName[name])+len(b.all))
	handlers = append(handlers, b.byName[name]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := dispatch(ctx, h, event); err != nil {
			observability.BusHandlerFailures.WithLabelValues(name).Inc()
			slog.Error("event handler failed", "event", name, "error", err)
		}
	}
}

func dispatch(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, event)
}
