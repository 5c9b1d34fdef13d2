// Package outbox defines the in-process event contract between checkout use
// cases and whatever carries their events onward (the bus, Kafka).
package outbox

import "context"

type Event interface {
	EventName() string
}

// Keyed events name the entity they concern, usually an order reference.
// Kafka partitions by it so events for one order stay ordered.
type Keyed interface {
	EventKey() string
}

// KeyOf returns the event key, or "" for unkeyed events.
func KeyOf(e Event) string {
	if k, ok := e.(Keyed); ok {
		return k.EventKey()
	}
	return ""
}

type Handler func(ctx context.Context, e Event) error

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
