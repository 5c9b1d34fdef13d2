package workerpresentation

import (
	"context"
	"sort"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
	"github.com/google/uuid"
)

// WithEventContext puts an event-scoped logger into ctx. attrs must stay low-cardinality
// (event name, partition key); event_id is generated when absent.
func WithEventContext(ctx context.Context, base observability.Logger, attrs map[string]string) context.Context {
	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields := []observability.Field{observability.F("event_id", evtID)}

	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if k != "event_id" && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, observability.F(k, attrs[k]))
	}

	ctx, _ = logctx.Scope(ctx, base, fields...)
	return ctx
}

// Subscriber wraps another subscriber so every handler runs with an event-scoped logger.
type Subscriber struct {
	inner domoutbox.Subscriber
	base  observability.Logger
}

func NewSubscriber(inner domoutbox.Subscriber, base observability.Logger) *Subscriber {
	return &Subscriber{inner: inner, base: base}
}

func (s *Subscriber) Subscribe(eventName string, h domoutbox.Handler) {
	s.inner.Subscribe(eventName, func(ctx context.Context, e domoutbox.Event) error {
		attrs := map[string]string{"event": eventName}
		if key := domoutbox.KeyOf(e); key != "" {
			attrs["event_key"] = key
		}
		return h(WithEventContext(ctx, s.base, attrs), e)
	})
}
