package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct{ name string }

func (e testEvent) EventName() string { return e.name }

func TestBusDeliversToEverySubscriber(t *testing.T) {
	bus := NewBus(nil, observability.Nop(), Options{})
	var got atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	for range 2 {
		bus.Subscribe("order.recorded", func(context.Context, domoutbox.Event) error {
			got.Add(1)
			wg.Done()
			return nil
		})
	}
	bus.Start(context.Background())
	t.Cleanup(func() { bus.Stop(context.Background()) })

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "order.recorded"}))

	waitOrFail(t, &wg)
	assert.Equal(t, int32(2), got.Load())
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewBus(nil, nil, Options{Concurrency: 1})
	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe("x", func(context.Context, domoutbox.Event) error { panic("boom") })
	bus.Subscribe("x", func(context.Context, domoutbox.Event) error {
		wg.Done()
		return nil
	})
	bus.Start(context.Background())
	t.Cleanup(func() { bus.Stop(context.Background()) })

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "x"}))
	waitOrFail(t, &wg)
}

func TestBusStopDrainsQueueThenRefuses(t *testing.T) {
	bus := NewBus(nil, nil, Options{QueueSize: 8})
	var got atomic.Int32
	bus.Subscribe("x", func(context.Context, domoutbox.Event) error {
		got.Add(1)
		return nil
	})

	for range 3 {
		require.NoError(t, bus.Publish(context.Background(), testEvent{name: "x"}))
	}
	bus.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus.Stop(ctx)

	assert.Equal(t, int32(3), got.Load())
	assert.ErrorIs(t, bus.Publish(context.Background(), testEvent{name: "x"}), ErrBusStopped)
}

func TestBusPublishHonoursContextWhenFull(t *testing.T) {
	bus := NewBus(nil, nil, Options{QueueSize: 1})
	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, testEvent{name: "x"})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not run")
	}
}
