package outbox

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const (
	componentOutbox = "outbox"

	DefaultQueueSize      = 1024
	DefaultConcurrency    = 8
	DefaultHandlerTimeout = 30 * time.Second
)

var ErrBusStopped = errors.New("outbox: bus stopped")

type Options struct {
	QueueSize      int
	Concurrency    int // per-event handler fan-out cap
	HandlerTimeout time.Duration
}

// Bus is an in-process event bus. It is not durable: reconciliation events that must survive a
// restart are forwarded to Kafka by a subscriber.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]domoutbox.Handler
	queue     chan domoutbox.Event
	done      chan struct{}
	exited    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	cancel    context.CancelFunc
	opts      Options
	log       observability.Logger
	events    observability.Counter
}

func NewBus(logger observability.Logger, tel observability.Observability, opts Options) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	if logger == nil {
		logger = tel.Logger()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	return &Bus{
		subs:   make(map[string][]domoutbox.Handler),
		queue:  make(chan domoutbox.Event, opts.QueueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		opts:   opts,
		log:    logger.With(observability.F("component", componentOutbox)),
		events: tel.Metrics().Counter(observability.MExternalRequests),
	}
}

func (b *Bus) Subscribe(eventName string, h domoutbox.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(ctx)
		b.mu.Lock()
		b.cancel = cancel
		b.started = true
		b.mu.Unlock()
		go b.dispatchLoop(bg)
		logctx.FromOr(ctx, b.log).Info("event_bus_started",
			observability.F("queue_size", b.opts.QueueSize),
			observability.F("concurrency", b.opts.Concurrency),
		)
	})
}

// Stop refuses new events and waits for queued ones to be dispatched, or for ctx to expire.
func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		close(b.done)

		b.mu.RLock()
		started, cancel := b.started, b.cancel
		b.mu.RUnlock()

		logger := logctx.FromOr(ctx, b.log)
		if started {
			select {
			case <-b.exited:
			case <-ctx.Done():
				logger.Warn("event_bus_drain_aborted", observability.F("pending", len(b.queue)))
			}
			cancel()
		}
		logger.Info("event_bus_stopped")
	})
}

func (b *Bus) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	select {
	case <-b.done:
		return ErrBusStopped
	default:
	}

	logger := logctx.FromOr(ctx, b.log).With(observability.F("event", e.EventName()))
	select {
	case b.queue <- e:
		logger.Debug("event_enqueued")
		return nil
	case <-b.done:
		return ErrBusStopped
	case <-ctx.Done():
		logger.Warn("event_enqueue_aborted",
			observability.Err(ctx.Err()),
		)
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.exited)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			b.drain(ctx)
			return
		case e := <-b.queue:
			b.fanout(ctx, e)
		}
	}
}

func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			b.fanout(ctx, e)
		default:
			return
		}
	}
}

func (b *Bus) fanout(ctx context.Context, e domoutbox.Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]domoutbox.Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("event_dropped_no_subscriber", observability.F("event", name))
		return
	}

	ctx = context.WithoutCancel(ctx)
	baseLogger := b.log.With(observability.F("event", name))

	sem := make(chan struct{}, b.opts.Concurrency)
	var wg sync.WaitGroup

	for _, h := range handlers {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			outcome := "success"
			defer func() {
				if r := recover(); r != nil {
					outcome = "panic"
					baseLogger.Error("event_handler_panic",
						observability.F("panic", r),
						observability.F("stack", string(debug.Stack())),
					)
				}
				b.events.Add(1,
					observability.L("peer", componentOutbox),
					observability.L("endpoint", name),
					observability.L("outcome", outcome),
				)
				<-sem
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(ctx, b.opts.HandlerTimeout)
			defer cancel()
			hctx = logctx.With(hctx, baseLogger)
			if err := h(hctx, e); err != nil {
				outcome = "error"
				baseLogger.Warn("event_handler_error",
					observability.Err(err),
				)
			}
		}()
	}

	wg.Wait()

	baseLogger.Debug("event_fanned_out",
		observability.F("handlers", len(handlers)),
	)
}
