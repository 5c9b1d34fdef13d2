package reconciliation

import (
	"context"
	"fmt"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	workerService         = "reconciliation_worker"
	spanPrefix            = "UC."
	useCaseReconcile      = "reconciliation.record"
	DefaultForwardTimeout = 5 * time.Second
)

// Worker turns failure events into durable reconciliation records. Every event is logged and
// counted; when a sink is configured it is also forwarded there (Kafka in production).
type Worker struct {
	subscriber     domoutbox.Subscriber
	sink           domoutbox.Publisher
	forwardTimeout time.Duration

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	events       observability.Counter   // reconciliation_events_total{event,outcome}
}

func New(
	subscriber domoutbox.Subscriber,
	sink domoutbox.Publisher,
	tel observability.Observability,
	logger observability.Logger,
) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	if logger == nil {
		logger = tel.Logger()
	}
	metrics := tel.Metrics()
	return &Worker{
		subscriber:     subscriber,
		sink:           sink,
		forwardTimeout: DefaultForwardTimeout,
		log:            logger.With(observability.F("service", workerService)),
		tracer:         tel.Tracer(),
		reqCounter:     metrics.Counter(observability.MUsecaseRequests),
		durHistogram:   metrics.Histogram(observability.MUsecaseDuration),
		events:         metrics.Counter(observability.MReconciliationEvents),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil {
		return
	}
	w.subscriber.Subscribe(domorder.RecordingFailedEvent{}.EventName(), w.Handle)
	w.subscriber.Subscribe(dominv.AdjustmentFailedEvent{}.EventName(), w.Handle)
}

// Handle records one failure event. Unknown events are ignored.
func (w *Worker) Handle(ctx context.Context, e domoutbox.Event) (err error) {
	if e == nil {
		return nil
	}
	name := e.EventName()

	ctx, span := w.tracer.Start(ctx, spanPrefix+"Reconcile",
		attribute.String("use_case", useCaseReconcile),
		attribute.String("event", name),
	)
	start := time.Now()
	outcome, status := "success", "LOGGED"

	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("use_case", useCaseReconcile),
		observability.F("event", name),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}

	defer func() {
		lat := time.Since(start).Seconds()
		w.reqCounter.Add(1,
			observability.L("use_case", useCaseReconcile),
			observability.L("outcome", outcome),
		)
		w.durHistogram.Observe(lat, observability.L("use_case", useCaseReconcile))
		w.events.Add(1,
			observability.L("event", name),
			observability.L("outcome", status),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		}
		if err != nil {
			fields = append(fields, observability.Err(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		logger.Info("use_case_done", fields...)
		span.End()
	}()

	switch evt := e.(type) {
	case domorder.RecordingFailedEvent:
		logger.Error("reconciliation_order_missing",
			observability.F("payment_reference", evt.PaymentReference),
			observability.F("session_id", evt.SessionID),
			observability.F("amount", evt.GrandTotal),
			observability.F("email", evt.Email),
			observability.F("at", evt.OccurredAt.Format(time.RFC3339Nano)),
			observability.F("cause", evt.Error),
		)
	case dominv.AdjustmentFailedEvent:
		logger.Warn("reconciliation_inventory_drift",
			observability.F("order_id", evt.OrderID),
			observability.F("payment_reference", evt.PaymentReference),
			observability.F("item_id", evt.ItemID),
			observability.F("quantity", evt.Quantity),
			observability.F("reason", evt.Reason),
			observability.F("cause", evt.Error),
		)
	default:
		status = "IGNORED"
		return nil
	}

	if w.sink == nil {
		return nil
	}
	fctx, cancel := context.WithTimeout(ctx, w.forwardTimeout)
	defer cancel()
	if ferr := w.sink.Publish(fctx, e); ferr != nil {
		outcome, status = "error", "FORWARD_FAILED"
		return fmt.Errorf("reconciliation: forward %s: %w", name, ferr)
	}
	status = "FORWARDED"
	return nil
}
