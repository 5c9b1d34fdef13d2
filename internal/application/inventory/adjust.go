package inventory

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	inventoryService       = "inventory-service"
	useCaseInventoryAdjust = "inventory.adjust"
	spanPrefix             = "UC."
	publishPeer            = "outbox"
	endpointDecrement      = "stock.decrement"
	endpointAdjustFailed   = "inventory.adjustment_failed"
	publishTimeout         = 300 * time.Millisecond

	DefaultAdjustConcurrency = 8
	DefaultDecrementTimeout  = 5 * time.Second
)

// AdjustInventoryInput names the recorded order and the lines to take out of stock.
type AdjustInventoryInput struct {
	OrderID          string
	PaymentReference string
	Lines            []dominv.Line
}

type AdjustOptions struct {
	// Concurrency caps in-flight decrement calls. Zero means DefaultAdjustConcurrency.
	Concurrency int
	// CallTimeout bounds each decrement call. Zero means DefaultDecrementTimeout.
	CallTimeout time.Duration
	Clock       application.Clock
}

// AdjustInventoryUseCase decrements stock for every line of a recorded order concurrently.
// Failures are reported for reconciliation and never undo the order.
type AdjustInventoryUseCase struct {
	decrementer  dominv.StockDecrementer
	publisher    domoutbox.Publisher
	concurrency  int
	callTimeout  time.Duration
	clock        application.Clock
	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewAdjustInventoryUseCase(decrementer dominv.StockDecrementer, publisher domoutbox.Publisher, tel observability.Observability, opts AdjustOptions) *AdjustInventoryUseCase {
	baseLog := observability.NopLogger().With(
		observability.F("service", inventoryService),
	)
	tracer := observability.NopTracer()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		baseLog = tel.Logger().With(
			observability.F("service", inventoryService),
		)
		tracer = tel.Tracer()
		metricsProvider = tel.Metrics()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultAdjustConcurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultDecrementTimeout
	}

	return &AdjustInventoryUseCase{
		decrementer:  decrementer,
		publisher:    publisher,
		concurrency:  opts.Concurrency,
		callTimeout:  opts.CallTimeout,
		clock:        opts.Clock,
		log:          baseLog,
		tracer:       tracer,
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute waits for every decrement to settle. The returned error, when non-nil, is an
// *checkout.InventorySyncError listing the failed lines; the result is always complete.
func (uc *AdjustInventoryUseCase) Execute(ctx context.Context, cmd AdjustInventoryInput) (_ *dominv.AdjustmentResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseInventoryAdjust),
		observability.F("order_id", cmd.OrderID),
		observability.F("payment_reference", cmd.PaymentReference),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"AdjustInventory",
		attribute.String("use_case", useCaseInventoryAdjust),
		attribute.String("order.id", cmd.OrderID),
		attribute.Int("inventory.lines", len(cmd.Lines)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &dominv.AdjustmentResult{OrderID: cmd.OrderID, Lines: make([]dominv.LineAdjustment, len(cmd.Lines))}
	var failed []dominv.LineAdjustment
	var publishErrs int

	defer func() {
		if span != nil {
			span.SetAttributes(attribute.Int("inventory.failed_lines", len(failed)))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseInventoryAdjust),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(latency,
			observability.L("use_case", useCaseInventoryAdjust),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("lines", len(cmd.Lines)),
			observability.F("failed_lines", len(failed)),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if publishErrs > 0 {
			fields = append(fields, observability.F("failure_event_errors", publishErrs))
		}
		if err != nil {
			fields = append(fields, observability.Err(err))
		}

		logger.Info("use_case_done", fields...)
	}()

	sem := make(chan struct{}, uc.concurrency)
	var wg sync.WaitGroup

	for i, line := range cmd.Lines {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("inventory_decrement_panic",
						observability.F("item_id", line.ID),
						observability.F("panic", r),
						observability.F("stack", string(debug.Stack())),
					)
					result.Lines[i] = dominv.LineAdjustment{
						ID: line.ID, Quantity: line.Quantity,
						Reason: dominv.FailureReasonUnavailable,
						Err:    fmt.Errorf("inventory: decrement panicked: %v", r),
					}
				}
				<-sem
				wg.Done()
			}()
			result.Lines[i] = uc.decrement(ctx, line)
		}()
	}
	wg.Wait()

	failed = result.Failed()
	if len(failed) == 0 {
		return result, nil
	}

	outcome, statusText = "error", "PARTIAL_ADJUSTMENT"
	at := uc.clock.Now()
	for _, l := range failed {
		logger.Warn("inventory_adjustment_failed",
			observability.F("item_id", l.ID),
			observability.F("quantity", l.Quantity),
			observability.F("reason", l.Reason),
			observability.Err(l.Err),
		)
		if pubErr := uc.publish(ctx, dominv.NewAdjustmentFailedEvent(cmd.OrderID, cmd.PaymentReference, l, at)); pubErr != nil {
			publishErrs++
		}
	}

	return result, &domcheckout.InventorySyncError{OrderID: cmd.OrderID, Failed: failed}
}

func (uc *AdjustInventoryUseCase) decrement(ctx context.Context, line dominv.Line) dominv.LineAdjustment {
	callCtx, cancel := context.WithTimeout(ctx, uc.callTimeout)
	defer cancel()

	start := time.Now()
	err := uc.decrementer.Decrement(callCtx, line.ID, line.Quantity)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	uc.extCounter.Add(1,
		observability.L("peer", stockPeer),
		observability.L("endpoint", endpointDecrement),
		observability.L("outcome", outcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", stockPeer),
		observability.L("endpoint", endpointDecrement),
	)

	return dominv.LineAdjustment{
		ID:       line.ID,
		Quantity: line.Quantity,
		OK:       err == nil,
		Reason:   dominv.FailureReason(err),
		Err:      err,
	}
}

func (uc *AdjustInventoryUseCase) publish(ctx context.Context, event domoutbox.Event) error {
	if uc.publisher == nil || event == nil {
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	start := time.Now()
	err := uc.publisher.Publish(pubCtx, event)
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if pubCtx.Err() != nil {
		outcome = "canceled"
		err = pubCtx.Err()
	}
	cancel()

	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpointAdjustFailed),
		observability.L("outcome", outcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpointAdjustFailed),
	)

	return err
}
