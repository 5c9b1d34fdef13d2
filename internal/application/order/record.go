package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService       = "order-service"
	useCaseOrderRecord = "order.record"
	spanPrefix         = "UC."
	publishPeer        = "outbox"
	publishTimeout     = 300 * time.Millisecond
)

var (
	ErrConflict   = domain.ErrConflict
	ErrNotFound   = domain.ErrNotFound
	ErrRepository = errors.New("order: repository failure")
)

// RecordOrderUseCase persists the order for a completed payment exactly once per payment reference.
type RecordOrderUseCase struct {
	repo        domain.Repository
	idGenerator application.IDGenerator
	publisher   domoutbox.Publisher
	clock       application.Clock
	tracer      observability.Tracer

	// Base logger with fixed fields prebound.
	log observability.Logger
	// RED metrics (supplied via DI; do not instantiate inside methods).
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}

	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewRecordOrderUseCase(
	repo domain.Repository,
	idGen application.IDGenerator,
	publisher domoutbox.Publisher,
	clock application.Clock,
	tel observability.Observability,
) *RecordOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metricsProvider := tel.Metrics()

	return &RecordOrderUseCase{
		repo:         repo,
		idGenerator:  idGen,
		publisher:    publisher,
		clock:        clock,
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", orderService)),
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

type RecordOrderInput struct {
	SessionID        string
	Snapshot         domcheckout.Snapshot
	Customer         domcheckout.Customer
	Totals           domcheckout.Totals
	PaymentReference string
	PaidAt           time.Time
}

type RecordOrderResult struct {
	Order *domain.Order
	// Replayed is true when the reference already had an order and nothing new was written.
	Replayed bool
}

// Execute stores the order. Any failure is returned as *checkout.OrderPersistError after the
// attempt has been logged and a reconciliation event published.
func (uc *RecordOrderUseCase) Execute(ctx context.Context, cmd RecordOrderInput) (_ *RecordOrderResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseOrderRecord),
		observability.F("payment_reference", cmd.PaymentReference),
		observability.F("session_id", cmd.SessionID),
	)

	var orderID string
	var publishErr error

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"RecordOrder",
		attribute.String("use_case", useCaseOrderRecord),
		attribute.String("payment.reference", cmd.PaymentReference),
		attribute.Int64("order.grand_total", cmd.Totals.GrandTotal),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()

		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseOrderRecord),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCaseOrderRecord),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if orderID != "" {
			fields = append(fields, observability.F("order_id", orderID))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.Err(err))
		}

		logger.Info("use_case_done", fields...)
	}()

	fail := func(status string, cause error) (*RecordOrderResult, error) {
		outcome, statusText = "error", status
		persistErr := &domcheckout.OrderPersistError{
			PaymentReference: cmd.PaymentReference,
			Amount:           cmd.Totals.GrandTotal,
			Err:              cause,
		}
		at := uc.clock.Now().UTC()
		logger.Error("order_record_failed",
			observability.F("payment_reference", cmd.PaymentReference),
			observability.F("amount", cmd.Totals.GrandTotal),
			observability.F("email", cmd.Customer.Email),
			observability.F("at", at.Format(time.RFC3339Nano)),
			observability.Err(cause),
		)
		publishErr = uc.publish(ctx, domain.RecordingFailedEvent{
			SessionID:        cmd.SessionID,
			PaymentReference: cmd.PaymentReference,
			GrandTotal:       cmd.Totals.GrandTotal,
			Email:            cmd.Customer.Email,
			Error:            cause.Error(),
			OccurredAt:       at,
		})
		return nil, persistErr
	}

	existing, repoErr := uc.repo.FindByPaymentReference(ctx, cmd.PaymentReference)
	switch {
	case repoErr == nil:
		orderID = existing.ID
		statusText = "IDEMPOTENT_REPLAY"
		span.AddEvent("order.idempotent_replay",
			trace.WithAttributes(attribute.String("order.id", orderID)),
		)
		return &RecordOrderResult{Order: existing, Replayed: true}, nil
	case errors.Is(repoErr, domain.ErrNotFound):
		// continue
	default:
		return fail("IDEMPOTENCY_LOOKUP_FAILED", wrapRepositoryError(repoErr))
	}

	orderID = uc.idGenerator.NewID()
	entity, derr := domain.New(orderID, cmd.Snapshot, cmd.Customer, cmd.PaymentReference, cmd.Totals, cmd.PaidAt)
	if derr != nil {
		return fail("DOMAIN_CONSTRUCTION_FAILED", fmt.Errorf("order: construct: %w", derr))
	}
	if err := uc.repo.Insert(ctx, entity); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			if existing, lookupErr := uc.repo.FindByPaymentReference(ctx, cmd.PaymentReference); lookupErr == nil {
				orderID = existing.ID
				statusText = "IDEMPOTENT_REPLAY"
				span.AddEvent("order.idempotent_replay",
					trace.WithAttributes(attribute.String("order.id", orderID)),
				)
				return &RecordOrderResult{Order: existing, Replayed: true}, nil
			}
		}
		return fail("REPO_INSERT_FAILED", wrapRepositoryError(err))
	}

	if pubErr := uc.publish(ctx, domain.NewRecordedEvent(entity)); pubErr != nil {
		publishErr = pubErr
		statusText = "EVENT_PUBLISH_FAILED"
	}

	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	span.AddEvent("order.recorded",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
		),
	)

	return &RecordOrderResult{Order: entity}, nil
}

func (uc *RecordOrderUseCase) publish(ctx context.Context, event domoutbox.Event) error {
	if uc.publisher == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	pubStart := time.Now()
	pubOutcome := "success"

	err := uc.publisher.Publish(pubCtx, event)
	if err != nil {
		pubOutcome = "error"
	} else if pubCtx.Err() != nil {
		pubOutcome = "canceled"
		err = pubCtx.Err()
	}

	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
		observability.L("outcome", pubOutcome),
	)
	uc.extHistogram.Observe(time.Since(pubStart).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
	)
	return err
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
