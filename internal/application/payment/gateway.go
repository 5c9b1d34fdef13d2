package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	paymentService     = "payment-service"
	useCasePaymentOpen = "payment.gateway"
	paymentSpanName    = "OpenPaymentGateway"
	spanPrefix         = "UC."
	gatewayPeer        = "payment_gateway"
	gatewayEndpoint    = "hosted_checkout"

	DefaultMinorUnitFactor = 100
)

// GatewayConfig is the static part of every invocation.
type GatewayConfig struct {
	PublicKey string
	Currency  string
	// MinorUnitFactor converts catalog amounts to the gateway's minor unit (100 for kobo/cents).
	MinorUnitFactor int64
}

type PayInput struct {
	Customer   domcheckout.Customer
	Totals     domcheckout.Totals
	SessionID  string
	SnapshotID string
}

type PayResult struct {
	Outcome dompay.Outcome
	// Tag is the locally generated reference sent with this attempt.
	Tag string
	// Amount is what the gateway was asked to charge, in minor units.
	Amount int64
}

// GatewayAdapter opens the hosted payment flow and blocks until it yields one outcome.
type GatewayAdapter struct {
	widget dompay.Widget
	cfg    GatewayConfig
	ids    application.IDGenerator

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewGatewayAdapter(widget dompay.Widget, cfg GatewayConfig, ids application.IDGenerator, tel observability.Observability) *GatewayAdapter {
	baseLog := observability.NopLogger().With(
		observability.F("service", paymentService),
	)
	tracer := observability.NopTracer()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		baseLog = tel.Logger().With(
			observability.F("service", paymentService),
		)
		tracer = tel.Tracer()
		metricsProvider = tel.Metrics()
	}
	if cfg.MinorUnitFactor <= 0 {
		cfg.MinorUnitFactor = DefaultMinorUnitFactor
	}

	return &GatewayAdapter{
		widget:       widget,
		cfg:          cfg,
		ids:          ids,
		log:          baseLog,
		tracer:       tracer,
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute never reports a cancelled payment as an error. The error is non-nil only together
// with a LoadFailure outcome.
func (a *GatewayAdapter) Execute(ctx context.Context, cmd PayInput) (_ *PayResult, err error) {
	tag := a.ids.NewID()
	amount := cmd.Totals.GrandTotal * a.cfg.MinorUnitFactor

	logger := logctx.FromOr(ctx, a.log).With(
		observability.F("use_case", useCasePaymentOpen),
		observability.F("session_id", cmd.SessionID),
		observability.F("transaction_tag", tag),
		observability.F("amount_minor", amount),
	)

	ctx, span := a.tracer.Start(ctx, spanPrefix+paymentSpanName,
		attribute.String("use_case", useCasePaymentOpen),
		attribute.String("payment.tag", tag),
		attribute.Int64("payment.amount_minor", amount),
		attribute.String("payment.currency", a.cfg.Currency),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &PayResult{Tag: tag, Amount: amount}

	defer func() {
		if span != nil {
			span.SetAttributes(attribute.String("payment.outcome", string(result.Outcome.Kind)))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		latency := time.Since(start).Seconds()
		a.reqCounter.Add(1,
			observability.L("use_case", useCasePaymentOpen),
			observability.L("outcome", outcome),
		)
		a.durHistogram.Observe(latency,
			observability.L("use_case", useCasePaymentOpen),
		)
		a.extCounter.Add(1,
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", gatewayEndpoint),
			observability.L("outcome", string(result.Outcome.Kind)),
		)
		a.extHistogram.Observe(latency,
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", gatewayEndpoint),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("payment_outcome", string(result.Outcome.Kind)),
		}
		if result.Outcome.Reference != "" {
			fields = append(fields, observability.F("payment_reference", result.Outcome.Reference))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.Err(err))
		}
		logger.Info("use_case_done", fields...)
	}()

	inv := dompay.Invocation{
		PublicKey: a.cfg.PublicKey,
		Amount:    amount,
		Currency:  a.cfg.Currency,
		Email:     cmd.Customer.Email,
		Reference: tag,
		SessionID: cmd.SessionID,
		Metadata: dompay.Metadata{
			Name:        cmd.Customer.Name,
			Phone:       cmd.Customer.Phone,
			Region:      cmd.Customer.Region,
			Subregion:   cmd.Customer.Subregion,
			Address:     cmd.Customer.Address,
			DeliveryFee: cmd.Totals.DeliveryFee,
		},
	}
	if verr := inv.Validate(); verr != nil {
		outcome, statusText = "error", "INVOCATION_INVALID"
		err = &domcheckout.GatewayLoadError{Err: verr}
		result.Outcome = dompay.LoadFailure(err)
		return result, err
	}

	done := make(chan dompay.Outcome, 1)
	var once sync.Once
	deliver := func(o dompay.Outcome) bool {
		delivered := false
		once.Do(func() {
			done <- o
			delivered = true
		})
		return delivered
	}

	callbacks := dompay.Callbacks{
		OnSuccess: func(reference string) {
			if reference == "" {
				reference = tag
			}
			if !deliver(dompay.Success(reference)) {
				// A capture after we stopped waiting has no order behind it yet.
				logger.Error("payment_success_after_settle",
					observability.F("payment_reference", reference),
					observability.F("amount_minor", amount),
					observability.F("at", time.Now().UTC()),
				)
			}
		},
		OnClose: func() { deliver(dompay.Cancelled()) },
	}

	if openErr := a.widget.Open(ctx, inv, callbacks); openErr != nil {
		outcome, statusText = "error", "GATEWAY_LOAD_FAILED"
		err = &domcheckout.GatewayLoadError{Err: openErr}
		result.Outcome = dompay.LoadFailure(err)
		return result, err
	}

	select {
	case result.Outcome = <-done:
	case <-ctx.Done():
		deliver(dompay.Cancelled())
		result.Outcome = <-done
	}

	switch result.Outcome.Kind {
	case dompay.OutcomeCancelled:
		statusText = "CANCELLED"
	case dompay.OutcomeSuccess:
		statusText = "PAID"
	default:
		outcome, statusText = "error", "UNEXPECTED_OUTCOME"
		err = fmt.Errorf("payment: unexpected outcome %q", result.Outcome.Kind)
	}
	return result, err
}
