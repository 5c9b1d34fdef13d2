package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	useCaseStockValidate = "inventory.validate_stock"
	stockPeer            = "inventory"
	endpointBatch        = "stock.check_batch"
	endpointItem         = "stock.check_item"
)

// ValidateStockUseCase confirms every snapshot line is currently available.
type ValidateStockUseCase struct {
	checker      dominv.StockChecker
	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewValidateStockUseCase(checker dominv.StockChecker, tel observability.Observability) *ValidateStockUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &ValidateStockUseCase{
		checker:      checker,
		log:          tel.Logger().With(observability.F("service", inventoryService)),
		tracer:       tel.Tracer(),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute issues one batched check and falls back to per-item checks when batching is unsupported.
// A transport failure of the batch call yields OK=false together with a non-nil error.
func (uc *ValidateStockUseCase) Execute(ctx context.Context, lines []dominv.Line) (_ *dominv.StockCheckResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseStockValidate),
		observability.F("lines", len(lines)),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"ValidateStock",
		attribute.String("use_case", useCaseStockValidate),
		attribute.Int("stock.lines", len(lines)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	mode := "batch"
	result := &dominv.StockCheckResult{OK: true}

	defer func() {
		lat := time.Since(start).Seconds()
		if span != nil {
			span.SetAttributes(
				attribute.Bool("stock.ok", result.OK),
				attribute.String("stock.mode", mode),
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseStockValidate),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseStockValidate))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
			observability.F("mode", mode),
			observability.F("stock_ok", result.OK),
			observability.F("failures", len(result.Failures)),
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

	if len(lines) == 0 {
		return result, nil
	}

	callStart := time.Now()
	batch, batchErr := uc.checker.CheckBatch(ctx, lines)
	uc.observeCall(endpointBatch, callStart, batchErr)

	switch {
	case batchErr == nil:
		*result = normalize(batch)
	case errors.Is(batchErr, dominv.ErrBatchUnsupported):
		mode = "per_item"
		*result = uc.checkEach(ctx, logger, lines)
	default:
		outcome, statusText = "error", "STOCK_CHECK_UNAVAILABLE"
		result.OK = false
		result.Message = "stock service unavailable"
		return result, fmt.Errorf("inventory: stock check: %w", batchErr)
	}

	if !result.OK {
		statusText = "STOCK_UNAVAILABLE"
	}
	return result, nil
}

func (uc *ValidateStockUseCase) checkEach(ctx context.Context, logger observability.Logger, lines []dominv.Line) dominv.StockCheckResult {
	res := dominv.StockCheckResult{OK: true}
	for _, line := range lines {
		callStart := time.Now()
		err := uc.checker.CheckItem(ctx, line)
		uc.observeCall(endpointItem, callStart, err)
		if err == nil {
			continue
		}
		reason := dominv.FailureReason(err)
		if reason == dominv.FailureReasonUnavailable {
			logger.Warn("stock_item_check_failed",
				observability.F("item_id", line.ID),
				observability.Err(err),
			)
		}
		res.OK = false
		res.Failures = append(res.Failures, dominv.StockFailure{ID: line.ID, Reason: reason})
	}
	return res
}

func (uc *ValidateStockUseCase) observeCall(endpoint string, start time.Time, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, dominv.ErrBatchUnsupported):
		outcome = "unsupported"
	case errors.Is(err, dominv.ErrInsufficientStock), errors.Is(err, dominv.ErrNotFound):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	uc.extCounter.Add(1,
		observability.L("peer", stockPeer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", stockPeer),
		observability.L("endpoint", endpoint),
	)
}

// normalize makes OK agree with Failures regardless of what the service reported.
func normalize(r dominv.StockCheckResult) dominv.StockCheckResult {
	if len(r.Failures) > 0 {
		r.OK = false
	}
	if !r.OK && len(r.Failures) == 0 && r.Message == "" {
		r.Message = "requested quantities are not available"
	}
	return r
}
