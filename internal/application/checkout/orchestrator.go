package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	appinv "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	apppay "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	checkoutService       = "checkout-service"
	spanPrefix            = "UC."
	useCaseSubmit         = "checkout.submit"
	useCasePay            = "checkout.pay"
	useCaseRetryRecording = "checkout.retry_recording"
)

// Pricer turns cart lines into totals for a delivery region.
type Pricer interface {
	Totals(lines []domcheckout.CartLine, region string, now time.Time) domcheckout.Totals
}

type (
	StockValidator    = application.UseCase[[]dominv.Line, *dominv.StockCheckResult]
	PaymentGateway    = application.UseCase[apppay.PayInput, *apppay.PayResult]
	OrderRecorder     = application.UseCase[apporder.RecordOrderInput, *apporder.RecordOrderResult]
	InventoryAdjuster = application.UseCase[appinv.AdjustInventoryInput, *dominv.AdjustmentResult]
)

// Deps are the collaborators of one checkout flow. Cart is bound to the session.
type Deps struct {
	Cart     domcheckout.CartStore
	Pricer   Pricer
	Stock    StockValidator
	Gateway  PaymentGateway
	Recorder OrderRecorder
	Adjuster InventoryAdjuster
	IDs      application.IDGenerator
	Clock    application.Clock
}

// View is what the shopper sees of a checkout at one instant.
type View struct {
	SessionID        string                   `json:"session_id"`
	State            domcheckout.State        `json:"state"`
	Totals           *domcheckout.Totals      `json:"totals,omitempty"`
	Banner           *domcheckout.Banner      `json:"banner,omitempty"`
	PaymentReference string                   `json:"payment_reference,omitempty"`
	OrderID          string                   `json:"order_id,omitempty"`
	AccountCreated   bool                     `json:"account_created"`
	FieldErrors      []domcheckout.FieldError `json:"field_errors,omitempty"`
	StockFailures    []dominv.StockFailure    `json:"stock_failures,omitempty"`
	StockMessage     string                   `json:"stock_message,omitempty"`
	CartChanged      bool                     `json:"cart_changed"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// Orchestrator drives one session through validate, pay, record and adjust. The mutex guards
// state only and is never held across a collaborator call.
type Orchestrator struct {
	session domcheckout.Session
	deps    Deps

	mu             sync.Mutex
	state          domcheckout.State
	notice         *domcheckout.Banner
	snapshot       domcheckout.Snapshot
	customer       domcheckout.Customer
	totals         *domcheckout.Totals
	reference      string
	paidAt         time.Time
	orderID        string
	accountCreated bool
	fieldErrors    []domcheckout.FieldError
	stockFailures  []dominv.StockFailure
	stockMessage   string
	cartChanged    bool
	updatedAt      time.Time
	stopWatch      func()

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	transitions  observability.Counter
}

func NewOrchestrator(session domcheckout.Session, deps Deps, tel observability.Observability) (*Orchestrator, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if deps.Cart == nil || deps.Pricer == nil || deps.Stock == nil || deps.Gateway == nil ||
		deps.Recorder == nil || deps.Adjuster == nil || deps.IDs == nil {
		return nil, errors.New("checkout: orchestrator dependencies are incomplete")
	}
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()

	o := &Orchestrator{
		session: session,
		deps:    deps,
		state:   domcheckout.StateDraft,
		log: tel.Logger().With(
			observability.F("service", checkoutService),
			observability.F("session_id", session.ID),
		),
		tracer:       tel.Tracer(),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		transitions:  metrics.Counter(observability.MCheckoutTransitions),
	}
	o.updatedAt = deps.Clock.Now()

	stop, err := deps.Cart.OnChange(context.Background(), o.markCartChanged)
	if err != nil {
		o.log.Warn("cart_watch_unavailable", observability.Err(err))
	} else {
		o.stopWatch = stop
	}
	return o, nil
}

// Close stops watching the cart.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	stop := o.stopWatch
	o.stopWatch = nil
	o.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (o *Orchestrator) Session() domcheckout.Session { return o.session }

// View returns a consistent copy of the current checkout.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked()
}

// Submit freezes the cart, validates the customer and stock, then opens the payment flow.
// It returns once the flow has settled in a resting state.
func (o *Orchestrator) Submit(ctx context.Context, customer domcheckout.Customer) (View, error) {
	var view View
	err := o.observe(ctx, useCaseSubmit, "Submit", func(ctx context.Context, logger observability.Logger) error {
		var err error
		view, err = o.submit(ctx, logger, customer)
		return err
	})
	return view, err
}

// Pay re-checks stock for the frozen snapshot and opens the payment flow again.
func (o *Orchestrator) Pay(ctx context.Context) (View, error) {
	var view View
	err := o.observe(ctx, useCasePay, "Pay", func(ctx context.Context, logger observability.Logger) error {
		var err error
		view, err = o.payAgain(ctx, logger)
		return err
	})
	return view, err
}

// RetryRecording re-runs the idempotent recorder for a payment that succeeded but was not
// recorded. Only valid in recording_failed.
func (o *Orchestrator) RetryRecording(ctx context.Context) (View, error) {
	var view View
	err := o.observe(ctx, useCaseRetryRecording, "RetryRecording", func(ctx context.Context, logger observability.Logger) error {
		o.mu.Lock()
		if o.state != domcheckout.StateRecordingFailed {
			state := o.state
			view = o.viewLocked()
			o.mu.Unlock()
			return fmt.Errorf("%w: retry recording from %s", domcheckout.ErrInvalidTransition, state)
		}
		o.transitionLocked(ctx, logger, domcheckout.StateRecording)
		o.mu.Unlock()

		var err error
		view, err = o.record(ctx, logger)
		return err
	})
	return view, err
}

func (o *Orchestrator) submit(ctx context.Context, logger observability.Logger, customer domcheckout.Customer) (View, error) {
	o.mu.Lock()
	if err := o.refuseLocked(o.state.AcceptsSubmit()); err != nil {
		view := o.viewLocked()
		o.mu.Unlock()
		return view, err
	}
	if o.state != domcheckout.StateDraft {
		o.transitionLocked(ctx, logger, domcheckout.StateDraft)
	}
	o.resetAttemptLocked()
	o.transitionLocked(ctx, logger, domcheckout.StateValidating)
	o.mu.Unlock()

	customer = customer.Normalize()
	if verr := customer.Validate(); verr != nil {
		var fields []domcheckout.FieldError
		var ve *domcheckout.ValidationError
		if errors.As(verr, &ve) {
			fields = ve.Fields
		}
		return o.failValidation(ctx, logger, fields, verr)
	}

	now := o.deps.Clock.Now()
	lines, err := o.deps.Cart.Read(ctx)
	if err != nil {
		o.mu.Lock()
		o.notice = domcheckout.CartUnavailableBanner()
		o.mu.Unlock()
		return o.failValidation(ctx, logger, nil, fmt.Errorf("%w: %w", domcheckout.ErrCartUnavailable, err))
	}
	snap, err := domcheckout.NewSnapshot(o.deps.IDs.NewID(), lines, now)
	if err != nil {
		return o.failValidation(ctx, logger, nil, err)
	}

	totals := o.deps.Pricer.Totals(snap.Lines(), customer.Region, now)

	o.mu.Lock()
	o.snapshot = snap
	o.customer = customer
	o.totals = &totals
	o.mu.Unlock()

	if view, err := o.checkStock(ctx, logger); err != nil {
		return view, err
	}

	o.mu.Lock()
	o.transitionLocked(ctx, logger, domcheckout.StateAwaitingPayment)
	o.mu.Unlock()

	return o.pay(ctx, logger)
}

func (o *Orchestrator) payAgain(ctx context.Context, logger observability.Logger) (View, error) {
	o.mu.Lock()
	if err := o.refuseLocked(o.state.AcceptsPay()); err != nil {
		view := o.viewLocked()
		o.mu.Unlock()
		return view, err
	}
	o.notice = nil
	o.stockFailures, o.stockMessage = nil, ""
	o.transitionLocked(ctx, logger, domcheckout.StateValidating)
	o.mu.Unlock()

	if view, err := o.checkStock(ctx, logger); err != nil {
		return view, err
	}

	o.mu.Lock()
	o.transitionLocked(ctx, logger, domcheckout.StateAwaitingPayment)
	o.mu.Unlock()

	return o.pay(ctx, logger)
}

// checkStock runs while in validating. On failure the session ends in stock_failed and the
// gateway is never reached.
func (o *Orchestrator) checkStock(ctx context.Context, logger observability.Logger) (View, error) {
	o.mu.Lock()
	lines := o.snapshot.StockLines()
	o.mu.Unlock()

	res, err := o.deps.Stock.Execute(ctx, lines)
	if err == nil && res != nil && res.OK {
		return View{}, nil
	}

	stockErr := &domcheckout.StockUnavailableError{Err: err}
	if res != nil {
		stockErr.Failures = res.Failures
		stockErr.Message = res.Message
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stockFailures = stockErr.Failures
	o.stockMessage = stockErr.Message
	if stockErr.ServiceUnavailable() {
		o.notice = domcheckout.StockCheckUnavailableBanner()
	}
	o.transitionLocked(ctx, logger, domcheckout.StateStockFailed)
	return o.viewLocked(), stockErr
}

func (o *Orchestrator) pay(ctx context.Context, logger observability.Logger) (View, error) {
	o.mu.Lock()
	o.transitionLocked(ctx, logger, domcheckout.StatePaying)
	in := apppay.PayInput{
		Customer:   o.customer,
		Totals:     *o.totals,
		SessionID:  o.session.ID,
		SnapshotID: o.snapshot.ID(),
	}
	o.mu.Unlock()

	res, err := o.deps.Gateway.Execute(ctx, in)

	o.mu.Lock()
	switch {
	case err != nil || res == nil || res.Outcome.Kind == dompay.OutcomeLoadFailure:
		if err == nil {
			err = &domcheckout.GatewayLoadError{Err: errors.New("payment gateway returned no outcome")}
			if res != nil && res.Outcome.Err != nil {
				err = res.Outcome.Err
			}
		}
		o.transitionLocked(ctx, logger, domcheckout.StatePaymentLoadFailed)
		view := o.viewLocked()
		o.mu.Unlock()
		return view, err

	case res.Outcome.Kind == dompay.OutcomeCancelled:
		o.transitionLocked(ctx, logger, domcheckout.StatePaymentCancelled)
		o.notice = domcheckout.BannerFor(domcheckout.StatePaymentCancelled, "")
		o.transitionLocked(ctx, logger, domcheckout.StateAwaitingPayment)
		view := o.viewLocked()
		o.mu.Unlock()
		return view, nil
	}

	o.reference = res.Outcome.Reference
	o.paidAt = o.deps.Clock.Now()
	o.transitionLocked(ctx, logger, domcheckout.StateRecording)
	o.mu.Unlock()

	// Funds are captured from here on; the shopper going away must not abort recording.
	return o.record(context.WithoutCancel(ctx), logger)
}

func (o *Orchestrator) record(ctx context.Context, logger observability.Logger) (View, error) {
	o.mu.Lock()
	in := apporder.RecordOrderInput{
		SessionID:        o.session.ID,
		Snapshot:         o.snapshot,
		Customer:         o.customer,
		Totals:           *o.totals,
		PaymentReference: o.reference,
		PaidAt:           o.paidAt,
	}
	o.mu.Unlock()

	res, err := o.deps.Recorder.Execute(ctx, in)
	if err != nil || res == nil || res.Order == nil {
		if err == nil {
			err = &domcheckout.OrderPersistError{PaymentReference: in.PaymentReference, Amount: in.Totals.GrandTotal, Err: errors.New("recorder returned no order")}
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		o.transitionLocked(ctx, logger, domcheckout.StateRecordingFailed)
		return o.viewLocked(), err
	}

	o.mu.Lock()
	o.orderID = res.Order.ID
	o.accountCreated = res.Order.AccountCreated
	o.transitionLocked(ctx, logger, domcheckout.StateAdjusting)
	o.mu.Unlock()

	adj, adjErr := o.deps.Adjuster.Execute(ctx, appinv.AdjustInventoryInput{
		OrderID:          res.Order.ID,
		PaymentReference: in.PaymentReference,
		Lines:            in.Snapshot.StockLines(),
	})
	if adjErr != nil {
		failed := 0
		if adj != nil {
			failed = len(adj.Failed())
		}
		logger.Warn("checkout_inventory_sync_incomplete",
			observability.F("order_id", res.Order.ID),
			observability.F("failed_lines", failed),
			observability.Err(adjErr),
		)
	}

	o.mu.Lock()
	o.transitionLocked(ctx, logger, domcheckout.StateCompleted)
	view := o.viewLocked()
	o.mu.Unlock()

	o.Close()
	if err := o.deps.Cart.Clear(ctx); err != nil {
		logger.Warn("cart_clear_failed", observability.Err(err))
	}
	return view, nil
}

// refuseLocked explains why an operation that is not accepted from the current state was refused.
func (o *Orchestrator) refuseLocked(accepted bool) error {
	switch {
	case accepted:
		return nil
	case o.state == domcheckout.StateCompleted:
		return domcheckout.ErrCheckoutCompleted
	default:
		return domcheckout.ErrCheckoutInProgress
	}
}

func (o *Orchestrator) failValidation(ctx context.Context, logger observability.Logger, fields []domcheckout.FieldError, cause error) (View, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fieldErrors = fields
	o.transitionLocked(ctx, logger, domcheckout.StateValidationFailed)
	return o.viewLocked(), cause
}

// transitionLocked moves to next. An edge missing from the table is a programming error; it
// is logged and refused so the session never lands in an undefined state.
func (o *Orchestrator) transitionLocked(ctx context.Context, logger observability.Logger, next domcheckout.State) bool {
	from := o.state
	if !from.CanTransition(next) {
		logger.Error("checkout_transition_rejected",
			observability.F("from", from.String()),
			observability.F("to", next.String()),
			observability.Err(domcheckout.ErrInvalidTransition),
		)
		return false
	}
	o.state = next
	o.updatedAt = o.deps.Clock.Now()
	o.transitions.Add(1,
		observability.L("from", from.String()),
		observability.L("to", next.String()),
	)
	trace.SpanFromContext(ctx).AddEvent("checkout.transition",
		trace.WithAttributes(
			attribute.String("checkout.from", from.String()),
			attribute.String("checkout.to", next.String()),
		),
	)
	logger.Debug("checkout_transition",
		observability.F("from", from.String()),
		observability.F("to", next.String()),
	)
	return true
}

func (o *Orchestrator) resetAttemptLocked() {
	o.notice = nil
	o.snapshot = domcheckout.Snapshot{}
	o.totals = nil
	o.fieldErrors = nil
	o.stockFailures, o.stockMessage = nil, ""
	o.cartChanged = false
}

func (o *Orchestrator) viewLocked() View {
	v := View{
		SessionID:        o.session.ID,
		State:            o.state,
		PaymentReference: o.reference,
		OrderID:          o.orderID,
		AccountCreated:   o.accountCreated,
		FieldErrors:      append([]domcheckout.FieldError(nil), o.fieldErrors...),
		StockFailures:    append([]dominv.StockFailure(nil), o.stockFailures...),
		StockMessage:     o.stockMessage,
		CartChanged:      o.cartChanged,
		UpdatedAt:        o.updatedAt,
	}
	if o.totals != nil {
		t := *o.totals
		v.Totals = &t
	}
	if o.notice != nil {
		n := *o.notice
		v.Banner = &n
	} else {
		v.Banner = domcheckout.BannerFor(o.state, o.reference)
	}
	return v
}

func (o *Orchestrator) markCartChanged() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == domcheckout.StateDraft || o.state.Terminal() {
		return
	}
	o.cartChanged = true
}

// observe wraps one shopper operation in the use case span, RED metrics and use_case_done line.
func (o *Orchestrator) observe(ctx context.Context, useCase, spanName string, fn func(context.Context, observability.Logger) error) (err error) {
	logger := logctx.FromOr(ctx, o.log).With(observability.F("use_case", useCase))

	ctx, span := o.tracer.Start(ctx, spanPrefix+spanName,
		attribute.String("use_case", useCase),
		attribute.String("checkout.session_id", o.session.ID),
	)
	start := time.Now()

	defer func() {
		outcome, statusText := "success", classify(err)
		if err != nil {
			outcome = "error"
		}
		lat := time.Since(start).Seconds()

		o.mu.Lock()
		state := o.state
		o.mu.Unlock()

		if span != nil {
			span.SetAttributes(attribute.String("checkout.state", state.String()))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		o.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		o.durHistogram.Observe(lat, observability.L("use_case", useCase))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
			observability.F("state", state.String()),
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

	return fn(ctx, logger)
}

// classify maps an error to the status text used in spans and logs.
func classify(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, domcheckout.ErrCheckoutInProgress):
		return "IN_PROGRESS"
	case errors.Is(err, domcheckout.ErrCheckoutCompleted):
		return "COMPLETED"
	case errors.Is(err, domcheckout.ErrCartUnavailable):
		return "CART_UNAVAILABLE"
	case errors.Is(err, domcheckout.ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, domcheckout.ErrEmptyCart), errors.Is(err, domcheckout.ErrInvalidCart):
		return "CART_INVALID"
	case errors.Is(err, domcheckout.ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, domcheckout.ErrStockUnavailable):
		return "STOCK_UNAVAILABLE"
	case errors.Is(err, domcheckout.ErrGatewayLoad):
		return "GATEWAY_LOAD_FAILED"
	case errors.Is(err, domcheckout.ErrOrderPersist):
		return "ORDER_PERSIST_FAILED"
	default:
		return "INTERNAL"
	}
}
