package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	appcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"

	DefaultSettleWait = 2 * time.Second
	maxBodyBytes      = 1 << 20
)

// CheckoutService is the application surface the HTTP API drives.
type CheckoutService interface {
	Open(session domcheckout.Session) (*appcheckout.Orchestrator, error)
	Get(sessionID string) (*appcheckout.Orchestrator, error)
	Quote(lines []domcheckout.CartLine, region string) (domcheckout.Totals, error)
	Prefill(ctx context.Context, sessionID, email string) (domcheckout.Customer, bool, error)
}

// PaymentLinks exposes the hosted payment page of an open attempt, when the gateway has one.
type PaymentLinks interface {
	PaymentURL(sessionID string) (string, bool)
}

type cartWriter interface {
	Write(ctx context.Context, lines []domcheckout.CartLine) error
}

type Config struct {
	Checkout CheckoutService
	Carts    appcheckout.CartProvider
	Links    PaymentLinks
	// Cancels abandons an open payment attempt. It backs the gateway's cancel URL.
	Cancels dompay.Canceller
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// SettleWait bounds how long submit and pay wait for a resting state before answering 202.
	SettleWait time.Duration
}

type Handler struct {
	checkout   CheckoutService
	carts      appcheckout.CartProvider
	links      PaymentLinks
	cancels    dompay.Canceller
	metrics    http.Handler
	settleWait time.Duration
	log        observability.Logger
	tel        observability.Observability
}

func NewHandler(cfg Config, logger observability.Logger, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = tel.Logger()
	}
	if cfg.SettleWait <= 0 {
		cfg.SettleWait = DefaultSettleWait
	}
	return &Handler{
		checkout:   cfg.Checkout,
		carts:      cfg.Carts,
		links:      cfg.Links,
		cancels:    cfg.Cancels,
		metrics:    cfg.Metrics,
		settleWait: cfg.SettleWait,
		log:        baseLogger.With(observability.F("component", componentHTTPHandler)),
		tel:        tel,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	h.handle(r, http.MethodPost, "/checkout/quote", h.handleQuote)
	h.handle(r, http.MethodGet, "/checkout/{session}", h.handleGet)
	h.handle(r, http.MethodPut, "/checkout/{session}/cart", h.handlePutCart)
	h.handle(r, http.MethodPost, "/checkout/{session}/submit", h.handleSubmit)
	h.handle(r, http.MethodPost, "/checkout/{session}/pay", h.handlePay)
	h.handle(r, http.MethodPost, "/checkout/{session}/recording/retry", h.handleRetryRecording)
	h.handle(r, http.MethodGet, "/checkout/{session}/autofill", h.handleAutofill)
	h.handle(r, http.MethodGet, "/checkout/{session}/payment-link", h.handlePaymentLink)
	h.handle(r, http.MethodPost, "/checkout/{session}/payment/cancel", h.handleCancelPayment)
	h.handle(r, http.MethodGet, "/checkout/{session}/payment/cancel", h.handleCancelPayment)
	h.handle(r, http.MethodGet, "/health", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	return r
}

// handle wires one route: Trace → Request Logger + Metrics → Access Log → Handler.
func (h *Handler) handle(r chi.Router, method, route string, handler http.HandlerFunc) {
	inner := ObservabilityMiddleware(
		h.log,
		func(r *http.Request) string { return r.Header.Get(headerRequestID) },
		h.tel,
	)(h.withAccessLog(handler))

	traced := otelhttp.NewHandler(inner, method+" "+route,
		otelhttp.WithSpanNameFormatter(func(operation string, _ *http.Request) string { return operation }),
	)

	r.Method(method, route, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		traced.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), method+" "+route)))
	}))
}

func sessionFrom(r *http.Request) domcheckout.Session {
	return domcheckout.Session{
		ID:     chi.URLParam(r, "session"),
		UserID: r.Header.Get(headerUserID),
		Role:   r.Header.Get(headerUserRole),
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.Get(chi.URLParam(r, "session"))
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

type cartRequest struct {
	Lines []domcheckout.CartLine `json:"lines"`
}

func (h *Handler) handlePutCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for _, l := range req.Lines {
		if l.ID == "" || l.Quantity <= 0 || l.UnitPrice < 0 {
			writeError(w, http.StatusBadRequest, domcheckout.ErrInvalidCart)
			return
		}
	}
	cart, ok := h.carts.For(chi.URLParam(r, "session")).(cartWriter)
	if !ok {
		writeError(w, http.StatusNotImplemented, errors.New("cart store is read-only"))
		return
	}
	if err := cart.Write(r.Context(), req.Lines); err != nil {
		writeDomainError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var customer domcheckout.Customer
	if err := decodeJSON(w, r, &customer); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, err := h.checkout.Open(sessionFrom(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !o.View().State.AcceptsSubmit() {
		writeDomainError(w, domcheckout.ErrCheckoutInProgress, ptr(o.View()))
		return
	}
	h.settle(w, r, o, func(ctx context.Context) (appcheckout.View, error) {
		return o.Submit(ctx, customer)
	})
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.Get(chi.URLParam(r, "session"))
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	if !o.View().State.AcceptsPay() {
		writeDomainError(w, domcheckout.ErrInvalidTransition, ptr(o.View()))
		return
	}
	h.settle(w, r, o, o.Pay)
}

func (h *Handler) handleRetryRecording(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.Get(chi.URLParam(r, "session"))
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	view, err := o.RetryRecording(context.WithoutCancel(r.Context()))
	if err != nil {
		writeDomainError(w, err, &view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// settle runs op detached from the request. If it settles within settleWait the final view is
// returned; otherwise 202 with the in-flight view and the client polls GET.
func (h *Handler) settle(w http.ResponseWriter, r *http.Request, o *appcheckout.Orchestrator, op func(context.Context) (appcheckout.View, error)) {
	type result struct {
		view appcheckout.View
		err  error
	}
	done := make(chan result, 1)
	ctx := context.WithoutCancel(r.Context())
	go func() {
		v, err := op(ctx)
		done <- result{v, err}
	}()

	timer := time.NewTimer(h.settleWait)
	defer timer.Stop()
	select {
	case res := <-done:
		if res.err != nil {
			writeDomainError(w, res.err, &res.view)
			return
		}
		writeJSON(w, http.StatusOK, res.view)
	case <-timer.C:
		writeJSON(w, http.StatusAccepted, o.View())
	}
}

type quoteRequest struct {
	Lines  []domcheckout.CartLine `json:"lines"`
	Region string                 `json:"region"`
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	totals, err := h.checkout.Quote(req.Lines, req.Region)
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

type autofillResponse struct {
	Found    bool                  `json:"found"`
	Customer *domcheckout.Customer `json:"customer,omitempty"`
}

func (h *Handler) handleAutofill(w http.ResponseWriter, r *http.Request) {
	c, found, err := h.checkout.Prefill(r.Context(), chi.URLParam(r, "session"), r.URL.Query().Get("email"))
	if errors.Is(err, appcheckout.ErrLookupInFlight) {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	// A failed lookup is a miss for the shopper; the autofill already logged it.
	if err != nil || !found {
		writeJSON(w, http.StatusOK, autofillResponse{})
		return
	}
	writeJSON(w, http.StatusOK, autofillResponse{Found: true, Customer: &c})
}

func (h *Handler) handlePaymentLink(w http.ResponseWriter, r *http.Request) {
	if h.links == nil {
		writeError(w, http.StatusNotFound, errors.New("no hosted payment page"))
		return
	}
	url, ok := h.links.PaymentURL(chi.URLParam(r, "session"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no payment attempt open"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleCancelPayment closes the open attempt so the checkout returns to awaiting_payment without
// waiting for the hosted page to expire. GET serves the browser coming back from the cancel URL.
func (h *Handler) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	o, err := h.checkout.Get(sessionID)
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	if h.cancels == nil {
		writeDomainError(w, dompay.ErrNoOpenAttempt, ptr(o.View()))
		return
	}
	if err := h.cancels.CancelPayment(r.Context(), sessionID); err != nil {
		if errors.Is(err, dompay.ErrNoOpenAttempt) {
			writeDomainError(w, err, ptr(o.View()))
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, o.View())
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type errorResponse struct {
	Error    string            `json:"error"`
	Checkout *appcheckout.View `json:"checkout,omitempty"`
}

func writeDomainError(w http.ResponseWriter, err error, view *appcheckout.View) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, appcheckout.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domcheckout.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domcheckout.ErrEmptyCart),
		errors.Is(err, domcheckout.ErrInvalidCart):
		status = http.StatusBadRequest
	case errors.Is(err, domcheckout.ErrCheckoutInProgress),
		errors.Is(err, domcheckout.ErrCheckoutCompleted),
		errors.Is(err, domcheckout.ErrInvalidTransition),
		errors.Is(err, domcheckout.ErrStockUnavailable),
		errors.Is(err, dompay.ErrNoOpenAttempt):
		status = http.StatusConflict
	case errors.Is(err, domcheckout.ErrCartUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domcheckout.ErrGatewayLoad):
		status = http.StatusBadGateway
	}
	if view != nil && view.SessionID == "" {
		view = nil
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Checkout: view})
}

func ptr[T any](v T) *T { return &v }
