package stripepay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultPendingTimeout = time.Hour
)

type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
}

type Config struct {
	SecretKey    string
	SuccessURL   string
	CancelURL    string
	PollInterval time.Duration
	// SessionTTL bounds how long the hosted page stays payable. Stripe requires at least 30 minutes.
	SessionTTL time.Duration
	// PendingTimeout bounds how long a completed session may stay unpaid before the attempt is
	// given up and closed.
	PendingTimeout time.Duration
	Backends       *stripe.Backends
	Clock          func() time.Time

	sessions sessionAPI
}

// Widget runs a Stripe Checkout session as the hosted payment flow. Open creates the session and
// then polls it until it completes or expires, firing exactly one callback.
type Widget struct {
	sessions       sessionAPI
	successURL     string
	cancelURL      string
	pollInterval   time.Duration
	ttl            time.Duration
	pendingTimeout time.Duration
	clock          func() time.Time
	log            observability.Logger

	mu       sync.RWMutex
	attempts map[string]*attempt // checkout session id -> open Stripe session
}

type attempt struct {
	stripeID string
	url      string
	wake     chan struct{}
}

func NewWidget(cfg Config, logger observability.Logger) (*Widget, error) {
	api := cfg.sessions
	if api == nil {
		key := strings.TrimSpace(cfg.SecretKey)
		if key == "" {
			return nil, errors.New("stripe: secret key is required")
		}
		api = client.New(key, cfg.Backends).CheckoutSessions
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SessionTTL < 30*time.Minute {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = DefaultPendingTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Widget{
		sessions:       api,
		successURL:     cfg.SuccessURL,
		cancelURL:      cfg.CancelURL,
		pollInterval:   cfg.PollInterval,
		ttl:            cfg.SessionTTL,
		pendingTimeout: cfg.PendingTimeout,
		clock:          cfg.Clock,
		log:            logger.With(observability.F("component", "stripe_widget")),
		attempts:       make(map[string]*attempt),
	}, nil
}

// PaymentURL returns the hosted page of the attempt currently open for a checkout session.
func (w *Widget) PaymentURL(sessionID string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.attempts[sessionID]
	if !ok {
		return "", false
	}
	return a.url, true
}

// CancelPayment expires the open Stripe session of a checkout session. The watcher then sees
// the expiry and fires OnClose. Returns dompay.ErrNoOpenAttempt when nothing is open.
func (w *Widget) CancelPayment(ctx context.Context, sessionID string) error {
	w.mu.RLock()
	a, ok := w.attempts[sessionID]
	w.mu.RUnlock()
	if !ok {
		return dompay.ErrNoOpenAttempt
	}

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := w.sessions.Expire(a.stripeID, params); err != nil {
		return fmt.Errorf("stripe: expire checkout session: %w", err)
	}
	w.log.Info("stripe_session_cancelled",
		observability.F("checkout_session_id", a.stripeID),
		observability.F("session_id", sessionID),
	)
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *Widget) Open(ctx context.Context, inv dompay.Invocation, cb dompay.Callbacks) error {
	meta := inv.Metadata.AsMap()
	meta["transaction_tag"] = inv.Reference

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(w.successURL),
		CancelURL:         stripe.String(w.cancelURL),
		CustomerEmail:     stripe.String(inv.Email),
		ClientReferenceID: stripe.String(inv.Reference),
		ExpiresAt:         stripe.Int64(w.clock().Add(w.ttl).Unix()),
		Metadata:          meta,
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(inv.Currency)),
				UnitAmount: stripe.Int64(inv.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + inv.Reference),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: meta},
	}
	params.Context = ctx
	params.SetIdempotencyKey(inv.Reference)

	sess, err := w.sessions.New(params)
	if err != nil {
		return fmt.Errorf("stripe: create checkout session: %w", err)
	}

	a := &attempt{stripeID: sess.ID, url: sess.URL, wake: make(chan struct{}, 1)}
	w.track(inv.SessionID, a)
	w.log.Info("stripe_session_created",
		observability.F("checkout_session_id", sess.ID),
		observability.F("transaction_tag", inv.Reference),
	)

	go w.watch(ctx, a, inv, cb)
	return nil
}

func (w *Widget) watch(ctx context.Context, a *attempt, inv dompay.Invocation, cb dompay.Callbacks) {
	defer w.untrack(inv.SessionID, a)

	id := a.stripeID
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var pendingSince time.Time
	for {
		select {
		case <-ctx.Done():
			w.expire(id)
			return
		case <-ticker.C:
		case <-a.wake:
		}

		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		sess, err := w.sessions.Get(id, params)
		if err != nil {
			w.log.Warn("stripe_session_poll_failed",
				observability.F("checkout_session_id", id),
				observability.Err(err),
			)
			continue
		}

		switch sess.Status {
		case stripe.CheckoutSessionStatusComplete:
			if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
				if pendingSince.IsZero() {
					pendingSince = w.clock()
				}
				if w.clock().Sub(pendingSince) < w.pendingTimeout {
					continue
				}
				// A late settlement after this point is a payment without an order.
				w.log.Error("stripe_payment_pending_timeout",
					observability.F("checkout_session_id", id),
					observability.F("transaction_tag", inv.Reference),
					observability.F("pending_for", w.clock().Sub(pendingSince).String()),
				)
				cb.OnClose()
				return
			}
			ref := sess.ID
			if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
				ref = sess.PaymentIntent.ID
			}
			cb.OnSuccess(ref)
			return
		case stripe.CheckoutSessionStatusExpired:
			cb.OnClose()
			return
		}
	}
}

// expire closes the hosted page so an abandoned attempt cannot be paid later.
func (w *Widget) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := w.sessions.Expire(id, params); err != nil {
		w.log.Warn("stripe_session_expire_failed",
			observability.F("checkout_session_id", id),
			observability.Err(err),
		)
	}
}

func (w *Widget) track(sessionID string, a *attempt) {
	if sessionID == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[sessionID] = a
}

// untrack forgets a only while it is still the session's current attempt.
func (w *Widget) untrack(sessionID string, a *attempt) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.attempts[sessionID] == a {
		delete(w.attempts, sessionID)
	}
}
