package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const DefaultAutofillDebounce = 2 * time.Second

var ErrLookupInFlight = errors.New("checkout: customer lookup already in flight")

// CustomerDirectory finds the contact details a shopper used on an earlier order.
type CustomerDirectory interface {
	LookupCustomer(ctx context.Context, email string) (domcheckout.Customer, error)
}

// Autofill prefills the checkout form from a previous order. At most one lookup runs at a time
// and repeating the same email inside the debounce window reuses the last answer.
type Autofill struct {
	dir      CustomerDirectory
	debounce time.Duration
	clock    application.Clock
	log      observability.Logger

	mu        sync.Mutex
	inFlight  bool
	lastEmail string
	lastAt    time.Time
	last      domcheckout.Customer
	lastFound bool
}

func NewAutofill(dir CustomerDirectory, debounce time.Duration, clock application.Clock, logger observability.Logger) *Autofill {
	if debounce <= 0 {
		debounce = DefaultAutofillDebounce
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Autofill{
		dir:      dir,
		debounce: debounce,
		clock:    clock,
		log:      logger.With(observability.F("component", "autofill")),
	}
}

// Lookup returns the prefill for email and whether one was found. Malformed addresses are
// skipped without a lookup. Directory failures are returned but callers treat them as no match.
func (a *Autofill) Lookup(ctx context.Context, email string) (domcheckout.Customer, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if a.dir == nil || !domcheckout.IsWellFormedEmail(email) {
		return domcheckout.Customer{}, false, nil
	}

	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		return domcheckout.Customer{}, false, ErrLookupInFlight
	}
	now := a.clock.Now()
	if email == a.lastEmail && now.Sub(a.lastAt) < a.debounce {
		c, found := a.last, a.lastFound
		a.mu.Unlock()
		return c, found, nil
	}
	a.inFlight = true
	a.mu.Unlock()

	c, err := a.dir.LookupCustomer(ctx, email)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight = false

	switch {
	case err == nil:
		a.remember(email, now, c, true)
		return c, true, nil
	case errors.Is(err, domorder.ErrNotFound):
		a.remember(email, now, domcheckout.Customer{}, false)
		return domcheckout.Customer{}, false, nil
	default:
		logctx.FromOr(ctx, a.log).Warn("autofill_lookup_failed", observability.Err(err))
		return domcheckout.Customer{}, false, err
	}
}

func (a *Autofill) remember(email string, at time.Time, c domcheckout.Customer, found bool) {
	a.lastEmail, a.lastAt = email, at
	a.last, a.lastFound = c, found
}
