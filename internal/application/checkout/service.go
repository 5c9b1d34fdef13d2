package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

var ErrSessionNotFound = errors.New("checkout: session not found")

const (
	DefaultCompletedTTL  = 15 * time.Minute
	DefaultIdleTTL       = 2 * time.Hour
	DefaultSweepInterval = time.Minute
)

// CartProvider hands out the cart bound to a session.
type CartProvider interface {
	For(sessionID string) domcheckout.CartStore
}

// CartProviderFunc adapts a function to CartProvider.
type CartProviderFunc func(sessionID string) domcheckout.CartStore

func (f CartProviderFunc) For(sessionID string) domcheckout.CartStore { return f(sessionID) }

// ServiceConfig carries the collaborators shared by every session. Cart in Deps is ignored;
// each session gets its own from Carts.
type ServiceConfig struct {
	Deps             Deps
	Carts            CartProvider
	Directory        CustomerDirectory
	AutofillDebounce time.Duration
	// CompletedTTL is how long a completed checkout stays readable before it is evicted.
	CompletedTTL time.Duration
	// IdleTTL evicts sessions untouched for this long. Sessions with a call in flight and
	// recording_failed sessions are never evicted.
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// Service maps session ids to their orchestrators. Sessions share no mutable state.
type Service struct {
	cfg ServiceConfig
	tel observability.Observability
	log observability.Logger

	mu        sync.Mutex
	sessions  map[string]*Orchestrator
	autofills map[string]*autofillEntry
	lastSweep time.Time
}

type autofillEntry struct {
	autofill *Autofill
	usedAt   time.Time
}

func NewService(cfg ServiceConfig, tel observability.Observability) (*Service, error) {
	if cfg.Carts == nil {
		return nil, errors.New("checkout: cart provider is required")
	}
	if tel == nil {
		tel = observability.Nop()
	}
	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = DefaultCompletedTTL
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Service{
		cfg:       cfg,
		tel:       tel,
		log:       tel.Logger().With(observability.F("service", checkoutService)),
		sessions:  make(map[string]*Orchestrator),
		autofills: make(map[string]*autofillEntry),
		lastSweep: cfg.Deps.Clock.Now(),
	}, nil
}

// Open returns the orchestrator for session, creating it on first use. A completed checkout is
// replaced by a fresh one so the next purchase on the same session starts from draft.
func (s *Service) Open(session domcheckout.Session) (*Orchestrator, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if o, ok := s.sessions[session.ID]; ok {
		if o.View().State != domcheckout.StateCompleted {
			return o, nil
		}
		o.Close()
		delete(s.sessions, session.ID)
	}
	deps := s.cfg.Deps
	deps.Cart = s.cfg.Carts.For(session.ID)
	o, err := NewOrchestrator(session, deps, s.tel)
	if err != nil {
		return nil, err
	}
	s.sessions[session.ID] = o
	return o, nil
}

func (s *Service) Get(sessionID string) (*Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	o, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return o, nil
}

// Quote prices lines without touching any session.
func (s *Service) Quote(lines []domcheckout.CartLine, region string) (domcheckout.Totals, error) {
	for _, l := range lines {
		if l.ID == "" || l.Quantity <= 0 || l.UnitPrice < 0 {
			return domcheckout.Totals{}, domcheckout.ErrInvalidCart
		}
	}
	return s.cfg.Deps.Pricer.Totals(lines, region, s.cfg.Deps.Clock.Now()), nil
}

// Prefill looks up a returning shopper for the session's form.
func (s *Service) Prefill(ctx context.Context, sessionID, email string) (domcheckout.Customer, bool, error) {
	s.mu.Lock()
	s.sweepLocked()
	e, ok := s.autofills[sessionID]
	if !ok {
		e = &autofillEntry{autofill: NewAutofill(s.cfg.Directory, s.cfg.AutofillDebounce, s.cfg.Deps.Clock, s.log)}
		s.autofills[sessionID] = e
	}
	e.usedAt = s.cfg.Deps.Clock.Now()
	s.mu.Unlock()
	return e.autofill.Lookup(ctx, email)
}

// sweepLocked evicts expired sessions at most once per SweepInterval.
func (s *Service) sweepLocked() {
	now := s.cfg.Deps.Clock.Now()
	if now.Sub(s.lastSweep) < s.cfg.SweepInterval {
		return
	}
	s.lastSweep = now

	evicted := 0
	for id, o := range s.sessions {
		v := o.View()
		age := now.Sub(v.UpdatedAt)
		switch {
		case v.State == domcheckout.StateCompleted && age >= s.cfg.CompletedTTL:
		case v.State.Busy(), v.State == domcheckout.StateRecordingFailed:
			continue
		case age < s.cfg.IdleTTL:
			continue
		}
		o.Close()
		delete(s.sessions, id)
		evicted++
	}
	for id, e := range s.autofills {
		if now.Sub(e.usedAt) >= s.cfg.IdleTTL {
			delete(s.autofills, id)
		}
	}
	if evicted > 0 {
		s.log.Debug("checkout_sessions_evicted",
			observability.F("evicted", evicted),
			observability.F("remaining", len(s.sessions)),
		)
	}
}

// Close releases every session's cart watch.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Orchestrator)
	s.autofills = make(map[string]*autofillEntry)
	s.mu.Unlock()

	for _, o := range sessions {
		o.Close()
	}
}
