package memory

import (
	"context"
	"sync"
	"time"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

// Widget is an in-process payment flow for local runs. Every valid invocation is approved
// after Delay with a reference derived from the transaction tag. Emails listed in Decline
// close the flow instead, as does CancelPayment before Delay elapses.
type Widget struct {
	Delay time.Duration

	mu      sync.Mutex
	decline map[string]struct{}
	opened  []dompay.Invocation
	pending map[string]chan struct{}
}

func NewWidget(delay time.Duration, declineEmails ...string) *Widget {
	w := &Widget{
		Delay:   delay,
		decline: make(map[string]struct{}, len(declineEmails)),
		pending: make(map[string]chan struct{}),
	}
	for _, e := range declineEmails {
		w.decline[e] = struct{}{}
	}
	return w
}

func (w *Widget) Open(ctx context.Context, inv dompay.Invocation, cb dompay.Callbacks) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	cancel := make(chan struct{})
	w.mu.Lock()
	w.opened = append(w.opened, inv)
	_, declined := w.decline[inv.Email]
	if inv.SessionID != "" {
		w.pending[inv.SessionID] = cancel
	}
	w.mu.Unlock()

	go func() {
		defer w.forget(inv.SessionID, cancel)
		timer := time.NewTimer(w.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			cb.OnClose()
		case <-cancel:
			cb.OnClose()
		case <-timer.C:
			if declined {
				cb.OnClose()
				return
			}
			cb.OnSuccess("dev_" + inv.Reference)
		}
	}()
	return nil
}

// CancelPayment closes the attempt open for sessionID.
func (w *Widget) CancelPayment(_ context.Context, sessionID string) error {
	w.mu.Lock()
	cancel, ok := w.pending[sessionID]
	delete(w.pending, sessionID)
	w.mu.Unlock()
	if !ok {
		return dompay.ErrNoOpenAttempt
	}
	close(cancel)
	return nil
}

func (w *Widget) forget(sessionID string, cancel chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[sessionID] == cancel {
		delete(w.pending, sessionID)
	}
}

// Opened returns every invocation seen so far.
func (w *Widget) Opened() []dompay.Invocation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]dompay.Invocation(nil), w.opened...)
}
