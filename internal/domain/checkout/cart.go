package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/shopspring/decimal"
)

type PromoKind string

const (
	PromoPercent PromoKind = "percent"
	PromoFixed   PromoKind = "fixed"
)

// Promo is a time-boxed price override attached to a cart line.
type Promo struct {
	Enabled     bool            `json:"enabled"`
	Kind        PromoKind       `json:"kind"`
	Value       decimal.Decimal `json:"value"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
}

// ActiveAt reports whether the promo applies at now. Both window bounds are inclusive.
func (p *Promo) ActiveAt(now time.Time) bool {
	if p == nil || !p.Enabled {
		return false
	}
	return !now.Before(p.WindowStart) && !now.After(p.WindowEnd)
}

// CartLine is one purchasable row of the shopper's cart. UnitPrice is in the catalog currency unit.
type CartLine struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Promo     *Promo `json:"promo,omitempty"`
}

func (l CartLine) clone() CartLine {
	if l.Promo != nil {
		p := *l.Promo
		l.Promo = &p
	}
	return l
}

// CartStore is the shopper's cart as held by the client session.
type CartStore interface {
	Read(ctx context.Context) ([]CartLine, error)
	Clear(ctx context.Context) error
	// OnChange invokes fn whenever the cart is modified elsewhere. The returned stop func unsubscribes.
	OnChange(ctx context.Context, fn func()) (stop func(), err error)
}

// Snapshot is the cart frozen at checkout entry. Its lines cannot be changed once taken.
type Snapshot struct {
	id         string
	lines      []CartLine
	capturedAt time.Time
}

// NewSnapshot deep-copies lines so later cart edits cannot leak into an in-flight checkout.
func NewSnapshot(id string, lines []CartLine, capturedAt time.Time) (Snapshot, error) {
	if len(lines) == 0 {
		return Snapshot{}, ErrEmptyCart
	}
	copied := make([]CartLine, 0, len(lines))
	for _, l := range lines {
		if l.ID == "" {
			return Snapshot{}, fmt.Errorf("%w: cart line without id", ErrInvalidCart)
		}
		if l.Quantity <= 0 {
			return Snapshot{}, fmt.Errorf("%w: line %s has quantity %d", ErrInvalidCart, l.ID, l.Quantity)
		}
		if l.UnitPrice < 0 {
			return Snapshot{}, fmt.Errorf("%w: line %s has negative price", ErrInvalidCart, l.ID)
		}
		copied = append(copied, l.clone())
	}
	return Snapshot{id: id, lines: copied, capturedAt: capturedAt.UTC()}, nil
}

func (s Snapshot) ID() string            { return s.id }
func (s Snapshot) CapturedAt() time.Time { return s.capturedAt }
func (s Snapshot) Len() int              { return len(s.lines) }

// Lines returns a copy of the frozen lines.
func (s Snapshot) Lines() []CartLine {
	out := make([]CartLine, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.clone()
	}
	return out
}

// StockLines projects the snapshot onto the inventory service's request shape.
func (s Snapshot) StockLines() []dominv.Line {
	out := make([]dominv.Line, len(s.lines))
	for i, l := range s.lines {
		out[i] = dominv.Line{ID: l.ID, Quantity: l.Quantity}
	}
	return out
}

type snapshotJSON struct {
	ID         string     `json:"id"`
	Lines      []CartLine `json:"lines"`
	CapturedAt time.Time  `json:"captured_at"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{ID: s.id, Lines: s.lines, CapturedAt: s.capturedAt})
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.id, s.lines, s.capturedAt = raw.ID, raw.Lines, raw.CapturedAt
	return nil
}
