package pricing

import (
	"time"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FeeResolver maps a delivery region to its flat fee.
type FeeResolver interface {
	Resolve(region string) int64
}

// Calculator prices cart lines. It holds no state and every method is deterministic for a given now.
type Calculator struct {
	fees FeeResolver
}

func NewCalculator(fees FeeResolver) *Calculator {
	return &Calculator{fees: fees}
}

// DisplayPrice is the unit price the shopper pays for line at now.
// Percent promos round half-up to the whole currency unit; fixed promos replace the price.
func (c *Calculator) DisplayPrice(line domcheckout.CartLine, now time.Time) int64 {
	if !line.Promo.ActiveAt(now) {
		return line.UnitPrice
	}

	var price decimal.Decimal
	switch line.Promo.Kind {
	case domcheckout.PromoPercent:
		factor := decimal.NewFromInt(1).Sub(line.Promo.Value.Div(hundred))
		price = decimal.NewFromInt(line.UnitPrice).Mul(factor).Round(0)
	case domcheckout.PromoFixed:
		price = line.Promo.Value.Round(0)
	default:
		return line.UnitPrice
	}

	if price.IsNegative() {
		return 0
	}
	return price.IntPart()
}

// Subtotal is the sum of display price times quantity over lines.
func (c *Calculator) Subtotal(lines []domcheckout.CartLine, now time.Time) int64 {
	var total int64
	for _, l := range lines {
		total += c.DisplayPrice(l, now) * int64(l.Quantity)
	}
	return total
}

// Totals prices lines and adds the delivery fee for region.
func (c *Calculator) Totals(lines []domcheckout.CartLine, region string, now time.Time) domcheckout.Totals {
	var fee int64
	if c.fees != nil {
		fee = c.fees.Resolve(region)
	}
	return domcheckout.NewTotals(c.Subtotal(lines, now), fee)
}
