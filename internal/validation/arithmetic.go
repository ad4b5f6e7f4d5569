package validation

import (
	"fmt"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/numeric"
	"github.com/shopspring/decimal"
)

var (
	one = decimal.NewFromInt(1)
	ten = decimal.NewFromInt(10)
)

// Guards bound when each factor-of-ten correction is tried.
type Guards struct {
	// MaxLostZeroPrice: price×10 is tried only below this price.
	MaxLostZeroPrice float64 `mapstructure:"max_lost_zero_price" yaml:"max_lost_zero_price" json:"max_lost_zero_price"`
	// MinExtraZeroPrice: price/10 is tried only above this price.
	MinExtraZeroPrice float64 `mapstructure:"min_extra_zero_price" yaml:"min_extra_zero_price" json:"min_extra_zero_price"`
	// MinMissedDecimalQty: qty/10 is tried only above this quantity.
	MinMissedDecimalQty float64 `mapstructure:"min_missed_decimal_qty" yaml:"min_missed_decimal_qty" json:"min_missed_decimal_qty"`
}

// DefaultGuards returns the IDR-oriented defaults.
func DefaultGuards() Guards {
	return Guards{MaxLostZeroPrice: 100000, MinExtraZeroPrice: 1000, MinMissedDecimalQty: 10}
}

// Consistent reports whether qty*price matches total within tolerance,
// relative to max(|total|, 1).
func Consistent(qty, price, total, tolerance decimal.Decimal) bool {
	diff := qty.Mul(price).Sub(total).Abs()
	return diff.Div(decimal.Max(total.Abs(), one)).LessThanOrEqual(tolerance)
}

type hypothesis struct {
	kind  invoice.IssueKind
	apply func(q, p, t decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool)
}

// hypotheses returns the single factor-of-ten corrections, in the order
// they are tried.
func (g Guards) hypotheses() []hypothesis {
	lostZeroCap := decimal.NewFromFloat(g.MaxLostZeroPrice)
	extraZeroLo := decimal.NewFromFloat(g.MinExtraZeroPrice)
	qtyLo := decimal.NewFromFloat(g.MinMissedDecimalQty)
	return []hypothesis{
		{invoice.IssuePriceZeroLost, func(q, p, t decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool) {
			if q.IsZero() || !p.LessThan(lostZeroCap) || !t.Div(q).GreaterThan(p) {
				return q, p, false
			}
			return q, p.Mul(ten), true
		}},
		{invoice.IssuePriceExtraZero, func(q, p, t decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool) {
			if q.IsZero() || !p.GreaterThan(extraZeroLo) || !t.Div(q).LessThan(p) {
				return q, p, false
			}
			return q, p.Div(ten), true
		}},
		{invoice.IssueQtyDecimalMissed, func(q, p, t decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool) {
			if p.IsZero() || !q.GreaterThan(qtyLo) || !t.Div(p).LessThan(q) {
				return q, p, false
			}
			return q.Div(ten), p, true
		}},
	}
}

// CheckArithmetic is Guards.Check with the default guards.
func CheckArithmetic(line *invoice.LineRecord, idx int, tolerance decimal.Decimal, autoFix bool) []invoice.Issue {
	return DefaultGuards().Check(line, idx, tolerance, autoFix)
}

// Check verifies qty*price≈total for one line. When the relation fails, the
// first single correction that restores it is applied to line (autoFix) or
// only named in an unresolved issue. Lines missing any of the three values
// are not checked.
func (g Guards) Check(line *invoice.LineRecord, idx int, tolerance decimal.Decimal, autoFix bool) []invoice.Issue {
	if !line.Qty.Valid || !line.Price.Valid || !line.Total.Valid {
		return nil
	}
	q, p, t := line.Qty.Decimal, line.Price.Decimal, line.Total.Decimal
	if Consistent(q, p, t, tolerance) {
		return nil
	}

	for _, h := range g.hypotheses() {
		nq, np, ok := h.apply(q, p, t)
		if !ok || !Consistent(nq, np, t, tolerance) {
			continue
		}
		if !autoFix {
			return []invoice.Issue{{
				Kind: invoice.IssueArithmeticMismatch,
				Line: idx,
				Message: fmt.Sprintf("%s x %s = %s does not match total %s (likely %s)",
					numeric.Format(q), numeric.Format(p), numeric.Format(q.Mul(p)), numeric.Format(t), h.kind),
			}}
		}
		var msg string
		if h.kind == invoice.IssueQtyDecimalMissed {
			msg = fmt.Sprintf("qty corrected from %s to %s", numeric.Format(q), numeric.Format(nq))
			line.Qty = invoice.Dec(nq)
		} else {
			msg = fmt.Sprintf("price corrected from %s to %s", numeric.Format(p), numeric.Format(np))
			line.Price = invoice.Dec(np)
		}
		return []invoice.Issue{{Kind: h.kind, Line: idx, Message: msg, AutoFixed: true}}
	}

	return []invoice.Issue{{
		Kind: invoice.IssueArithmeticMismatch,
		Line: idx,
		Message: fmt.Sprintf("%s x %s = %s does not match total %s",
			numeric.Format(q), numeric.Format(p), numeric.Format(q.Mul(p)), numeric.Format(t)),
	}}
}
