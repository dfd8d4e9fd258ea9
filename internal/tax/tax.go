// Package tax implements GST rate math. Amounts are in paise; percentages
// use decimal arithmetic and round half up at the paise boundary.
package tax

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Standard GST slabs as percentages.
var slabs = []decimal.Decimal{
	decimal.NewFromInt(0),
	decimal.RequireFromString("0.25"),
	decimal.NewFromInt(3),
	decimal.NewFromInt(5),
	decimal.NewFromInt(12),
	decimal.NewFromInt(18),
	decimal.NewFromInt(28),
}

var ErrInvalidRate = errors.New("invalid_tax_rate")

// ValidRate reports whether the percentage is one of the GST slabs.
func ValidRate(rate decimal.Decimal) bool {
	for _, s := range slabs {
		if s.Equal(rate) {
			return true
		}
	}
	return false
}

// Slabs returns the supported GST percentages.
func Slabs() []decimal.Decimal {
	out := make([]decimal.Decimal, len(slabs))
	copy(out, slabs)
	return out
}

// LineTax is the tax charged on a single line, split by levy.
type LineTax struct {
	Taxable int64
	CGST    int64
	SGST    int64
	IGST    int64
	Total   int64
}

// ComputeLine taxes a line amount at the given slab. Intra-state supplies
// split the levy into equal CGST and SGST halves; inter-state supplies
// charge the whole amount as IGST.
func ComputeLine(taxable int64, rate decimal.Decimal, intraState bool) (LineTax, error) {
	if !ValidRate(rate) {
		return LineTax{}, ErrInvalidRate
	}

	amount := decimal.NewFromInt(taxable)
	total := amount.Mul(rate).Div(decimal.NewFromInt(100))

	out := LineTax{Taxable: taxable}
	if intraState {
		half := total.Div(decimal.NewFromInt(2))
		out.CGST = roundPaise(half)
		out.SGST = roundPaise(half)
	} else {
		out.IGST = roundPaise(total)
	}
	out.Total = out.CGST + out.SGST + out.IGST
	return out, nil
}

// Totals accumulates line taxes into invoice-level amounts.
type Totals struct {
	Subtotal int64
	CGST     int64
	SGST     int64
	IGST     int64
}

// Add folds one line into the running totals.
func (t *Totals) Add(line LineTax) {
	t.Subtotal += line.Taxable
	t.CGST += line.CGST
	t.SGST += line.SGST
	t.IGST += line.IGST
}

// Grand is subtotal plus all levies.
func (t Totals) Grand() int64 {
	return t.Subtotal + t.CGST + t.SGST + t.IGST
}

func roundPaise(v decimal.Decimal) int64 {
	return v.Round(0).IntPart()
}
