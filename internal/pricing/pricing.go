// Package pricing computes monetary amounts for quotation and order lines.
// All arithmetic is decimal with a fixed scale of 2 and round-half-up on
// every intermediate rounding step, so repeated recomputation is idempotent.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/evmotors/dms/internal/shared"
)

const moneyScale = 2

var hundred = decimal.NewFromInt(100)

// LineTotal is the computed result for a single line item.
type LineTotal struct {
	GrossAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalPrice     decimal.Decimal
}

// DocumentTotals aggregates line totals with document-level discount and tax.
type DocumentTotals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
}

// LineInput carries the priced quantities of one line item.
type LineInput struct {
	UnitPrice       decimal.Decimal
	Quantity        int64
	DiscountPercent decimal.Decimal
	// DiscountOverride, when non-nil, replaces the percentage-derived amount.
	DiscountOverride *decimal.Decimal
}

// ComputeLineTotal derives discount and total for one line.
// A percentage discount > 0 takes precedence over the override being absent;
// an explicit override wins over the percentage. Negative results are
// rejected, never clamped.
func ComputeLineTotal(in LineInput) (LineTotal, error) {
	if in.Quantity <= 0 {
		return LineTotal{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if in.UnitPrice.IsNegative() {
		return LineTotal{}, fmt.Errorf("%w: unit price must not be negative", shared.ErrValidation)
	}
	if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(hundred) {
		return LineTotal{}, fmt.Errorf("%w: discount percent out of range", shared.ErrValidation)
	}

	gross := roundHalfUp(in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity)))

	var discount decimal.Decimal
	switch {
	case in.DiscountOverride != nil:
		discount = roundHalfUp(*in.DiscountOverride)
	case in.DiscountPercent.IsPositive():
		discount = roundHalfUp(gross.Mul(in.DiscountPercent).Div(hundred))
	default:
		discount = decimal.Zero.Round(moneyScale)
	}
	if discount.IsNegative() {
		return LineTotal{}, fmt.Errorf("%w: discount must not be negative", shared.ErrValidation)
	}

	total := gross.Sub(discount)
	if total.IsNegative() {
		return LineTotal{}, fmt.Errorf("%w: discount exceeds line amount", shared.ErrValidation)
	}
	return LineTotal{GrossAmount: gross, DiscountAmount: discount, TotalPrice: total}, nil
}

// ComputeDocumentTotals sums line totals into a subtotal, then applies the
// document-level discount and tax percentage.
func ComputeDocumentTotals(lines []LineTotal, docDiscount, taxPercent decimal.Decimal) (DocumentTotals, error) {
	if docDiscount.IsNegative() {
		return DocumentTotals{}, fmt.Errorf("%w: document discount must not be negative", shared.ErrValidation)
	}
	if taxPercent.IsNegative() || taxPercent.GreaterThan(hundred) {
		return DocumentTotals{}, fmt.Errorf("%w: tax percent out of range", shared.ErrValidation)
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.TotalPrice)
	}
	subtotal = roundHalfUp(subtotal)

	discounted := subtotal.Sub(roundHalfUp(docDiscount))
	if discounted.IsNegative() {
		return DocumentTotals{}, fmt.Errorf("%w: document discount exceeds subtotal", shared.ErrValidation)
	}
	tax := roundHalfUp(discounted.Mul(taxPercent).Div(hundred))
	total := discounted.Add(tax)

	return DocumentTotals{
		Subtotal:       subtotal,
		DiscountAmount: roundHalfUp(docDiscount),
		TaxAmount:      tax,
		TotalAmount:    total,
	}, nil
}

// CheckInvoiceArithmetic verifies total = subtotal + tax - discount with all
// parts non-negative. Used on every invoice write.
func CheckInvoiceArithmetic(subtotal, tax, discount, total decimal.Decimal) error {
	for _, part := range []decimal.Decimal{subtotal, tax, discount, total} {
		if part.IsNegative() {
			return fmt.Errorf("%w: invoice amounts must not be negative", shared.ErrValidation)
		}
	}
	expected := subtotal.Add(tax).Sub(discount)
	if !expected.Equal(total) {
		return fmt.Errorf("%w: total %s does not equal subtotal+tax-discount %s", shared.ErrValidation, total, expected)
	}
	return nil
}

// roundHalfUp rounds away from zero at .5, matching the stored precision.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyScale)
}
