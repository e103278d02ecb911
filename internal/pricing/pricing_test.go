package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeLineTotal_PercentDiscount(t *testing.T) {
	got, err := ComputeLineTotal(LineInput{
		UnitPrice:       dec("100.00"),
		Quantity:        3,
		DiscountPercent: dec("10"),
	})
	require.NoError(t, err)
	assert.True(t, got.DiscountAmount.Equal(dec("30.00")), "discount = %s", got.DiscountAmount)
	assert.True(t, got.TotalPrice.Equal(dec("270.00")), "total = %s", got.TotalPrice)
}

func TestComputeLineTotal_NoDiscount(t *testing.T) {
	got, err := ComputeLineTotal(LineInput{
		UnitPrice: dec("100.00"),
		Quantity:  3,
	})
	require.NoError(t, err)
	assert.True(t, got.DiscountAmount.IsZero())
	assert.True(t, got.TotalPrice.Equal(dec("300.00")))
}

func TestComputeLineTotal_OverrideWinsOverPercent(t *testing.T) {
	override := dec("15.00")
	got, err := ComputeLineTotal(LineInput{
		UnitPrice:        dec("100.00"),
		Quantity:         2,
		DiscountPercent:  dec("10"),
		DiscountOverride: &override,
	})
	require.NoError(t, err)
	assert.True(t, got.DiscountAmount.Equal(dec("15.00")))
	assert.True(t, got.TotalPrice.Equal(dec("185.00")))
}

func TestComputeLineTotal_RoundHalfUp(t *testing.T) {
	// 33.335 rounds to 33.34, not 33.33.
	got, err := ComputeLineTotal(LineInput{
		UnitPrice:       dec("666.70"),
		Quantity:        1,
		DiscountPercent: dec("5"),
	})
	require.NoError(t, err)
	assert.True(t, got.DiscountAmount.Equal(dec("33.34")), "discount = %s", got.DiscountAmount)
	assert.True(t, got.TotalPrice.Equal(dec("633.36")))
}

func TestComputeLineTotal_RejectsNegativeOutcome(t *testing.T) {
	override := dec("500.00")
	_, err := ComputeLineTotal(LineInput{
		UnitPrice:        dec("100.00"),
		Quantity:         2,
		DiscountOverride: &override,
	})
	require.Error(t, err)
}

func TestComputeLineTotal_RejectsBadInput(t *testing.T) {
	_, err := ComputeLineTotal(LineInput{UnitPrice: dec("10.00"), Quantity: 0})
	require.Error(t, err)

	_, err = ComputeLineTotal(LineInput{UnitPrice: dec("-1.00"), Quantity: 1})
	require.Error(t, err)

	_, err = ComputeLineTotal(LineInput{UnitPrice: dec("1.00"), Quantity: 1, DiscountPercent: dec("101")})
	require.Error(t, err)
}

func TestComputeDocumentTotals(t *testing.T) {
	l1, err := ComputeLineTotal(LineInput{UnitPrice: dec("100.00"), Quantity: 3, DiscountPercent: dec("10")})
	require.NoError(t, err)
	l2, err := ComputeLineTotal(LineInput{UnitPrice: dec("50.00"), Quantity: 2})
	require.NoError(t, err)

	totals, err := ComputeDocumentTotals([]LineTotal{l1, l2}, dec("20.00"), dec("10"))
	require.NoError(t, err)
	assert.True(t, totals.Subtotal.Equal(dec("370.00")))
	assert.True(t, totals.DiscountAmount.Equal(dec("20.00")))
	assert.True(t, totals.TaxAmount.Equal(dec("35.00")))
	assert.True(t, totals.TotalAmount.Equal(dec("385.00")))
}

func TestComputeDocumentTotals_Idempotent(t *testing.T) {
	l1, err := ComputeLineTotal(LineInput{UnitPrice: dec("19.99"), Quantity: 7, DiscountPercent: dec("3.33")})
	require.NoError(t, err)

	first, err := ComputeDocumentTotals([]LineTotal{l1}, decimal.Zero, dec("7.5"))
	require.NoError(t, err)
	second, err := ComputeDocumentTotals([]LineTotal{l1}, decimal.Zero, dec("7.5"))
	require.NoError(t, err)
	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
}

func TestComputeDocumentTotals_RejectsOverDiscount(t *testing.T) {
	l1, err := ComputeLineTotal(LineInput{UnitPrice: dec("10.00"), Quantity: 1})
	require.NoError(t, err)
	_, err = ComputeDocumentTotals([]LineTotal{l1}, dec("11.00"), decimal.Zero)
	require.Error(t, err)
}

func TestCheckInvoiceArithmetic(t *testing.T) {
	require.NoError(t, CheckInvoiceArithmetic(dec("100.00"), dec("10.00"), dec("5.00"), dec("105.00")))
	require.Error(t, CheckInvoiceArithmetic(dec("100.00"), dec("10.00"), dec("5.00"), dec("100.00")))
	require.Error(t, CheckInvoiceArithmetic(dec("-1.00"), dec("0"), dec("0"), dec("-1.00")))
}
