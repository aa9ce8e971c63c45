// Package totals computes invoice line subtotals, discounts, aggregate totals
// and payment reconciliation. Every function is pure: inputs are never
// mutated and no I/O happens here.
//
// Money is rounded with banker's rounding (half to even) to two fractional
// digits. Aggregates are rounded once, after all lines are accumulated.
package totals

import (
	"github.com/shopspring/decimal"

	"invoicepos/internal/domain"
)

const Places = 2

var (
	hundred = decimal.NewFromInt(100)

	// DefaultTolerance is the slack allowed between the net total and the sum
	// of payments.
	DefaultTolerance = decimal.New(1, -2)
)

func Round(v decimal.Decimal) decimal.Decimal {
	return v.RoundBank(Places)
}

func grossLine(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(quantity)).Mul(unitPrice)
}

func rawDiscount(quantity int, unitPrice, discountPercent decimal.Decimal) decimal.Decimal {
	if !discountPercent.IsPositive() {
		return decimal.Zero
	}
	return grossLine(quantity, unitPrice).Mul(discountPercent).Div(hundred)
}

// ComputeLineSubtotal returns quantity*unitPrice minus discountValue, clamped
// at zero so an oversized discount never yields a negative line.
func ComputeLineSubtotal(quantity int, unitPrice, discountValue decimal.Decimal) decimal.Decimal {
	subtotal := grossLine(quantity, unitPrice).Sub(discountValue)
	if subtotal.IsNegative() {
		return decimal.Zero
	}
	return subtotal
}

func ComputeDiscountValue(quantity int, unitPrice, discountPercent decimal.Decimal) decimal.Decimal {
	return Round(rawDiscount(quantity, unitPrice, discountPercent))
}

// ResolveDiscount picks the discount that applies to a line: an explicit
// non-zero DiscountValue wins, otherwise it is derived from DiscountPercent.
// The result is unrounded.
func ResolveDiscount(line domain.LineItem) decimal.Decimal {
	if !line.DiscountValue.IsZero() {
		return line.DiscountValue
	}
	return rawDiscount(line.Quantity, line.UnitPrice, line.DiscountPercent)
}

// LineSubtotal is the display value of a single line, rounded.
func LineSubtotal(line domain.LineItem) decimal.Decimal {
	return Round(ComputeLineSubtotal(line.Quantity, line.UnitPrice, ResolveDiscount(line)))
}

func ComputeInvoiceTotals(lines []domain.LineItem) domain.TotalsResult {
	gross := decimal.Zero
	discounts := decimal.Zero
	tax := decimal.Zero

	for _, line := range lines {
		lineGross := grossLine(line.Quantity, line.UnitPrice)
		discount := ResolveDiscount(line)
		if discount.GreaterThan(lineGross) {
			discount = lineGross
		}
		if discount.IsNegative() {
			discount = decimal.Zero
		}

		gross = gross.Add(lineGross)
		discounts = discounts.Add(discount)

		if line.VATPercent.IsPositive() {
			tax = tax.Add(lineGross.Sub(discount).Mul(line.VATPercent).Div(hundred))
		}
	}

	return domain.TotalsResult{
		GrossTotal:     Round(gross),
		TotalDiscounts: Round(discounts),
		NetTotal:       Round(gross.Sub(discounts)),
		TotalTax:       Round(tax),
	}
}

func SumPayments(payments []domain.Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

func ValidatePayments(netTotal decimal.Decimal, payments []domain.Payment, tolerance decimal.Decimal) bool {
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	return netTotal.Sub(SumPayments(payments)).Abs().LessThanOrEqual(tolerance)
}

func ComputeChange(netTotal, totalPaid decimal.Decimal) decimal.Decimal {
	change := totalPaid.Sub(netTotal)
	if change.IsNegative() {
		return decimal.Zero
	}
	return change
}

func ReconcilePayments(netTotal decimal.Decimal, payments []domain.Payment, tolerance decimal.Decimal) domain.Reconciliation {
	paid := SumPayments(payments)
	balance := netTotal.Sub(paid)
	shortfall := balance
	if shortfall.IsNegative() {
		shortfall = decimal.Zero
	}

	return domain.Reconciliation{
		TotalPaid: Round(paid),
		Balance:   Round(balance),
		Shortfall: Round(shortfall),
		Change:    Round(ComputeChange(netTotal, paid)),
		Valid:     ValidatePayments(netTotal, payments, tolerance),
	}
}
