package totals

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"invoicepos/internal/domain"
)

type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Violations []Violation

func (v Violations) Messages() []string {
	out := make([]string, 0, len(v))
	for _, violation := range v {
		out = append(out, violation.Message)
	}
	return out
}

// Err returns nil for an empty list.
func (v Violations) Err() error {
	if len(v) == 0 {
		return nil
	}
	return errors.New(strings.Join(v.Messages(), "; "))
}

// ValidateLineItem reports every problem with the line, not just the first.
func ValidateLineItem(item domain.LineItem) Violations {
	var out Violations

	if item.ProductID <= 0 {
		out = append(out, Violation{Field: "product_id", Message: "product is required"})
	}
	if item.Quantity <= 0 {
		out = append(out, Violation{Field: "quantity", Message: "quantity must be greater than zero"})
	}
	if !item.UnitPrice.IsPositive() {
		out = append(out, Violation{Field: "unit_price", Message: "unit price must be greater than zero"})
	}
	if item.DiscountPercent.IsNegative() || item.DiscountPercent.GreaterThan(hundred) {
		out = append(out, Violation{Field: "discount_percent", Message: "discount percent must be between 0 and 100"})
	}
	if item.DiscountValue.IsNegative() {
		out = append(out, Violation{Field: "discount_value", Message: "discount value must not be negative"})
	}

	resolved := decimal.Max(item.DiscountValue, ComputeDiscountValue(item.Quantity, item.UnitPrice, item.DiscountPercent))
	if resolved.GreaterThan(grossLine(item.Quantity, item.UnitPrice)) {
		out = append(out, Violation{Field: "discount_value", Message: "discount exceeds the line total"})
	}

	return out
}

func ValidatePayment(p domain.Payment) Violations {
	var out Violations
	if p.PaymentMethodID <= 0 {
		out = append(out, Violation{Field: "payment_method_id", Message: "payment method is required"})
	}
	if !p.Amount.IsPositive() {
		out = append(out, Violation{Field: "amount", Message: "payment amount must be greater than zero"})
	}
	return out
}
