package domain

import (
	"github.com/shopspring/decimal"
)

type TotalsRequest struct {
	Lines     []map[string]any `json:"lines"`
	Payments  []map[string]any `json:"payments,omitempty"`
	Tolerance *decimal.Decimal `json:"tolerance,omitempty"`
}

type LineViolations struct {
	Index      int      `json:"index"`
	Violations []string `json:"violations"`
}

type TotalsResponse struct {
	Totals            TotalsResult     `json:"totals"`
	Reconciliation    *Reconciliation  `json:"reconciliation,omitempty"`
	LineSubtotals     []string         `json:"line_subtotals"`
	LineViolations    []LineViolations `json:"line_violations,omitempty"`
	PaymentViolations []LineViolations `json:"payment_violations,omitempty"`
	Display           TotalsDisplay    `json:"display"`
}

// TotalsDisplay carries currency strings for rendering only.
type TotalsDisplay struct {
	GrossTotal     string `json:"gross_total"`
	TotalDiscounts string `json:"total_discounts"`
	NetTotal       string `json:"net_total"`
	TotalTax       string `json:"total_tax"`
	TotalPaid      string `json:"total_paid,omitempty"`
	Change         string `json:"change,omitempty"`
}

type AddLineRequest struct {
	ProductID       int64           `json:"product_id"`
	Quantity        int             `json:"quantity"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountValue   decimal.Decimal `json:"discount_value"`
}

type UpdateLineRequest struct {
	Quantity        *int             `json:"quantity,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	DiscountValue   *decimal.Decimal `json:"discount_value,omitempty"`
}

type AddPaymentRequest struct {
	PaymentMethodID int64           `json:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount"`
}

type SetCustomerRequest struct {
	CustomerID *int64 `json:"customer_id"`
}

type SetNotesRequest struct {
	Notes string `json:"notes"`
}

type RecoveryDecision struct {
	Accept bool `json:"accept"`
}

type RecoveryOffer struct {
	Available    bool         `json:"available"`
	SavedAt      string       `json:"saved_at,omitempty"`
	AgeMinutes   int          `json:"age_minutes,omitempty"`
	LineCount    int          `json:"line_count,omitempty"`
	PaymentCount int          `json:"payment_count,omitempty"`
	Totals       TotalsResult `json:"totals"`
}

type DraftResponse struct {
	StoreID        string         `json:"store_id"`
	TerminalID     string         `json:"terminal_id"`
	State          string         `json:"state"`
	Recovered      bool           `json:"recovered,omitempty"`
	Draft          DraftInvoice   `json:"draft"`
	Totals         TotalsResult   `json:"totals"`
	Reconciliation Reconciliation `json:"reconciliation"`
	Display        TotalsDisplay  `json:"display"`
}

type SubmitResponse struct {
	Invoice Invoice       `json:"invoice"`
	Display TotalsDisplay `json:"display"`
}

type ProductMatch struct {
	ProductID      int64           `json:"product_id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	VATPercent     decimal.Decimal `json:"vat_percent"`
	AvailableStock int             `json:"available_stock"`
	Score          float64         `json:"score"`
	MatchedOn      string          `json:"matched_on"`
}

type LookupResponse struct {
	Query     string         `json:"query"`
	Matches   []ProductMatch `json:"matches"`
	Cached    bool           `json:"cached"`
	LatencyMS int64          `json:"latency_ms"`
}
