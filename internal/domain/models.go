package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	VATPercent decimal.Decimal `json:"vat_percent"`
	Active     bool            `json:"active"`
}

type PaymentMethod struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type Customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	TaxID string `json:"tax_id,omitempty"`
}

// LineItem is one product line on a draft invoice. AvailableStock is the
// stock snapshot taken when the line was added or last edited.
type LineItem struct {
	ProductID       int64           `json:"product_id"`
	ProductCode     string          `json:"product_code"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int             `json:"quantity"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountValue   decimal.Decimal `json:"discount_value"`
	VATPercent      decimal.Decimal `json:"vat_percent"`
	AvailableStock  int             `json:"available_stock"`
}

type Payment struct {
	PaymentMethodID int64           `json:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount"`
}

// DraftInvoice is the working set of an invoice that has not been submitted.
type DraftInvoice struct {
	LineItems  []LineItem `json:"line_items"`
	Payments   []Payment  `json:"payments"`
	CustomerID *int64     `json:"customer_id,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	SavedAt    time.Time  `json:"saved_at"`
}

func (d DraftInvoice) Clone() DraftInvoice {
	out := d
	out.LineItems = append([]LineItem(nil), d.LineItems...)
	out.Payments = append([]Payment(nil), d.Payments...)
	if d.CustomerID != nil {
		id := *d.CustomerID
		out.CustomerID = &id
	}
	return out
}

func (d DraftInvoice) FindLine(productID int64) (int, bool) {
	for i, line := range d.LineItems {
		if line.ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

type TotalsResult struct {
	GrossTotal     decimal.Decimal `json:"gross_total"`
	TotalDiscounts decimal.Decimal `json:"total_discounts"`
	NetTotal       decimal.Decimal `json:"net_total"`
	TotalTax       decimal.Decimal `json:"total_tax"`
}

type Reconciliation struct {
	TotalPaid decimal.Decimal `json:"total_paid"`
	Balance   decimal.Decimal `json:"balance"`
	Shortfall decimal.Decimal `json:"shortfall"`
	Change    decimal.Decimal `json:"change"`
	Valid     bool            `json:"valid"`
}

type Invoice struct {
	ID         string          `json:"id"`
	StoreID    string          `json:"store_id"`
	TerminalID string          `json:"terminal_id"`
	CustomerID *int64          `json:"customer_id,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	Lines      []LineItem      `json:"lines"`
	Payments   []Payment       `json:"payments"`
	Totals     TotalsResult    `json:"totals"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	Change     decimal.Decimal `json:"change"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
