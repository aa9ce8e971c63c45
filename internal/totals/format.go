package totals

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"invoicepos/internal/domain"
)

var displayPrinter = message.NewPrinter(language.English)

// FormatCurrency renders amount for display, e.g. "$1,234.50". The output is
// never meant to be parsed back into a number.
func FormatCurrency(symbol string, amount decimal.Decimal) string {
	rounded := Round(amount)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Abs()
	}
	whole, frac, ok := strings.Cut(rounded.StringFixed(Places), ".")
	if !ok {
		return sign + symbol + groupThousands(whole)
	}
	return sign + symbol + groupThousands(whole) + "." + frac
}

// groupThousands inserts separators into a string of digits. Integers go
// through the printer exactly; anything past int64 is grouped by hand.
func groupThousands(digits string) string {
	if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
		return displayPrinter.Sprint(number.Decimal(n))
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func Display(symbol string, t domain.TotalsResult) domain.TotalsDisplay {
	return domain.TotalsDisplay{
		GrossTotal:     FormatCurrency(symbol, t.GrossTotal),
		TotalDiscounts: FormatCurrency(symbol, t.TotalDiscounts),
		NetTotal:       FormatCurrency(symbol, t.NetTotal),
		TotalTax:       FormatCurrency(symbol, t.TotalTax),
	}
}

func DisplayWithPayments(symbol string, t domain.TotalsResult, r domain.Reconciliation) domain.TotalsDisplay {
	out := Display(symbol, t)
	out.TotalPaid = FormatCurrency(symbol, r.TotalPaid)
	out.Change = FormatCurrency(symbol, r.Change)
	return out
}
