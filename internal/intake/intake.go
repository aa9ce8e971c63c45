// Package intake maps the loosely named records that arrive from product
// lookups and form posts onto the canonical LineItem and Payment shapes.
// Nothing past this package deals with alternative field names.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"invoicepos/internal/domain"
)

var ErrMalformed = errors.New("malformed input")

var lineAliases = map[string][]string{
	"product_id":       {"productid", "idproducto", "productoid", "id"},
	"product_code":     {"productcode", "code", "codigo", "sku"},
	"name":             {"name", "productname", "nombre", "descripcion", "description"},
	"unit_price":       {"unitprice", "price", "precio", "preciounitario"},
	"quantity":         {"quantity", "qty", "cantidad"},
	"discount_percent": {"discountpercent", "discountpct", "porcentajedescuento", "descuentoporcentaje"},
	"discount_value":   {"discountvalue", "discount", "descuento", "valordescuento"},
	"vat_percent":      {"vatpercent", "vat", "iva", "porcentajeiva", "tax", "taxrate"},
	"available_stock":  {"availablestock", "stock", "existencia", "stockdisponible"},
}

var paymentAliases = map[string][]string{
	"payment_method_id": {"paymentmethodid", "methodid", "idmetodopago", "metodopagoid", "formapagoid"},
	"amount":            {"amount", "monto", "valor", "importe"},
}

func canonicalKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
}

// fields resolves raw keys against an alias table. Two spellings of one field
// carrying different values is rejected instead of silently picking one.
func fields(raw map[string]any, aliases map[string][]string) (map[string]any, error) {
	lookup := make(map[string]string)
	for canonical, names := range aliases {
		lookup[canonicalKey(canonical)] = canonical
		for _, name := range names {
			lookup[name] = canonical
		}
	}

	out := make(map[string]any, len(aliases))
	for key, value := range raw {
		canonical, ok := lookup[canonicalKey(key)]
		if !ok || value == nil {
			continue
		}
		if prev, seen := out[canonical]; seen && fmt.Sprint(prev) != fmt.Sprint(value) {
			return nil, fmt.Errorf("%w: conflicting values for %s", ErrMalformed, canonical)
		}
		out[canonical] = value
	}
	return out, nil
}

func toDecimal(field string, value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, fmt.Errorf("%w: %s is not a finite number", ErrMalformed, field)
		}
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s=%q is not a number", ErrMalformed, field, v.String())
		}
		return d, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(trimmed)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s=%q is not a number", ErrMalformed, field, v)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s has unsupported type %T", ErrMalformed, field, value)
	}
}

func toInt(field string, value any) (int64, error) {
	d, err := toDecimal(field, value)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: %s must be a whole number", ErrMalformed, field)
	}
	return d.IntPart(), nil
}

func toString(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func DecodeLineItem(raw map[string]any) (domain.LineItem, error) {
	f, err := fields(raw, lineAliases)
	if err != nil {
		return domain.LineItem{}, err
	}

	var item domain.LineItem
	if item.ProductID, err = toInt("product_id", f["product_id"]); err != nil {
		return domain.LineItem{}, err
	}
	quantity, err := toInt("quantity", f["quantity"])
	if err != nil {
		return domain.LineItem{}, err
	}
	stock, err := toInt("available_stock", f["available_stock"])
	if err != nil {
		return domain.LineItem{}, err
	}
	item.Quantity = int(quantity)
	item.AvailableStock = int(stock)

	if item.UnitPrice, err = toDecimal("unit_price", f["unit_price"]); err != nil {
		return domain.LineItem{}, err
	}
	if item.DiscountPercent, err = toDecimal("discount_percent", f["discount_percent"]); err != nil {
		return domain.LineItem{}, err
	}
	if item.DiscountValue, err = toDecimal("discount_value", f["discount_value"]); err != nil {
		return domain.LineItem{}, err
	}
	if item.VATPercent, err = toDecimal("vat_percent", f["vat_percent"]); err != nil {
		return domain.LineItem{}, err
	}

	item.ProductCode = toString(f["product_code"])
	item.Name = toString(f["name"])
	return item, nil
}

func DecodePayment(raw map[string]any) (domain.Payment, error) {
	f, err := fields(raw, paymentAliases)
	if err != nil {
		return domain.Payment{}, err
	}

	var p domain.Payment
	if p.PaymentMethodID, err = toInt("payment_method_id", f["payment_method_id"]); err != nil {
		return domain.Payment{}, err
	}
	if p.Amount, err = toDecimal("amount", f["amount"]); err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

func DecodeLineItems(raw []map[string]any) ([]domain.LineItem, error) {
	out := make([]domain.LineItem, 0, len(raw))
	for i, entry := range raw {
		item, err := DecodeLineItem(entry)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func DecodePayments(raw []map[string]any) ([]domain.Payment, error) {
	out := make([]domain.Payment, 0, len(raw))
	for i, entry := range raw {
		p, err := DecodePayment(entry)
		if err != nil {
			return nil, fmt.Errorf("payment %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
