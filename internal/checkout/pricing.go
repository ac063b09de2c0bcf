package checkout

import (
	"github.com/shopspring/decimal"

	"partsdesk/checkout/internal/domain"
)

// DefaultTaxRate is the VAT rate applied when tax is toggled on.
var DefaultTaxRate = decimal.RequireFromString("0.16")

const currencyPlaces = 2

var hundred = decimal.NewFromInt(100)

// PricingInput is the operator-entered part of the pricing computation.
type PricingInput struct {
	DiscountValue decimal.Decimal
	DiscountType  domain.DiscountType
	ApplyTax      bool
}

// Price derives the summary for lines. Every monetary figure is rounded to
// currency precision before it feeds the next one, so the returned total
// always equals Subtotal - DiscountAmount + TaxAmount exactly.
//
// The discount is clamped to [0, subtotal] and is always zero for a cart
// locked to an invoice.
func Price(lines []domain.CartLine, locked bool, in PricingInput, taxRate decimal.Decimal) domain.PricingSummary {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Product.RetailPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	subtotal = subtotal.Round(currencyPlaces)

	discount := decimal.Zero
	if !locked {
		switch in.DiscountType {
		case domain.DiscountPercent:
			discount = subtotal.Mul(in.DiscountValue).Div(hundred)
		default:
			discount = in.DiscountValue
		}
		discount = clamp(discount.Round(currencyPlaces), decimal.Zero, subtotal)
	}

	tax := decimal.Zero
	if in.ApplyTax {
		tax = subtotal.Sub(discount).Mul(taxRate).Round(currencyPlaces)
	}

	return domain.PricingSummary{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		Total:          subtotal.Sub(discount).Add(tax),
	}
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
