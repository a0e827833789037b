// Package pricing holds the money rules shared by the cart and checkout: effective unit
// price selection, per-line rounding and subtotals.
package pricing

import (
	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the number of fractional digits stored for every amount.
const CurrencyPlaces = 2

// Priced is anything carrying a list price and an optional promotional price.
type Priced interface {
	ListPrice() decimal.Decimal
	PromoPrice() decimal.NullDecimal
}

// EffectivePrice returns the promotional price when it is set and strictly lower than the
// list price, and the list price otherwise.
func EffectivePrice(price decimal.Decimal, promo decimal.NullDecimal) decimal.Decimal {
	if promo.Valid && promo.Decimal.LessThan(price) {
		return promo.Decimal
	}
	return price
}

// EffectivePriceOf is EffectivePrice for a catalog item.
func EffectivePriceOf(p Priced) decimal.Decimal {
	return EffectivePrice(p.ListPrice(), p.PromoPrice())
}

// Round rounds half-up (away from zero) to currency precision.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(CurrencyPlaces)
}

// LineTotal is unit × quantity rounded at the currency boundary.
func LineTotal(unit decimal.Decimal, quantity int) decimal.Decimal {
	return Round(unit.Mul(decimal.NewFromInt(int64(quantity))))
}

// Subtotal sums line totals that are already rounded.
func Subtotal(lineTotals ...decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, total := range lineTotals {
		sum = sum.Add(total)
	}
	return Round(sum)
}
