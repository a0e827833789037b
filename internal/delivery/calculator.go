package delivery

import (
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/pricing"
)

// Calculate quotes the fee of cfg for subtotal. A nil cfg means no active config: delivery
// is charged nothing but is not reported as free.
func Calculate(cfg *FeeConfig, subtotal decimal.Decimal) Quote {
	if cfg == nil {
		return Quote{Fee: decimal.Zero}
	}

	quote := Quote{ConfigID: uuid.NullUUID{UUID: cfg.ID, Valid: true}}

	if !cfg.FreeShippingThreshold.Valid {
		quote.Fee = pricing.Round(cfg.Amount)
		return quote
	}

	threshold := cfg.FreeShippingThreshold.Decimal
	if subtotal.GreaterThanOrEqual(threshold) {
		quote.Fee = decimal.Zero
		quote.IsFree = true
		quote.RemainingForFreeShipping = decimal.NewNullDecimal(decimal.Zero)
		return quote
	}

	quote.Fee = pricing.Round(cfg.Amount)
	quote.RemainingForFreeShipping = decimal.NewNullDecimal(pricing.Round(threshold.Sub(subtotal)))
	return quote
}
