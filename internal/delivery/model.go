package delivery

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// FeeConfig is a flat delivery fee, optionally waived above FreeShippingThreshold.
type FeeConfig struct {
	ID                    uuid.UUID           `json:"id"`
	Name                  string              `json:"name"`
	Amount                decimal.Decimal     `json:"amount"`
	FreeShippingThreshold decimal.NullDecimal `json:"free_shipping_threshold"`
	IsActive              bool                `json:"is_active"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// Quote is the delivery fee for a given subtotal. ConfigID is null when no config is active.
type Quote struct {
	ConfigID                 uuid.NullUUID       `json:"config_id"`
	Fee                      decimal.Decimal     `json:"fee"`
	IsFree                   bool                `json:"is_free"`
	RemainingForFreeShipping decimal.NullDecimal `json:"remaining_for_free_shipping"`
}
