package order

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Item is an immutable snapshot of a cart line taken at checkout. The subject ids are kept
// for reference only and may point at deleted catalog rows.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	ProductID    uuid.NullUUID   `json:"product_id"`
	VariantID    uuid.NullUUID   `json:"variant_id"`
	PackID       uuid.NullUUID   `json:"pack_id"`
	Name         string          `json:"name"`
	VariantLabel string          `json:"variant_label,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	LineTotal    decimal.Decimal `json:"line_total"`
	CreatedAt    time.Time       `json:"created_at"`
}

type DeliveryDetails struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Notes      string `json:"notes,omitempty"`
}

type Order struct {
	ID            uuid.UUID       `json:"id"`
	OwnerKey      string          `json:"-"`
	UserID        uuid.NullUUID   `json:"user_id"`
	Reference     string          `json:"reference"`
	Status        Status          `json:"status"`
	Items         []Item          `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DeliveryFeeID uuid.NullUUID   `json:"delivery_fee_id"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	Total         decimal.Decimal `json:"total"`
	Delivery      DeliveryDetails `json:"delivery"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// FormatReference renders a human-readable order reference such as CMD-2026-00042.
func FormatReference(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
}
