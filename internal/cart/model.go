package cart

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
)

// Line is one cart row. UnitPrice is the effective price captured when the line was created.
type Line struct {
	ID        uuid.UUID
	OwnerKey  string
	Subject   catalog.Subject
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Summary struct {
	Lines    []Line
	Subtotal decimal.Decimal
	// ItemsCount is the sum of quantities, not the number of lines.
	ItemsCount int
}
