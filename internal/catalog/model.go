package catalog

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type WeightUnit string

const (
	UnitGram     WeightUnit = "g"
	UnitKilogram WeightUnit = "kg"
)

func (u WeightUnit) Valid() bool {
	return u == UnitGram || u == UnitKilogram
}

type Product struct {
	ID               uuid.UUID           `json:"id" db:"id"`
	Name             string              `json:"name" db:"name"`
	Slug             string              `json:"slug" db:"slug"`
	Price            decimal.Decimal     `json:"price" db:"price"`
	PromotionalPrice decimal.NullDecimal `json:"promotional_price" db:"promotional_price"`
	StockQuantity    int                 `json:"stock_quantity" db:"stock_quantity"`
	IsAvailable      bool                `json:"is_available" db:"is_available"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"`
}

func (p Product) ListPrice() decimal.Decimal       { return p.Price }
func (p Product) PromoPrice() decimal.NullDecimal { return p.PromotionalPrice }

// WeightVariant is a purchasable SKU of a product distinguished by weight.
type WeightVariant struct {
	ID               uuid.UUID           `json:"id" db:"id"`
	ProductID        uuid.UUID           `json:"product_id" db:"product_id"`
	WeightValue      decimal.Decimal     `json:"weight_value" db:"weight_value"`
	WeightUnit       WeightUnit          `json:"weight_unit" db:"weight_unit"`
	Price            decimal.Decimal     `json:"price" db:"price"`
	PromotionalPrice decimal.NullDecimal `json:"promotional_price" db:"promotional_price"`
	StockQuantity    int                 `json:"stock_quantity" db:"stock_quantity"`
	IsAvailable      bool                `json:"is_available" db:"is_available"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"`
}

func (v WeightVariant) ListPrice() decimal.Decimal       { return v.Price }
func (v WeightVariant) PromoPrice() decimal.NullDecimal { return v.PromotionalPrice }

// Label renders the weight for display, e.g. "250 g".
func (v WeightVariant) Label() string {
	return fmt.Sprintf("%s %s", v.WeightValue.String(), v.WeightUnit)
}

// Pack is a bundle sold as a single unit with its own price and stock.
type Pack struct {
	ID               uuid.UUID           `json:"id" db:"id"`
	Name             string              `json:"name" db:"name"`
	Price            decimal.Decimal     `json:"price" db:"price"`
	PromotionalPrice decimal.NullDecimal `json:"promotional_price" db:"promotional_price"`
	StockQuantity    int                 `json:"stock_quantity" db:"stock_quantity"`
	IsAvailable      bool                `json:"is_available" db:"is_available"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"`
}

func (p Pack) ListPrice() decimal.Decimal       { return p.Price }
func (p Pack) PromoPrice() decimal.NullDecimal { return p.PromotionalPrice }

// Item is the purchasable view of a subject: what the cart and checkout need to price it.
type Item struct {
	Subject          Subject
	Name             string
	VariantLabel     string
	Price            decimal.Decimal
	PromotionalPrice decimal.NullDecimal
	StockQuantity    int
	IsAvailable      bool
}

func (i Item) ListPrice() decimal.Decimal       { return i.Price }
func (i Item) PromoPrice() decimal.NullDecimal { return i.PromotionalPrice }
