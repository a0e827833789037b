package catalog

import (
	"errors"

	"github.com/gofrs/uuid"
)

var ErrInvalidSubject = errors.New("exactly one of product or pack must be set")

// Subject identifies what a cart line or order item refers to: a product (optionally a
// specific weight variant) or a pack.
type Subject interface {
	// Key is unique per distinct product/variant or pack and stable across requests.
	Key() string
	isSubject()
}

type ProductSubject struct {
	ProductID uuid.UUID
	VariantID uuid.NullUUID
}

func (s ProductSubject) Key() string {
	if s.VariantID.Valid {
		return "product:" + s.ProductID.String() + ":variant:" + s.VariantID.UUID.String()
	}
	return "product:" + s.ProductID.String()
}

func (ProductSubject) isSubject() {}

type PackSubject struct {
	PackID uuid.UUID
}

func (s PackSubject) Key() string {
	return "pack:" + s.PackID.String()
}

func (PackSubject) isSubject() {}

// NewSubject builds a subject from nullable column or request values.
func NewSubject(productID, variantID, packID uuid.NullUUID) (Subject, error) {
	switch {
	case productID.Valid && !packID.Valid:
		return ProductSubject{ProductID: productID.UUID, VariantID: variantID}, nil
	case packID.Valid && !productID.Valid && !variantID.Valid:
		return PackSubject{PackID: packID.UUID}, nil
	default:
		return nil, ErrInvalidSubject
	}
}

// Columns splits a subject back into its nullable column values.
func Columns(s Subject) (productID, variantID, packID uuid.NullUUID) {
	switch v := s.(type) {
	case ProductSubject:
		productID = uuid.NullUUID{UUID: v.ProductID, Valid: true}
		variantID = v.VariantID
	case PackSubject:
		packID = uuid.NullUUID{UUID: v.PackID, Valid: true}
	}
	return productID, variantID, packID
}
