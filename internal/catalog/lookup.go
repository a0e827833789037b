package catalog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Lookup resolves subjects to purchasable items.
type Lookup struct {
	reader Reader
}

func NewLookup(reader Reader) *Lookup {
	return &Lookup{reader: reader}
}

// Resolve returns ErrNotFound when the product, variant or pack does not exist, or when the
// variant belongs to a different product than the subject names.
func (l *Lookup) Resolve(ctx context.Context, subject Subject) (*Item, error) {
	switch s := subject.(type) {
	case ProductSubject:
		return l.resolveProduct(ctx, s)
	case PackSubject:
		pack, err := l.reader.GetPack(ctx, s.PackID)
		if err != nil {
			return nil, err
		}
		return &Item{
			Subject:          s,
			Name:             pack.Name,
			Price:            pack.Price,
			PromotionalPrice: pack.PromotionalPrice,
			StockQuantity:    pack.StockQuantity,
			IsAvailable:      pack.IsAvailable,
		}, nil
	default:
		return nil, fmt.Errorf("catalog: unsupported subject %T: %w", subject, ErrInvalidSubject)
	}
}

func (l *Lookup) resolveProduct(ctx context.Context, s ProductSubject) (*Item, error) {
	product, err := l.reader.GetProduct(ctx, s.ProductID)
	if err != nil {
		return nil, err
	}

	if !s.VariantID.Valid {
		return &Item{
			Subject:          s,
			Name:             product.Name,
			Price:            product.Price,
			PromotionalPrice: product.PromotionalPrice,
			StockQuantity:    product.StockQuantity,
			IsAvailable:      product.IsAvailable,
		}, nil
	}

	variant, err := l.reader.GetWeightVariant(ctx, s.VariantID.UUID)
	if err != nil {
		return nil, err
	}
	if variant.ProductID != product.ID {
		log.Warn().
			Stringer("product_id", product.ID).
			Stringer("variant_id", variant.ID).
			Msg("catalog: variant does not belong to product")
		return nil, ErrNotFound
	}

	return &Item{
		Subject:          s,
		Name:             product.Name,
		VariantLabel:     variant.Label(),
		Price:            variant.Price,
		PromotionalPrice: variant.PromotionalPrice,
		StockQuantity:    variant.StockQuantity,
		IsAvailable:      product.IsAvailable && variant.IsAvailable,
	}, nil
}
