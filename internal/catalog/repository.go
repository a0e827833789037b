package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("catalog item not found")

// Reader is the catalog lookup consumed by the cart.
type Reader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetWeightVariant(ctx context.Context, id uuid.UUID) (*WeightVariant, error)
	GetPack(ctx context.Context, id uuid.UUID) (*Pack, error)
}

type postgresReader struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Reader {
	return &postgresReader{db: db}
}

func (r *postgresReader) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, name, slug, price, promotional_price, stock_quantity, is_available, created_at, updated_at
		FROM cart_service.products
		WHERE id = $1
	`

	var product Product
	if err := r.db.GetContext(ctx, &product, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}

	return &product, nil
}

func (r *postgresReader) GetWeightVariant(ctx context.Context, id uuid.UUID) (*WeightVariant, error) {
	query := `
		SELECT id, product_id, weight_value, weight_unit, price, promotional_price, stock_quantity, is_available, created_at, updated_at
		FROM cart_service.weight_variants
		WHERE id = $1
	`

	var variant WeightVariant
	if err := r.db.GetContext(ctx, &variant, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select weight variant %s: %w", id, err)
	}

	return &variant, nil
}

func (r *postgresReader) GetPack(ctx context.Context, id uuid.UUID) (*Pack, error) {
	query := `
		SELECT id, name, price, promotional_price, stock_quantity, is_available, created_at, updated_at
		FROM cart_service.packs
		WHERE id = $1
	`

	var pack Pack
	if err := r.db.GetContext(ctx, &pack, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select pack %s: %w", id, err)
	}

	return &pack, nil
}
