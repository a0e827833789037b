package testhelpers

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedProduct inserts an available product and returns its id. An empty promo stores NULL.
func SeedProduct(t *testing.T, pool *pgxpool.Pool, name, price, promo string, stock int) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	_, err := pool.Exec(context.Background(), `
		INSERT INTO cart_service.products (id, name, slug, price, promotional_price, stock_quantity)
		VALUES ($1, $2, $3, $4::numeric, NULLIF($5, '')::numeric, $6)
	`, id, name, id.String(), price, promo, stock)
	if err != nil {
		t.Fatalf("Failed to seed product %s: %v", name, err)
	}
	return id
}

// SeedVariant inserts an available weight variant of productID, weighed in grams.
func SeedVariant(t *testing.T, pool *pgxpool.Pool, productID uuid.UUID, grams int, price string, stock int) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	_, err := pool.Exec(context.Background(), `
		INSERT INTO cart_service.weight_variants (id, product_id, weight_value, weight_unit, price, stock_quantity)
		VALUES ($1, $2, $3, 'g', $4::numeric, $5)
	`, id, productID, grams, price, stock)
	if err != nil {
		t.Fatalf("Failed to seed variant of %s: %v", productID, err)
	}
	return id
}

// SeedPack inserts an available pack and returns its id.
func SeedPack(t *testing.T, pool *pgxpool.Pool, name, price string, stock int) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	_, err := pool.Exec(context.Background(), `
		INSERT INTO cart_service.packs (id, name, price, stock_quantity)
		VALUES ($1, $2, $3::numeric, $4)
	`, id, name, price, stock)
	if err != nil {
		t.Fatalf("Failed to seed pack %s: %v", name, err)
	}
	return id
}
