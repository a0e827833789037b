package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/delivery"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/order"
)

// Snapshot is the catalog data copied into an order item when stock is taken.
type Snapshot struct {
	Name         string
	VariantLabel string
}

// Tx is the unit of work of one checkout attempt.
type Tx interface {
	LockCart(ctx context.Context, ownerKey string) ([]cart.Line, error)
	// TakeStock decrements the subject's stock by quantity when enough is available and the
	// subject is still on sale. ok is false otherwise, including when it no longer exists.
	TakeStock(ctx context.Context, subject catalog.Subject, quantity int) (snap *Snapshot, ok bool, err error)
	// ActiveDeliveryFee returns nil when no config is active.
	ActiveDeliveryFee(ctx context.Context) (*delivery.FeeConfig, error)
	// NextReference increments and returns the reference counter of year.
	NextReference(ctx context.Context, year int) (int, error)
	// SyncReferenceCounter moves the counter of year past the highest reference already
	// stored under prefix.
	SyncReferenceCounter(ctx context.Context, prefix string, year int) error
	InsertOrder(ctx context.Context, o *order.Order) error
	ClearCart(ctx context.Context, ownerKey string) error
}

type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type postgresStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&postgresTx{tx: tx})
	})
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockCart(ctx context.Context, ownerKey string) ([]cart.Line, error) {
	return cart.LockByOwner(ctx, t.tx, ownerKey)
}

func (t *postgresTx) TakeStock(ctx context.Context, subject catalog.Subject, quantity int) (*Snapshot, bool, error) {
	var (
		snap Snapshot
		row  pgx.Row
	)

	switch s := subject.(type) {
	case catalog.PackSubject:
		row = t.tx.QueryRow(ctx, `
			UPDATE cart_service.packs
			SET stock_quantity = stock_quantity - $1, updated_at = NOW()
			WHERE id = $2 AND is_available AND stock_quantity >= $1
			RETURNING name
		`, quantity, s.PackID)
		err := row.Scan(&snap.Name)
		return scanTaken(&snap, err)

	case catalog.ProductSubject:
		if !s.VariantID.Valid {
			row = t.tx.QueryRow(ctx, `
				UPDATE cart_service.products
				SET stock_quantity = stock_quantity - $1, updated_at = NOW()
				WHERE id = $2 AND is_available AND stock_quantity >= $1
				RETURNING name
			`, quantity, s.ProductID)
			err := row.Scan(&snap.Name)
			return scanTaken(&snap, err)
		}

		var variant catalog.WeightVariant
		row = t.tx.QueryRow(ctx, `
			UPDATE cart_service.weight_variants v
			SET stock_quantity = v.stock_quantity - $1, updated_at = NOW()
			FROM cart_service.products p
			WHERE v.id = $2 AND v.product_id = $3 AND p.id = v.product_id
			  AND v.is_available AND p.is_available AND v.stock_quantity >= $1
			RETURNING p.name, v.weight_value, v.weight_unit
		`, quantity, s.VariantID.UUID, s.ProductID)
		err := row.Scan(&snap.Name, &variant.WeightValue, &variant.WeightUnit)
		if err == nil {
			snap.VariantLabel = variant.Label()
		}
		return scanTaken(&snap, err)
	}

	return nil, false, fmt.Errorf("repository: unsupported subject %T", subject)
}

func scanTaken(snap *Snapshot, err error) (*Snapshot, bool, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repository: failed to take stock: %w", err)
	}
	return snap, true, nil
}

func (t *postgresTx) ActiveDeliveryFee(ctx context.Context) (*delivery.FeeConfig, error) {
	cfg, err := delivery.ActiveConfig(ctx, t.tx)
	if errors.Is(err, delivery.ErrNoActiveConfig) {
		return nil, nil
	}
	return cfg, err
}

func (t *postgresTx) NextReference(ctx context.Context, year int) (int, error) {
	var next int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO cart_service.order_reference_counters (year, last_value)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE
		SET last_value = order_reference_counters.last_value + 1
		RETURNING last_value
	`, year).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to increment order reference counter for %d: %w", year, err)
	}
	return next, nil
}

func (t *postgresTx) SyncReferenceCounter(ctx context.Context, prefix string, year int) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cart_service.order_reference_counters (year, last_value)
		SELECT $1, COALESCE(MAX(substring(reference FROM '([0-9]+)$')::int), 0)
		FROM cart_service.orders
		WHERE reference LIKE $2
		ON CONFLICT (year) DO UPDATE
		SET last_value = GREATEST(order_reference_counters.last_value, EXCLUDED.last_value)
	`, year, fmt.Sprintf("%s-%d-%%", prefix, year))
	if err != nil {
		return fmt.Errorf("repository: failed to sync order reference counter for %d: %w", year, err)
	}
	return nil
}

func (t *postgresTx) InsertOrder(ctx context.Context, o *order.Order) error {
	return order.Insert(ctx, t.tx, o)
}

func (t *postgresTx) ClearCart(ctx context.Context, ownerKey string) error {
	_, err := cart.ClearOwner(ctx, t.tx, ownerKey)
	return err
}
