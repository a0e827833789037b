package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/db"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusChanged means the order left the expected status before the update landed.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

// ReferenceConstraint is the unique constraint guarding order references.
const ReferenceConstraint = "orders_reference_key"

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByOwner(ctx context.Context, ownerKey string) ([]Order, error)
	// UpdateStatus moves the order from one status to another. Moving to StatusCancelled
	// returns the items' quantities to stock in the same transaction.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, owner_key, user_id, reference, status, subtotal, delivery_fee_id, delivery_fee, total,
	full_name, phone, address, city, postal_code, notes, created_at, updated_at`

const itemColumns = `id, order_id, product_id, variant_id, pack_id, name, variant_label, unit_price, quantity, line_total, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OwnerKey,
		&o.UserID,
		&o.Reference,
		&o.Status,
		&o.Subtotal,
		&o.DeliveryFeeID,
		&o.DeliveryFee,
		&o.Total,
		&o.Delivery.FullName,
		&o.Delivery.Phone,
		&o.Delivery.Address,
		&o.Delivery.City,
		&o.Delivery.PostalCode,
		&o.Delivery.Notes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Items = make([]Item, 0)
	return &o, nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var item Item
	err := row.Scan(
		&item.ID,
		&item.OrderID,
		&item.ProductID,
		&item.VariantID,
		&item.PackID,
		&item.Name,
		&item.VariantLabel,
		&item.UnitPrice,
		&item.Quantity,
		&item.LineTotal,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Insert writes the order and its item snapshot through q, which is expected to be the
// checkout transaction. IDs and timestamps are assigned here.
func Insert(ctx context.Context, q db.Querier, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		o.ID = id
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	queryOrder := `
		INSERT INTO cart_service.orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`
	_, err := q.Exec(ctx, queryOrder,
		o.ID,
		o.OwnerKey,
		o.UserID,
		o.Reference,
		string(o.Status),
		o.Subtotal,
		o.DeliveryFeeID,
		o.DeliveryFee,
		o.Total,
		o.Delivery.FullName,
		o.Delivery.Phone,
		o.Delivery.Address,
		o.Delivery.City,
		o.Delivery.PostalCode,
		o.Delivery.Notes,
		now,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order %s: %w", o.Reference, err)
	}

	queryItem := `
		INSERT INTO cart_service.order_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for i := range o.Items {
		item := &o.Items[i]

		itemID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", err)
		}
		item.ID = itemID
		item.OrderID = o.ID
		item.CreatedAt = now

		_, err = q.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.VariantID,
			item.PackID,
			item.Name,
			item.VariantLabel,
			item.UnitPrice,
			item.Quantity,
			item.LineTotal,
			item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.Reference, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM cart_service.orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	if err := r.attachItems(ctx, map[uuid.UUID]*Order{o.ID: o}, []uuid.UUID{o.ID}); err != nil {
		return nil, err
	}

	return o, nil
}

func (r *postgresRepository) ListByOwner(ctx context.Context, ownerKey string) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM cart_service.orders
		WHERE owner_key = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for owner %s: %w", ownerKey, err)
	}
	defer rows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for owner %s: %w", ownerKey, err)
		}
		ordersMap[o.ID] = o
		orderIDs = append(orderIDs, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders for owner %s: %w", ownerKey, err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	if err := r.attachItems(ctx, ordersMap, orderIDs); err != nil {
		return nil, err
	}

	result := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}
	return result, nil
}

func (r *postgresRepository) attachItems(ctx context.Context, orders map[uuid.UUID]*Order, ids []uuid.UUID) error {
	query := `
		SELECT ` + itemColumns + `
		FROM cart_service.order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := orders[item.OrderID]; ok {
			o.Items = append(o.Items, *item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: error iterating order items: %w", err)
	}

	return nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	return db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		cmdTag, err := tx.Exec(ctx, `
			UPDATE cart_service.orders
			SET status = $1, updated_at = $2
			WHERE id = $3 AND status = $4
		`, string(to), time.Now().UTC(), id, string(from))
		if err != nil {
			log.Error().Err(err).Stringer("order_id", id).Stringer("new_status", to).Msg("repository: failed to update order status")
			return fmt.Errorf("repository: failed to update order status %s: %w", id, err)
		}
		if cmdTag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cart_service.orders WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("repository: failed to check order %s: %w", id, err)
			}
			if !exists {
				return ErrOrderNotFound
			}
			return ErrStatusChanged
		}

		if to == StatusCancelled {
			return restock(ctx, tx, id)
		}
		return nil
	})
}

// restock returns every item of the order to the stock of its subject. Items whose subject
// has since been deleted are skipped.
func restock(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error {
	rows, err := tx.Query(ctx, `SELECT `+itemColumns+` FROM cart_service.order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to query items to restock for order %s: %w", orderID, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		item, err := scanItem(row)
		if err != nil {
			return Item{}, err
		}
		return *item, nil
	})
	if err != nil {
		return fmt.Errorf("repository: failed to scan items to restock for order %s: %w", orderID, err)
	}

	for _, entry := range restockOrder(items) {
		var query string
		var subjectID uuid.UUID
		switch subject := entry.subject.(type) {
		case catalog.PackSubject:
			query, subjectID = `UPDATE cart_service.packs SET stock_quantity = stock_quantity + $1, updated_at = NOW() WHERE id = $2`, subject.PackID
		case catalog.ProductSubject:
			if subject.VariantID.Valid {
				query, subjectID = `UPDATE cart_service.weight_variants SET stock_quantity = stock_quantity + $1, updated_at = NOW() WHERE id = $2`, subject.VariantID.UUID
			} else {
				query, subjectID = `UPDATE cart_service.products SET stock_quantity = stock_quantity + $1, updated_at = NOW() WHERE id = $2`, subject.ProductID
			}
		}

		cmdTag, err := tx.Exec(ctx, query, entry.quantity, subjectID)
		if err != nil {
			return fmt.Errorf("repository: failed to restock %s for order %s: %w", subjectID, orderID, err)
		}
		if cmdTag.RowsAffected() == 0 {
			log.Warn().Stringer("order_id", orderID).Stringer("subject_id", subjectID).Msg("repository: restock skipped, subject no longer exists")
		}
	}

	return nil
}

type restockEntry struct {
	subject  catalog.Subject
	quantity int
}

// restockOrder returns the items to restock sorted by subject key, the order checkout takes stock in.
func restockOrder(items []Item) []restockEntry {
	entries := make([]restockEntry, 0, len(items))
	for _, item := range items {
		subject, err := catalog.NewSubject(item.ProductID, item.VariantID, item.PackID)
		if err != nil {
			log.Warn().Stringer("item_id", item.ID).Msg("repository: order item has no subject, not restocked")
			continue
		}
		entries = append(entries, restockEntry{subject: subject, quantity: item.Quantity})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].subject.Key() < entries[j].subject.Key()
	})
	return entries
}
