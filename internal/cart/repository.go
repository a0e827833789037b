package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/db"
)

var ErrLineNotFound = errors.New("cart line not found")

type Repository interface {
	// FindBySubject returns ErrLineNotFound when the owner has no line for the subject.
	FindBySubject(ctx context.Context, ownerKey string, subject catalog.Subject) (*Line, error)
	// Add inserts the line, or increments the quantity of the owner's existing line for the
	// same subject. The existing unit price is kept on increment.
	Add(ctx context.Context, line *Line) (*Line, error)
	// Update locks the owner's line, applies mutate and persists the result. Returns
	// ErrLineNotFound when no such line belongs to the owner.
	Update(ctx context.Context, ownerKey string, id uuid.UUID, mutate func(*Line) error) (*Line, error)
	Delete(ctx context.Context, ownerKey string, id uuid.UUID) error
	Clear(ctx context.Context, ownerKey string) (int64, error)
	ListByOwner(ctx context.Context, ownerKey string) ([]Line, error)
	// Reassign moves every line of fromKey into toKey, merging quantities per subject.
	Reassign(ctx context.Context, fromKey, toKey string) (int, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const lineColumns = `id, owner_key, product_id, variant_id, pack_id, quantity, unit_price, line_total, version, created_at, updated_at`

func scanLine(row pgx.Row) (*Line, error) {
	var line Line
	var productID, variantID, packID uuid.NullUUID
	err := row.Scan(
		&line.ID,
		&line.OwnerKey,
		&productID,
		&variantID,
		&packID,
		&line.Quantity,
		&line.UnitPrice,
		&line.LineTotal,
		&line.Version,
		&line.CreatedAt,
		&line.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	subject, err := catalog.NewSubject(productID, variantID, packID)
	if err != nil {
		return nil, fmt.Errorf("repository: corrupt cart line %s: %w", line.ID, err)
	}
	line.Subject = subject

	return &line, nil
}

func (r *postgresRepository) FindBySubject(ctx context.Context, ownerKey string, subject catalog.Subject) (*Line, error) {
	query := `SELECT ` + lineColumns + `
		FROM cart_service.cart_lines
		WHERE owner_key = $1 AND subject_key = $2
	`

	line, err := scanLine(r.db.QueryRow(ctx, query, ownerKey, subject.Key()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLineNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart line for subject %s: %w", subject.Key(), err)
	}

	return line, nil
}

func (r *postgresRepository) Add(ctx context.Context, line *Line) (*Line, error) {
	return addLine(ctx, r.db, line)
}

func addLine(ctx context.Context, q db.Querier, line *Line) (*Line, error) {
	id := line.ID
	if id == uuid.Nil {
		genID, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("repository: failed to generate cart line ID: %w", err)
		}
		id = genID
	}

	productID, variantID, packID := catalog.Columns(line.Subject)
	now := time.Now().UTC()

	query := `
		INSERT INTO cart_service.cart_lines
			(id, owner_key, subject_key, product_id, variant_id, pack_id, quantity, unit_price, line_total, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10)
		ON CONFLICT (owner_key, subject_key) DO UPDATE
		SET quantity   = cart_lines.quantity + EXCLUDED.quantity,
		    line_total = ROUND(cart_lines.unit_price * (cart_lines.quantity + EXCLUDED.quantity), 2),
		    version    = cart_lines.version + 1,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + lineColumns

	saved, err := scanLine(q.QueryRow(ctx, query,
		id,
		line.OwnerKey,
		line.Subject.Key(),
		productID,
		variantID,
		packID,
		line.Quantity,
		line.UnitPrice,
		line.LineTotal,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to upsert cart line for subject %s: %w", line.Subject.Key(), err)
	}

	return saved, nil
}

func (r *postgresRepository) Update(ctx context.Context, ownerKey string, id uuid.UUID, mutate func(*Line) error) (*Line, error) {
	var updated *Line

	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		lockQuery := `SELECT ` + lineColumns + `
			FROM cart_service.cart_lines
			WHERE id = $1 AND owner_key = $2
			FOR UPDATE
		`
		line, err := scanLine(tx.QueryRow(ctx, lockQuery, id, ownerKey))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLineNotFound
			}
			return fmt.Errorf("repository: failed to lock cart line %s: %w", id, err)
		}

		if err := mutate(line); err != nil {
			return err
		}

		updateQuery := `
			UPDATE cart_service.cart_lines
			SET quantity = $1, line_total = $2, version = version + 1, updated_at = $3
			WHERE id = $4
			RETURNING ` + lineColumns

		updated, err = scanLine(tx.QueryRow(ctx, updateQuery, line.Quantity, line.LineTotal, time.Now().UTC(), id))
		if err != nil {
			return fmt.Errorf("repository: failed to update cart line %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *postgresRepository) Delete(ctx context.Context, ownerKey string, id uuid.UUID) error {
	query := `DELETE FROM cart_service.cart_lines WHERE id = $1 AND owner_key = $2`

	cmdTag, err := r.db.Exec(ctx, query, id, ownerKey)
	if err != nil {
		return fmt.Errorf("repository: failed to delete cart line %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrLineNotFound
	}

	return nil
}

func (r *postgresRepository) Clear(ctx context.Context, ownerKey string) (int64, error) {
	return ClearOwner(ctx, r.db, ownerKey)
}

func (r *postgresRepository) ListByOwner(ctx context.Context, ownerKey string) ([]Line, error) {
	return listLines(ctx, r.db, ownerKey, false)
}

// listLines returns the owner's lines oldest first, optionally locking them.
func listLines(ctx context.Context, q db.Querier, ownerKey string, forUpdate bool) ([]Line, error) {
	query := `SELECT ` + lineColumns + `
		FROM cart_service.cart_lines
		WHERE owner_key = $1
		ORDER BY created_at, id
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, query, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]Line, 0)
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart line: %w", err)
		}
		lines = append(lines, *line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating cart lines: %w", err)
	}

	return lines, nil
}

func (r *postgresRepository) Reassign(ctx context.Context, fromKey, toKey string) (int, error) {
	moved := 0

	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		lines, err := listLines(ctx, tx, fromKey, true)
		if err != nil {
			return err
		}

		for i := range lines {
			line := lines[i]
			line.ID = uuid.Nil
			line.OwnerKey = toKey
			if _, err := addLine(ctx, tx, &line); err != nil {
				return err
			}
		}

		if _, err := ClearOwner(ctx, tx, fromKey); err != nil {
			return err
		}
		moved = len(lines)
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Int("lines", moved).Msg("repository: cart lines reassigned")
	return moved, nil
}

// LockByOwner returns the owner's lines locked FOR UPDATE. q must be a transaction.
func LockByOwner(ctx context.Context, q db.Querier, ownerKey string) ([]Line, error) {
	return listLines(ctx, q, ownerKey, true)
}

// ClearOwner deletes every line of the owner through q.
func ClearOwner(ctx context.Context, q db.Querier, ownerKey string) (int64, error) {
	cmdTag, err := q.Exec(ctx, `DELETE FROM cart_service.cart_lines WHERE owner_key = $1`, ownerKey)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to clear cart: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
