package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/db"
)

var (
	ErrNotFound = errors.New("delivery fee config not found")
	// ErrNoActiveConfig is returned by ActiveConfig. Callers treat it as "no fee".
	ErrNoActiveConfig = errors.New("no active delivery fee config")
	// ErrActivationConflict means another transaction activated a config first.
	ErrActivationConflict = errors.New("another delivery fee activation is in progress")
)

const activeIndex = "delivery_fee_configs_single_active_idx"

// activationLockKey is the transaction-scoped advisory lock serializing activations.
const activationLockKey int64 = 0x64656c6976657279

type Repository interface {
	GetActive(ctx context.Context) (*FeeConfig, error)
	Create(ctx context.Context, cfg *FeeConfig) (*FeeConfig, error)
	List(ctx context.Context) ([]FeeConfig, error)
	// Activate deactivates every other config and activates id in one transaction.
	Activate(ctx context.Context, id uuid.UUID) (*FeeConfig, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const configColumns = `id, name, amount, free_shipping_threshold, is_active, created_at, updated_at`

func scanConfig(row pgx.Row) (*FeeConfig, error) {
	var cfg FeeConfig
	err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.Amount,
		&cfg.FreeShippingThreshold,
		&cfg.IsActive,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ActiveConfig reads the active config through q, which may be a pool or a transaction.
func ActiveConfig(ctx context.Context, q db.Querier) (*FeeConfig, error) {
	query := `SELECT ` + configColumns + ` FROM cart_service.delivery_fee_configs WHERE is_active`

	cfg, err := scanConfig(q.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveConfig
		}
		return nil, fmt.Errorf("repository: failed to select active delivery fee config: %w", err)
	}
	return cfg, nil
}

func (r *postgresRepository) GetActive(ctx context.Context) (*FeeConfig, error) {
	return ActiveConfig(ctx, r.db)
}

func (r *postgresRepository) Create(ctx context.Context, cfg *FeeConfig) (*FeeConfig, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to generate delivery fee config ID: %w", err)
	}

	var created *FeeConfig
	err = db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if cfg.IsActive {
			if err := lockActivation(ctx, tx); err != nil {
				return err
			}
			if err := deactivateAll(ctx, tx); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		query := `
			INSERT INTO cart_service.delivery_fee_configs (id, name, amount, free_shipping_threshold, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			RETURNING ` + configColumns

		var err error
		created, err = scanConfig(tx.QueryRow(ctx, query, id, cfg.Name, cfg.Amount, cfg.FreeShippingThreshold, cfg.IsActive, now))
		if err != nil {
			return fmt.Errorf("repository: failed to insert delivery fee config: %w", err)
		}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, activeIndex) {
			return nil, ErrActivationConflict
		}
		return nil, err
	}

	return created, nil
}

func (r *postgresRepository) List(ctx context.Context) ([]FeeConfig, error) {
	query := `SELECT ` + configColumns + ` FROM cart_service.delivery_fee_configs ORDER BY created_at DESC, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query delivery fee configs: %w", err)
	}
	defer rows.Close()

	configs := make([]FeeConfig, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan delivery fee config: %w", err)
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating delivery fee configs: %w", err)
	}

	return configs, nil
}

func (r *postgresRepository) Activate(ctx context.Context, id uuid.UUID) (*FeeConfig, error) {
	var activated *FeeConfig

	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockActivation(ctx, tx); err != nil {
			return err
		}
		if err := deactivateAll(ctx, tx); err != nil {
			return err
		}

		query := `
			UPDATE cart_service.delivery_fee_configs
			SET is_active = TRUE, updated_at = $1
			WHERE id = $2
			RETURNING ` + configColumns

		var err error
		activated, err = scanConfig(tx.QueryRow(ctx, query, time.Now().UTC(), id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("repository: failed to activate delivery fee config %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, activeIndex) {
			log.Warn().Stringer("config_id", id).Msg("repository: concurrent delivery fee activation")
			return nil, ErrActivationConflict
		}
		return nil, err
	}

	return activated, nil
}

func lockActivation(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, activationLockKey); err != nil {
		return fmt.Errorf("repository: failed to lock delivery fee activation: %w", err)
	}
	return nil
}

func deactivateAll(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		UPDATE cart_service.delivery_fee_configs
		SET is_active = FALSE, updated_at = $1
		WHERE is_active
	`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to deactivate delivery fee configs: %w", err)
	}
	return nil
}
