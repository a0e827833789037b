package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("delivery fee amount and threshold must be non-negative")

type Service interface {
	Quote(ctx context.Context, subtotal decimal.Decimal) (*Quote, error)
	Create(ctx context.Context, cfg *FeeConfig) (*FeeConfig, error)
	List(ctx context.Context) ([]FeeConfig, error)
	Activate(ctx context.Context, id uuid.UUID) (*FeeConfig, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Quote(ctx context.Context, subtotal decimal.Decimal) (*Quote, error) {
	cfg, err := s.repo.GetActive(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoActiveConfig) {
			log.Error().Err(err).Msg("service: failed to load active delivery fee config")
			return nil, fmt.Errorf("service: failed to load active delivery fee config: %w", err)
		}
		cfg = nil
	}

	quote := Calculate(cfg, subtotal)
	return &quote, nil
}

func (s *service) Create(ctx context.Context, cfg *FeeConfig) (*FeeConfig, error) {
	if cfg.Amount.IsNegative() || (cfg.FreeShippingThreshold.Valid && cfg.FreeShippingThreshold.Decimal.IsNegative()) {
		return nil, ErrInvalidConfig
	}

	created, err := s.repo.Create(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("name", cfg.Name).Msg("service: failed to create delivery fee config")
		return nil, fmt.Errorf("service: failed to create delivery fee config: %w", err)
	}

	log.Info().Stringer("config_id", created.ID).Bool("active", created.IsActive).Msg("service: delivery fee config created")
	return created, nil
}

func (s *service) List(ctx context.Context) ([]FeeConfig, error) {
	configs, err := s.repo.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list delivery fee configs")
		return nil, fmt.Errorf("service: failed to list delivery fee configs: %w", err)
	}
	return configs, nil
}

func (s *service) Activate(ctx context.Context, id uuid.UUID) (*FeeConfig, error) {
	cfg, err := s.repo.Activate(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn().Stringer("config_id", id).Msg("service: delivery fee config not found for activation")
			return nil, ErrNotFound
		}
		if errors.Is(err, ErrActivationConflict) {
			log.Warn().Stringer("config_id", id).Msg("service: delivery fee activation lost a race")
			return nil, ErrActivationConflict
		}
		log.Error().Err(err).Stringer("config_id", id).Msg("service: failed to activate delivery fee config")
		return nil, fmt.Errorf("service: failed to activate delivery fee config: %w", err)
	}

	log.Info().Stringer("config_id", id).Msg("service: delivery fee config activated")
	return cfg, nil
}
