package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/owner"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var (
	ErrInvalidStatus           = errors.New("unknown order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
)

// CanTransition reports whether an order in status from may move to status to.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

type Service interface {
	GetOrder(ctx context.Context, o owner.Owner, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, o owner.Owner) ([]Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status) (*Order, error)
}

type service struct {
	orderRepo Repository
}

func NewService(orderRepo Repository) Service {
	return &service{orderRepo: orderRepo}
}

func (s *service) GetOrder(ctx context.Context, o owner.Owner, id uuid.UUID) (*Order, error) {
	ord, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	if ord.OwnerKey != o.Key() {
		log.Warn().Stringer("order_id", id).Str("owner", o.Key()).Msg("service: order requested by another owner")
		return nil, ErrOrderNotFound
	}

	return ord, nil
}

func (s *service) ListOrders(ctx context.Context, o owner.Owner) ([]Order, error) {
	orders, err := s.orderRepo.ListByOwner(ctx, o.Key())
	if err != nil {
		log.Error().Err(err).Str("owner", o.Key()).Msg("service: failed to fetch owner orders")
		return nil, fmt.Errorf("service: failed to fetch owner orders: %w", err)
	}
	return orders, nil
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status) (*Order, error) {
	if !newStatus.Valid() {
		return nil, ErrInvalidStatus
	}

	current, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Stringer("new_status", newStatus).Msg("service: order not found, cannot update status")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to get order for status update")
		return nil, fmt.Errorf("service: failed to get order for status update: %w", err)
	}

	if current.Status == newStatus {
		log.Info().Stringer("order_id", id).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
		return current, nil
	}

	if !CanTransition(current.Status, newStatus) {
		log.Warn().
			Stringer("order_id", id).
			Stringer("current_status", current.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, current.Status, newStatus)
	}

	err = s.orderRepo.UpdateStatus(ctx, id, current.Status, newStatus)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			return nil, ErrOrderNotFound
		case errors.Is(err, ErrStatusChanged):
			log.Warn().Stringer("order_id", id).Stringer("new_status", newStatus).Msg("service: order status changed during update")
			return nil, fmt.Errorf("%w: order %s changed concurrently", ErrInvalidStatusTransition, id)
		}
		log.Error().Err(err).Stringer("order_id", id).Stringer("new_status", newStatus).Msg("service: failed to update order status")
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().Stringer("order_id", id).Stringer("old_status", current.Status).Stringer("new_status", newStatus).Msg("service: order status updated successfully")

	current.Status = newStatus
	return current, nil
}
