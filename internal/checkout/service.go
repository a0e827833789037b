package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/delivery"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/owner"
)

var (
	ErrEmptyCart               = errors.New("cart is empty")
	ErrInsufficientStock       = errors.New("insufficient stock for one or more cart lines")
	ErrOrderReferenceCollision = errors.New("could not allocate a unique order reference, retry later")
)

// InsufficientStockError lists the cart lines whose stock could not be taken.
type InsufficientStockError struct {
	Lines []uuid.UUID
}

func (e *InsufficientStockError) Error() string {
	ids := make([]string, 0, len(e.Lines))
	for _, id := range e.Lines {
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock, strings.Join(ids, ", "))
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StockInvalidator drops cached stock figures once a checkout has changed them.
type StockInvalidator interface {
	Invalidate(ctx context.Context, subjects ...catalog.Subject)
}

type Service interface {
	Checkout(ctx context.Context, o owner.Owner, details order.DeliveryDetails) (*order.Order, error)
}

type Option func(*service)

// WithInvalidator evicts taken subjects from a catalog cache after commit.
func WithInvalidator(inv StockInvalidator) Option {
	return func(s *service) { s.invalidator = inv }
}

// WithClock overrides the time source used for reference years.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

type service struct {
	store           Store
	publisher       events.Publisher
	invalidator     StockInvalidator
	referencePrefix string
	maxAttempts     int
	now             func() time.Time
}

func NewService(store Store, publisher events.Publisher, referencePrefix string, maxAttempts int, opts ...Option) Service {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	s := &service{
		store:           store,
		publisher:       publisher,
		referencePrefix: referencePrefix,
		maxAttempts:     maxAttempts,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Checkout(ctx context.Context, o owner.Owner, details order.DeliveryDetails) (*order.Order, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		placed, err := s.attempt(ctx, o, details, attempt > 1)
		if err == nil {
			s.afterCommit(ctx, placed)
			return placed, nil
		}

		if !db.IsUniqueViolation(err, order.ReferenceConstraint) {
			return nil, err
		}
		log.Warn().Int("attempt", attempt).Str("owner", o.Key()).Msg("service: order reference collision, retrying checkout")
	}

	log.Error().Str("owner", o.Key()).Int("attempts", s.maxAttempts).Msg("service: order reference collisions exhausted retries")
	return nil, ErrOrderReferenceCollision
}

func (s *service) attempt(ctx context.Context, o owner.Owner, details order.DeliveryDetails, resync bool) (*order.Order, error) {
	var placed *order.Order

	err := s.store.InTx(ctx, func(tx Tx) error {
		lines, err := tx.LockCart(ctx, o.Key())
		if err != nil {
			return fmt.Errorf("service: failed to lock cart: %w", err)
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		// Take stock in a stable order so concurrent checkouts lock catalog rows alike.
		sort.Slice(lines, func(i, j int) bool {
			return lines[i].Subject.Key() < lines[j].Subject.Key()
		})

		items := make([]order.Item, 0, len(lines))
		var failed []uuid.UUID
		for _, line := range lines {
			snap, ok, err := tx.TakeStock(ctx, line.Subject, line.Quantity)
			if err != nil {
				return fmt.Errorf("service: failed to take stock for line %s: %w", line.ID, err)
			}
			if !ok {
				failed = append(failed, line.ID)
				continue
			}

			productID, variantID, packID := catalog.Columns(line.Subject)
			items = append(items, order.Item{
				ProductID:    productID,
				VariantID:    variantID,
				PackID:       packID,
				Name:         snap.Name,
				VariantLabel: snap.VariantLabel,
				UnitPrice:    line.UnitPrice,
				Quantity:     line.Quantity,
				LineTotal:    line.LineTotal,
			})
		}
		if len(failed) > 0 {
			log.Warn().Str("owner", o.Key()).Int("failed_lines", len(failed)).Msg("service: checkout aborted, insufficient stock")
			return &InsufficientStockError{Lines: failed}
		}

		subtotal := cart.Summarize(lines).Subtotal
		feeConfig, err := tx.ActiveDeliveryFee(ctx)
		if err != nil {
			return fmt.Errorf("service: failed to load delivery fee: %w", err)
		}
		quote := delivery.Calculate(feeConfig, subtotal)

		year := s.now().UTC().Year()
		if resync {
			if err := tx.SyncReferenceCounter(ctx, s.referencePrefix, year); err != nil {
				return err
			}
		}
		seq, err := tx.NextReference(ctx, year)
		if err != nil {
			return err
		}

		userID, isUser := owner.UserID(o)
		placed = &order.Order{
			OwnerKey:      o.Key(),
			UserID:        uuid.NullUUID{UUID: userID, Valid: isUser},
			Reference:     order.FormatReference(s.referencePrefix, year, seq),
			Status:        order.StatusPending,
			Items:         items,
			Subtotal:      subtotal,
			DeliveryFeeID: quote.ConfigID,
			DeliveryFee:   quote.Fee,
			Total:         subtotal.Add(quote.Fee),
			Delivery:      details,
		}
		if err := tx.InsertOrder(ctx, placed); err != nil {
			return err
		}

		if err := tx.ClearCart(ctx, o.Key()); err != nil {
			return fmt.Errorf("service: failed to clear cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Stringer("order_id", placed.ID).
		Str("reference", placed.Reference).
		Str("total", placed.Total.StringFixed(2)).
		Msg("service: order placed")
	return placed, nil
}

// afterCommit runs best-effort side effects. Failures are logged and never undo the order.
func (s *service) afterCommit(ctx context.Context, placed *order.Order) {
	if s.invalidator != nil {
		subjects := make([]catalog.Subject, 0, len(placed.Items))
		for _, item := range placed.Items {
			subject, err := catalog.NewSubject(item.ProductID, item.VariantID, item.PackID)
			if err == nil {
				subjects = append(subjects, subject)
			}
		}
		s.invalidator.Invalidate(ctx, subjects...)
	}

	if err := s.publisher.PublishOrderPlaced(ctx, events.NewOrderPlaced(placed)); err != nil {
		log.Error().Err(err).Stringer("order_id", placed.ID).Msg("service: failed to publish order placed event")
	}
}
