package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/owner"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/pricing"
)

var (
	// ErrNotOwner covers lines that belong to someone else and lines that do not exist, so
	// callers cannot probe for other owners' lines.
	ErrNotOwner           = errors.New("cart line does not belong to the current owner")
	ErrInvalidQuantity    = errors.New("quantity must be between 1 and 999")
	ErrOutOfStock         = errors.New("requested quantity exceeds available stock")
	ErrSubjectNotFound    = errors.New("product or pack not found")
	ErrSubjectUnavailable = errors.New("product or pack is not available")
)

// MaxQuantity caps the quantity of a single cart line.
const MaxQuantity = 999

// maxLineTotal is the largest amount a NUMERIC(12, 2) line total can hold.
var maxLineTotal = decimal.RequireFromString("9999999999.99")

func validQuantity(quantity int) bool {
	return quantity >= 1 && quantity <= MaxQuantity
}

// Catalog resolves subjects to their current price and stock.
type Catalog interface {
	Resolve(ctx context.Context, subject catalog.Subject) (*catalog.Item, error)
}

type Service interface {
	AddItem(ctx context.Context, o owner.Owner, subject catalog.Subject, quantity int) (*Line, error)
	UpdateQuantity(ctx context.Context, o owner.Owner, lineID uuid.UUID, quantity int) (*Line, error)
	RemoveItem(ctx context.Context, o owner.Owner, lineID uuid.UUID) error
	Clear(ctx context.Context, o owner.Owner) error
	ListItems(ctx context.Context, o owner.Owner) ([]Line, error)
	Summarize(ctx context.Context, o owner.Owner) (*Summary, error)
	Claim(ctx context.Context, from owner.AnonymousSession, to owner.User) (int, error)
}

type service struct {
	repo    Repository
	catalog Catalog
}

func NewService(repo Repository, catalog Catalog) Service {
	return &service{repo: repo, catalog: catalog}
}

func (s *service) AddItem(ctx context.Context, o owner.Owner, subject catalog.Subject, quantity int) (*Line, error) {
	if !validQuantity(quantity) {
		return nil, ErrInvalidQuantity
	}

	item, err := s.catalog.Resolve(ctx, subject)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			log.Warn().Str("subject", subject.Key()).Msg("service: add to cart for unknown subject")
			return nil, ErrSubjectNotFound
		}
		log.Error().Err(err).Str("subject", subject.Key()).Msg("service: failed to resolve subject")
		return nil, fmt.Errorf("service: failed to resolve subject: %w", err)
	}
	if !item.IsAvailable {
		return nil, ErrSubjectUnavailable
	}

	inCart := 0
	existing, err := s.repo.FindBySubject(ctx, o.Key(), subject)
	switch {
	case err == nil:
		inCart = existing.Quantity
	case !errors.Is(err, ErrLineNotFound):
		log.Error().Err(err).Str("owner", o.Key()).Msg("service: failed to look up existing cart line")
		return nil, fmt.Errorf("service: failed to look up existing cart line: %w", err)
	}

	unitPrice := pricing.EffectivePriceOf(item)
	linePrice := unitPrice
	if existing != nil {
		linePrice = existing.UnitPrice
	}
	if !validQuantity(inCart+quantity) || pricing.LineTotal(linePrice, inCart+quantity).GreaterThan(maxLineTotal) {
		log.Warn().Str("subject", subject.Key()).Int("requested", inCart+quantity).Msg("service: cart line quantity over limit")
		return nil, ErrInvalidQuantity
	}

	// Advisory only: checkout re-validates stock under lock.
	if inCart+quantity > item.StockQuantity {
		log.Warn().
			Str("subject", subject.Key()).
			Int("requested", inCart+quantity).
			Int("stock", item.StockQuantity).
			Msg("service: add to cart exceeds stock")
		return nil, ErrOutOfStock
	}

	line, err := s.repo.Add(ctx, &Line{
		OwnerKey:  o.Key(),
		Subject:   subject,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		LineTotal: pricing.LineTotal(unitPrice, quantity),
	})
	if err != nil {
		log.Error().Err(err).Str("owner", o.Key()).Msg("service: failed to add cart line")
		return nil, fmt.Errorf("service: failed to add cart line: %w", err)
	}

	log.Info().Stringer("line_id", line.ID).Str("subject", subject.Key()).Int("quantity", line.Quantity).Msg("service: cart line added")
	return line, nil
}

func (s *service) UpdateQuantity(ctx context.Context, o owner.Owner, lineID uuid.UUID, quantity int) (*Line, error) {
	if !validQuantity(quantity) {
		return nil, ErrInvalidQuantity
	}

	line, err := s.repo.Update(ctx, o.Key(), lineID, func(l *Line) error {
		total := pricing.LineTotal(l.UnitPrice, quantity)
		if total.GreaterThan(maxLineTotal) {
			return ErrInvalidQuantity
		}
		l.Quantity = quantity
		l.LineTotal = total
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidQuantity) {
			return nil, ErrInvalidQuantity
		}
		if errors.Is(err, ErrLineNotFound) {
			log.Warn().Stringer("line_id", lineID).Str("owner", o.Key()).Msg("service: update of foreign or missing cart line")
			return nil, ErrNotOwner
		}
		log.Error().Err(err).Stringer("line_id", lineID).Msg("service: failed to update cart line")
		return nil, fmt.Errorf("service: failed to update cart line: %w", err)
	}

	return line, nil
}

func (s *service) RemoveItem(ctx context.Context, o owner.Owner, lineID uuid.UUID) error {
	if err := s.repo.Delete(ctx, o.Key(), lineID); err != nil {
		if errors.Is(err, ErrLineNotFound) {
			log.Warn().Stringer("line_id", lineID).Str("owner", o.Key()).Msg("service: removal of foreign or missing cart line")
			return ErrNotOwner
		}
		log.Error().Err(err).Stringer("line_id", lineID).Msg("service: failed to remove cart line")
		return fmt.Errorf("service: failed to remove cart line: %w", err)
	}
	return nil
}

func (s *service) Clear(ctx context.Context, o owner.Owner) error {
	removed, err := s.repo.Clear(ctx, o.Key())
	if err != nil {
		log.Error().Err(err).Str("owner", o.Key()).Msg("service: failed to clear cart")
		return fmt.Errorf("service: failed to clear cart: %w", err)
	}
	log.Info().Str("owner", o.Key()).Int64("lines", removed).Msg("service: cart cleared")
	return nil
}

func (s *service) ListItems(ctx context.Context, o owner.Owner) ([]Line, error) {
	lines, err := s.repo.ListByOwner(ctx, o.Key())
	if err != nil {
		log.Error().Err(err).Str("owner", o.Key()).Msg("service: failed to list cart lines")
		return nil, fmt.Errorf("service: failed to list cart lines: %w", err)
	}
	return lines, nil
}

func (s *service) Summarize(ctx context.Context, o owner.Owner) (*Summary, error) {
	lines, err := s.ListItems(ctx, o)
	if err != nil {
		return nil, err
	}
	return Summarize(lines), nil
}

// Summarize totals already-rounded line totals and sums quantities.
func Summarize(lines []Line) *Summary {
	totals := make([]decimal.Decimal, 0, len(lines))
	count := 0
	for _, l := range lines {
		totals = append(totals, l.LineTotal)
		count += l.Quantity
	}
	return &Summary{
		Lines:      lines,
		Subtotal:   pricing.Subtotal(totals...),
		ItemsCount: count,
	}
}

func (s *service) Claim(ctx context.Context, from owner.AnonymousSession, to owner.User) (int, error) {
	moved, err := s.repo.Reassign(ctx, from.Key(), to.Key())
	if err != nil {
		log.Error().Err(err).Stringer("user_id", to.ID).Msg("service: failed to claim session cart")
		return 0, fmt.Errorf("service: failed to claim session cart: %w", err)
	}
	log.Info().Stringer("user_id", to.ID).Int("lines", moved).Msg("service: session cart claimed")
	return moved, nil
}
