// Package events publishes domain events about placed orders to downstream consumers such as
// invoice and notification workers.
package events

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/order"
)

const OrderPlacedType = "order.placed"

type OrderPlacedItem struct {
	Name         string          `json:"name"`
	VariantLabel string          `json:"variant_label,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

type OrderPlaced struct {
	Type        string                `json:"type"`
	OrderID     uuid.UUID             `json:"order_id"`
	Reference   string                `json:"reference"`
	UserID      uuid.NullUUID         `json:"user_id"`
	Items       []OrderPlacedItem     `json:"items"`
	Subtotal    decimal.Decimal       `json:"subtotal"`
	DeliveryFee decimal.Decimal       `json:"delivery_fee"`
	Total       decimal.Decimal       `json:"total"`
	Delivery    order.DeliveryDetails `json:"delivery"`
	PlacedAt    time.Time             `json:"placed_at"`
}

// NewOrderPlaced builds the event for a freshly committed order.
func NewOrderPlaced(o *order.Order) OrderPlaced {
	items := make([]OrderPlacedItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderPlacedItem{
			Name:         item.Name,
			VariantLabel: item.VariantLabel,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineTotal:    item.LineTotal,
		})
	}

	return OrderPlaced{
		Type:        OrderPlacedType,
		OrderID:     o.ID,
		Reference:   o.Reference,
		UserID:      o.UserID,
		Items:       items,
		Subtotal:    o.Subtotal,
		DeliveryFee: o.DeliveryFee,
		Total:       o.Total,
		Delivery:    o.Delivery,
		PlacedAt:    o.CreatedAt,
	}
}

// Publisher delivers events after the originating transaction has committed.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, event OrderPlaced) error
	Close() error
}

// NoopPublisher drops every event. It is used when no Kafka brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderPlaced(context.Context, OrderPlaced) error { return nil }
func (NoopPublisher) Close() error                                         { return nil }
