package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/order"
)

type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: newValidator(),
	}
}

// RegisterRoutes mounts the shopper-facing order routes.
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Route("/orders", func(r chi.Router) {
		r.Get("/", h.handleListOrders)
		r.Get("/{id}", h.handleGetOrder)
	})
}

// RegisterAdminRoutes mounts back-office order routes. Callers are expected to mount them
// behind the admin gateway.
func (h *OrderHandler) RegisterAdminRoutes(router chi.Router) {
	router.Patch("/orders/{id}/status", h.handleUpdateStatus)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	o, ok := requestOwner(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), o)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := requestOwner(w, r)
	if !ok {
		return
	}

	orderID, ok := parseIDParam(w, r, "order")
	if !ok {
		return
	}

	found, err := h.service.GetOrder(r.Context(), o, orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, r, "order")
	if !ok {
		return
	}

	var req UpdateOrderStatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := h.service.UpdateStatus(r.Context(), orderID, order.Status(req.Status))
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}

	log.Info().Stringer("order_id", orderID).Str("status", req.Status).Msg("handler: order status updated")
	respondWithJSON(w, http.StatusOK, updated)
}
