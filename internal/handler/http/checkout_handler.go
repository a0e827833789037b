package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/order"
)

type CheckoutRequest struct {
	FullName   string `json:"full_name" validate:"required,min=2,max=200"`
	Phone      string `json:"phone" validate:"required,min=6,max=32"`
	Address    string `json:"address" validate:"required,max=500"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Notes      string `json:"notes" validate:"max=1000"`
}

type CheckoutHandler struct {
	service  checkout.Service
	validate *validator.Validate
}

func NewCheckoutHandler(service checkout.Service) *CheckoutHandler {
	return &CheckoutHandler{
		service:  service,
		validate: newValidator(),
	}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Post("/checkout", h.handleCheckout)
}

func (h *CheckoutHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	o, ok := requestOwner(w, r)
	if !ok {
		return
	}

	var req CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	placed, err := h.service.Checkout(r.Context(), o, order.DeliveryDetails{
		FullName:   req.FullName,
		Phone:      req.Phone,
		Address:    req.Address,
		City:       req.City,
		PostalCode: req.PostalCode,
		Notes:      req.Notes,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to place order")
		return
	}

	respondWithJSON(w, http.StatusCreated, placed)
}
