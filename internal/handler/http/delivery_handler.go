package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/delivery"
)

type CreateDeliveryFeeRequest struct {
	Name                  string              `json:"name" validate:"required,max=100"`
	Amount                decimal.Decimal     `json:"amount"`
	FreeShippingThreshold decimal.NullDecimal `json:"free_shipping_threshold"`
	IsActive              bool                `json:"is_active"`
}

type DeliveryHandler struct {
	service  delivery.Service
	validate *validator.Validate
}

func NewDeliveryHandler(service delivery.Service) *DeliveryHandler {
	return &DeliveryHandler{
		service:  service,
		validate: newValidator(),
	}
}

func (h *DeliveryHandler) RegisterRoutes(router chi.Router) {
	router.Get("/delivery-fee/quote", h.handleQuote)
}

// RegisterAdminRoutes mounts delivery fee administration.
func (h *DeliveryHandler) RegisterAdminRoutes(router chi.Router) {
	router.Route("/delivery-fees", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Post("/{id}/activate", h.handleActivate)
	})
}

func (h *DeliveryHandler) handleQuote(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("subtotal")
	subtotal, err := decimal.NewFromString(raw)
	if err != nil || subtotal.IsNegative() {
		log.Warn().Str("subtotal", raw).Msg("Invalid subtotal for delivery quote")
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:   "Validation failed",
			Details: map[string]string{"subtotal": "must be a non-negative decimal"},
		})
		return
	}

	quote, err := h.service.Quote(r.Context(), subtotal)
	if err != nil {
		respondWithServiceError(w, err, "Failed to quote delivery fee")
		return
	}

	respondWithJSON(w, http.StatusOK, quote)
}

func (h *DeliveryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.List(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "Failed to list delivery fees")
		return
	}
	if configs == nil {
		configs = []delivery.FeeConfig{}
	}

	respondWithJSON(w, http.StatusOK, configs)
}

func (h *DeliveryHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateDeliveryFeeRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), &delivery.FeeConfig{
		Name:                  req.Name,
		Amount:                req.Amount,
		FreeShippingThreshold: req.FreeShippingThreshold,
		IsActive:              req.IsActive,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to create delivery fee")
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *DeliveryHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	configID, ok := parseIDParam(w, r, "delivery fee")
	if !ok {
		return
	}

	activated, err := h.service.Activate(r.Context(), configID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to activate delivery fee")
		return
	}

	respondWithJSON(w, http.StatusOK, activated)
}
