package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/delivery"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/owner"
)

// SessionStore reads and expires the anonymous session cookie.
type SessionStore interface {
	SessionToken(r *http.Request) (uuid.UUID, bool)
	ExpireSession(w http.ResponseWriter)
}

type AddItemRequest struct {
	ProductID *uuid.UUID `json:"product_id" validate:"required_without=PackID,excluded_with=PackID"`
	VariantID *uuid.UUID `json:"variant_id" validate:"excluded_with=PackID"`
	PackID    *uuid.UUID `json:"pack_id" validate:"required_without=ProductID"`
	Quantity  int        `json:"quantity" validate:"gte=1,lte=999"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=1,lte=999"`
}

type CartLineResponse struct {
	ID        uuid.UUID       `json:"id"`
	ProductID *uuid.UUID      `json:"product_id,omitempty"`
	VariantID *uuid.UUID      `json:"variant_id,omitempty"`
	PackID    *uuid.UUID      `json:"pack_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type CartResponse struct {
	Lines      []CartLineResponse `json:"lines"`
	ItemsCount int                `json:"items_count"`
	Subtotal   decimal.Decimal    `json:"subtotal"`
	Delivery   delivery.Quote     `json:"delivery"`
	Total      decimal.Decimal    `json:"total"`
}

type ClaimResponse struct {
	Claimed int `json:"claimed"`
}

type CartHandler struct {
	carts    cart.Service
	fees     delivery.Service
	sessions SessionStore
	validate *validator.Validate
}

func NewCartHandler(carts cart.Service, fees delivery.Service, sessions SessionStore) *CartHandler {
	return &CartHandler{
		carts:    carts,
		fees:     fees,
		sessions: sessions,
		validate: newValidator(),
	}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Route("/cart", func(r chi.Router) {
		r.Get("/", h.handleGetCart)
		r.Delete("/", h.handleClearCart)
		r.Post("/items", h.handleAddItem)
		r.Patch("/items/{id}", h.handleUpdateQuantity)
		r.Delete("/items/{id}", h.handleRemoveItem)
		r.Post("/claim", h.handleClaim)
	})
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	o, ok := requestOwner(w, r)
	if !ok {
		return
	}

	summary, err := h.carts.Summarize(r.Context(), o)
	if err != nil {
		respondWithServiceError(w, err, "Failed to load cart")
		return
	}

	quote, err := h.fees.Quote(r.Context(), summary.Subtotal)
	if err != nil {
		respondWithServiceError(w, err, "Failed to quote delivery fee")
		return
	}

	lines := make([]CartLineResponse, 0, len(summary.Lines))
	for _, line := range summary.Lines {
		lines = append(lines, newCartLineResponse(&line))
	}

	respondWithJSON(w, http.StatusOK, CartResponse{
		Lines:      lines,
		ItemsCount: summary.ItemsCount,
		Subtotal:   summary.Subtotal.Round(2),
		Delivery:   *quote,
		Total:      summary.Subtotal.Add(quote.Fee).Round(2),
	})
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	o, ok := requestOwner(w, r)
	if !ok {
		return
	}

	var req AddItemRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	subject, err := catalog.NewSubject(nullUUID(req.ProductID), nullUUID(req.VariantID), nullUUID(req.PackID))
	if err != nil {
		respondWithServiceError(w, err, "Invalid cart subject")
		return
	}

	line, err := h.carts.AddItem(r.Context(), o, subject, req.Quantity)
	if err != nil {
		respondWithServiceError(w, err, "Failed to add item to cart")
		return
	}

	respondWithJSON(w, http.StatusCreated, newCartLineResponse(line))
}

func (h *CartHandler) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	o, ok := requestOwner(w, r)
	if !ok {
		return
	}

	lineID, ok := parseIDParam(w, r, "cart line")
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	line, err := h.carts.UpdateQuantity(r.Context(), o, lineID, req.Quantity)
	if err != nil {
		respondWithServiceError(w, err, "Failed to update cart line")
		return
	}

	respondWithJSON(w, http.StatusOK, newCartLineResponse(line))
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	o, ok := requestOwner(w, r)
	if !ok {
		return
	}

	lineID, ok := parseIDParam(w, r, "cart line")
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(r.Context(), o, lineID); err != nil {
		respondWithServiceError(w, err, "Failed to remove cart line")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	o, ok := requestOwner(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(r.Context(), o); err != nil {
		respondWithServiceError(w, err, "Failed to clear cart")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleClaim(w http.ResponseWriter, r *http.Request) {
	o, ok := requestOwner(w, r)
	if !ok {
		return
	}

	user, isUser := o.(owner.User)
	if !isUser {
		respondWithError(w, http.StatusUnauthorized, "Sign in to claim a cart")
		return
	}

	token, hasSession := h.sessions.SessionToken(r)
	if !hasSession {
		respondWithJSON(w, http.StatusOK, ClaimResponse{Claimed: 0})
		return
	}

	claimed, err := h.carts.Claim(r.Context(), owner.AnonymousSession{Token: token}, user)
	if err != nil {
		respondWithServiceError(w, err, "Failed to claim cart")
		return
	}

	h.sessions.ExpireSession(w)
	log.Info().Stringer("user_id", user.ID).Int("claimed", claimed).Msg("handler: session cart claimed")
	respondWithJSON(w, http.StatusOK, ClaimResponse{Claimed: claimed})
}

func newCartLineResponse(line *cart.Line) CartLineResponse {
	productID, variantID, packID := catalog.Columns(line.Subject)
	return CartLineResponse{
		ID:        line.ID,
		ProductID: uuidPtr(productID),
		VariantID: uuidPtr(variantID),
		PackID:    uuidPtr(packID),
		Quantity:  line.Quantity,
		UnitPrice: line.UnitPrice,
		LineTotal: line.LineTotal,
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.FromString(raw)
	if err != nil {
		log.Warn().Err(err).Str("id", raw).Msgf("Invalid %s ID format", what)
		respondWithError(w, http.StatusBadRequest, "Invalid "+what+" ID format")
		return uuid.Nil, false
	}
	return id, true
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}
