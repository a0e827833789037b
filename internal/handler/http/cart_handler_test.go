package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cartHandler "github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/delivery"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/owner"
)

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) AddItem(ctx context.Context, o owner.Owner, subject catalog.Subject, quantity int) (*cart.Line, error) {
	args := m.Called(ctx, o, subject, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Line), args.Error(1)
}

func (m *MockCartService) UpdateQuantity(ctx context.Context, o owner.Owner, lineID uuid.UUID, quantity int) (*cart.Line, error) {
	args := m.Called(ctx, o, lineID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Line), args.Error(1)
}

func (m *MockCartService) RemoveItem(ctx context.Context, o owner.Owner, lineID uuid.UUID) error {
	args := m.Called(ctx, o, lineID)
	return args.Error(0)
}

func (m *MockCartService) Clear(ctx context.Context, o owner.Owner) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockCartService) ListItems(ctx context.Context, o owner.Owner) ([]cart.Line, error) {
	args := m.Called(ctx, o)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cart.Line), args.Error(1)
}

func (m *MockCartService) Summarize(ctx context.Context, o owner.Owner) (*cart.Summary, error) {
	args := m.Called(ctx, o)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Summary), args.Error(1)
}

func (m *MockCartService) Claim(ctx context.Context, from owner.AnonymousSession, to owner.User) (int, error) {
	args := m.Called(ctx, from, to)
	return args.Int(0), args.Error(1)
}

type MockDeliveryService struct {
	mock.Mock
}

func (m *MockDeliveryService) Quote(ctx context.Context, subtotal decimal.Decimal) (*delivery.Quote, error) {
	args := m.Called(ctx, subtotal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delivery.Quote), args.Error(1)
}

func (m *MockDeliveryService) Create(ctx context.Context, cfg *delivery.FeeConfig) (*delivery.FeeConfig, error) {
	args := m.Called(ctx, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delivery.FeeConfig), args.Error(1)
}

func (m *MockDeliveryService) List(ctx context.Context) ([]delivery.FeeConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]delivery.FeeConfig), args.Error(1)
}

func (m *MockDeliveryService) Activate(ctx context.Context, id uuid.UUID) (*delivery.FeeConfig, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delivery.FeeConfig), args.Error(1)
}

type fakeSessions struct {
	token   uuid.UUID
	has     bool
	expired bool
}

func (f *fakeSessions) SessionToken(*http.Request) (uuid.UUID, bool) { return f.token, f.has }
func (f *fakeSessions) ExpireSession(http.ResponseWriter)             { f.expired = true }

var (
	shopper   = owner.User{ID: uuid.Must(uuid.NewV4())}
	visitor   = owner.AnonymousSession{Token: uuid.Must(uuid.NewV4())}
	productID = uuid.Must(uuid.NewV4())
	lineID    = uuid.Must(uuid.NewV4())
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// routerFor returns a chi router whose requests carry o as their owner.
func routerFor(o owner.Owner) *chi.Mux {
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(owner.WithOwner(r.Context(), o)))
		})
	})
	return router
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serveCart(t *testing.T, carts *MockCartService, fees *MockDeliveryService, sessions *fakeSessions, o owner.Owner, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	handler := cartHandler.NewCartHandler(carts, fees, sessions)
	router := routerFor(o)
	handler.RegisterRoutes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCartHandler_handleGetCart(t *testing.T) {
	carts := new(MockCartService)
	fees := new(MockDeliveryService)

	summary := &cart.Summary{
		Lines: []cart.Line{{
			ID:        lineID,
			Subject:   catalog.ProductSubject{ProductID: productID},
			Quantity:  2,
			UnitPrice: dec("40.00"),
			LineTotal: dec("80.00"),
		}},
		Subtotal:   dec("80.00"),
		ItemsCount: 2,
	}
	carts.On("Summarize", mock.Anything, shopper).Return(summary, nil).Once()
	fees.On("Quote", mock.Anything, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(dec("80"))
	})).Return(&delivery.Quote{
		Fee:                      dec("7.00"),
		RemainingForFreeShipping: decimal.NewNullDecimal(dec("20.00")),
	}, nil).Once()

	rr := serveCart(t, carts, fees, &fakeSessions{}, shopper, httptest.NewRequest(http.MethodGet, "/cart", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp cartHandler.CartResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, lineID, resp.Lines[0].ID)
	require.NotNil(t, resp.Lines[0].ProductID)
	assert.Equal(t, productID, *resp.Lines[0].ProductID)
	assert.Nil(t, resp.Lines[0].PackID)
	assert.Equal(t, 2, resp.ItemsCount)
	assert.Equal(t, "80.00", resp.Subtotal.StringFixed(2))
	assert.Equal(t, "7.00", resp.Delivery.Fee.StringFixed(2))
	assert.Equal(t, "20.00", resp.Delivery.RemainingForFreeShipping.Decimal.StringFixed(2))
	assert.Equal(t, "87.00", resp.Total.StringFixed(2))
	carts.AssertExpectations(t)
	fees.AssertExpectations(t)
}

func TestCartHandler_handleAddItem_Success(t *testing.T) {
	carts := new(MockCartService)
	variantID := uuid.Must(uuid.NewV4())
	subject := catalog.ProductSubject{ProductID: productID, VariantID: uuid.NullUUID{UUID: variantID, Valid: true}}

	carts.On("AddItem", mock.Anything, shopper, subject, 3).Return(&cart.Line{
		ID:        lineID,
		Subject:   subject,
		Quantity:  3,
		UnitPrice: dec("8.50"),
		LineTotal: dec("25.50"),
	}, nil).Once()

	req := jsonRequest(t, http.MethodPost, "/cart/items", map[string]interface{}{
		"product_id": productID,
		"variant_id": variantID,
		"quantity":   3,
	})
	rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, shopper, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp cartHandler.CartLineResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, lineID, resp.ID)
	require.NotNil(t, resp.VariantID)
	assert.Equal(t, variantID, *resp.VariantID)
	assert.Equal(t, "25.50", resp.LineTotal.StringFixed(2))
	carts.AssertExpectations(t)
}

func TestCartHandler_handleAddItem_ValidationFailed(t *testing.T) {
	packID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name      string
		body      map[string]interface{}
		wantField string
	}{
		{
			name:      "zero_quantity",
			body:      map[string]interface{}{"product_id": productID, "quantity": 0},
			wantField: "quantity",
		},
		{
			name:      "missing_quantity",
			body:      map[string]interface{}{"pack_id": packID},
			wantField: "quantity",
		},
		{
			name:      "no_subject",
			body:      map[string]interface{}{"quantity": 1},
			wantField: "product_id",
		},
		{
			name:      "product_and_pack",
			body:      map[string]interface{}{"product_id": productID, "pack_id": packID, "quantity": 1},
			wantField: "product_id",
		},
		{
			name:      "quantity_over_limit",
			body:      map[string]interface{}{"product_id": productID, "quantity": 1000},
			wantField: "quantity",
		},
		{
			name:      "variant_on_pack",
			body:      map[string]interface{}{"pack_id": packID, "variant_id": uuid.Must(uuid.NewV4()), "quantity": 1},
			wantField: "variant_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carts := new(MockCartService)
			req := jsonRequest(t, http.MethodPost, "/cart/items", tt.body)
			rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, shopper, req)
			require.Equal(t, http.StatusBadRequest, rr.Code)

			var resp cartHandler.ValidationErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, "Validation failed", resp.Error)
			assert.Contains(t, resp.Details, tt.wantField)
			carts.AssertNotCalled(t, "AddItem", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCartHandler_handleAddItem_UnknownField(t *testing.T) {
	carts := new(MockCartService)
	req := jsonRequest(t, http.MethodPost, "/cart/items", map[string]interface{}{
		"product_id": productID,
		"quantity":   1,
		"price":      "0.01",
	})
	rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, shopper, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	carts.AssertNotCalled(t, "AddItem", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCartHandler_handleAddItem_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "out_of_stock", err: cart.ErrOutOfStock, wantStatus: http.StatusConflict, wantError: cart.ErrOutOfStock.Error()},
		{name: "unavailable", err: cart.ErrSubjectUnavailable, wantStatus: http.StatusConflict, wantError: cart.ErrSubjectUnavailable.Error()},
		{name: "not_found", err: cart.ErrSubjectNotFound, wantStatus: http.StatusNotFound, wantError: cart.ErrSubjectNotFound.Error()},
		{name: "internal", err: errors.New("connection reset"), wantStatus: http.StatusInternalServerError, wantError: "Failed to add item to cart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carts := new(MockCartService)
			carts.On("AddItem", mock.Anything, visitor, catalog.ProductSubject{ProductID: productID}, 1).Return(nil, tt.err).Once()

			req := jsonRequest(t, http.MethodPost, "/cart/items", map[string]interface{}{"product_id": productID, "quantity": 1})
			rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, visitor, req)
			require.Equal(t, tt.wantStatus, rr.Code)

			var resp map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.wantError, resp["error"])
			carts.AssertExpectations(t)
		})
	}
}

func TestCartHandler_handleUpdateQuantity(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		carts := new(MockCartService)
		carts.On("UpdateQuantity", mock.Anything, shopper, lineID, 4).Return(&cart.Line{
			ID:        lineID,
			Subject:   catalog.ProductSubject{ProductID: productID},
			Quantity:  4,
			UnitPrice: dec("2.00"),
			LineTotal: dec("8.00"),
		}, nil).Once()

		req := jsonRequest(t, http.MethodPatch, "/cart/items/"+lineID.String(), map[string]int{"quantity": 4})
		rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, shopper, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp cartHandler.CartLineResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, 4, resp.Quantity)
		carts.AssertExpectations(t)
	})

	t.Run("foreign_line_is_forbidden", func(t *testing.T) {
		carts := new(MockCartService)
		carts.On("UpdateQuantity", mock.Anything, shopper, lineID, 2).Return(nil, cart.ErrNotOwner).Once()

		req := jsonRequest(t, http.MethodPatch, "/cart/items/"+lineID.String(), map[string]int{"quantity": 2})
		rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, shopper, req)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		carts.AssertExpectations(t)
	})

	t.Run("zero_quantity", func(t *testing.T) {
		carts := new(MockCartService)
		req := jsonRequest(t, http.MethodPatch, "/cart/items/"+lineID.String(), map[string]int{"quantity": 0})
		rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, shopper, req)

		require.Equal(t, http.StatusBadRequest, rr.Code)
		var resp cartHandler.ValidationErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Contains(t, resp.Details, "quantity")
	})

	t.Run("quantity_over_limit", func(t *testing.T) {
		carts := new(MockCartService)
		req := jsonRequest(t, http.MethodPatch, "/cart/items/"+lineID.String(), map[string]int64{"quantity": 3000000000})
		rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, shopper, req)

		require.Equal(t, http.StatusBadRequest, rr.Code)
		carts.AssertNotCalled(t, "UpdateQuantity", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("line_total_overflow_is_bad_request", func(t *testing.T) {
		carts := new(MockCartService)
		carts.On("UpdateQuantity", mock.Anything, shopper, lineID, 999).Return(nil, cart.ErrInvalidQuantity).Once()

		req := jsonRequest(t, http.MethodPatch, "/cart/items/"+lineID.String(), map[string]int{"quantity": 999})
		rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, shopper, req)

		require.Equal(t, http.StatusBadRequest, rr.Code)
		var resp map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, cart.ErrInvalidQuantity.Error(), resp["error"])
		carts.AssertExpectations(t)
	})

	t.Run("malformed_id", func(t *testing.T) {
		carts := new(MockCartService)
		req := jsonRequest(t, http.MethodPatch, "/cart/items/not-a-uuid", map[string]int{"quantity": 1})
		rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, shopper, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCartHandler_handleRemoveItemAndClear(t *testing.T) {
	carts := new(MockCartService)
	carts.On("RemoveItem", mock.Anything, visitor, lineID).Return(nil).Once()
	carts.On("Clear", mock.Anything, visitor).Return(nil).Once()

	rr := serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, visitor,
		httptest.NewRequest(http.MethodDelete, "/cart/items/"+lineID.String(), nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serveCart(t, carts, new(MockDeliveryService), &fakeSessions{}, visitor,
		httptest.NewRequest(http.MethodDelete, "/cart", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	carts.AssertExpectations(t)
}

func TestCartHandler_handleClaim(t *testing.T) {
	t.Run("moves_session_lines_and_expires_cookie", func(t *testing.T) {
		carts := new(MockCartService)
		sessions := &fakeSessions{token: visitor.Token, has: true}
		carts.On("Claim", mock.Anything, visitor, shopper).Return(2, nil).Once()

		rr := serveCart(t, carts, new(MockDeliveryService), sessions, shopper,
			httptest.NewRequest(http.MethodPost, "/cart/claim", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var resp cartHandler.ClaimResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, 2, resp.Claimed)
		assert.True(t, sessions.expired)
		carts.AssertExpectations(t)
	})

	t.Run("no_session_is_a_noop", func(t *testing.T) {
		carts := new(MockCartService)
		sessions := &fakeSessions{}

		rr := serveCart(t, carts, new(MockDeliveryService), sessions, shopper,
			httptest.NewRequest(http.MethodPost, "/cart/claim", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.False(t, sessions.expired)
		carts.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("anonymous_caller_is_rejected", func(t *testing.T) {
		carts := new(MockCartService)
		sessions := &fakeSessions{token: visitor.Token, has: true}

		rr := serveCart(t, carts, new(MockDeliveryService), sessions, visitor,
			httptest.NewRequest(http.MethodPost, "/cart/claim", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		carts.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
	})
}
