package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/delivery"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/owner"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

type InsufficientStockResponse struct {
	Error string   `json:"error"`
	Lines []string `json:"lines"`
}

// respondWithError sends a JSON error body.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON sends payload as a JSON body.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

var clientErrors = []struct {
	err    error
	status int
}{
	{cart.ErrNotOwner, http.StatusForbidden},
	{cart.ErrInvalidQuantity, http.StatusBadRequest},
	{catalog.ErrInvalidSubject, http.StatusBadRequest},
	{delivery.ErrInvalidConfig, http.StatusBadRequest},
	{order.ErrInvalidStatus, http.StatusBadRequest},
	{cart.ErrSubjectNotFound, http.StatusNotFound},
	{order.ErrOrderNotFound, http.StatusNotFound},
	{delivery.ErrNotFound, http.StatusNotFound},
	{cart.ErrOutOfStock, http.StatusConflict},
	{cart.ErrSubjectUnavailable, http.StatusConflict},
	{checkout.ErrInsufficientStock, http.StatusConflict},
	{checkout.ErrEmptyCart, http.StatusConflict},
	{order.ErrInvalidStatusTransition, http.StatusConflict},
	{delivery.ErrActivationConflict, http.StatusConflict},
	{checkout.ErrOrderReferenceCollision, http.StatusServiceUnavailable},
}

func mapErrorToStatusCode(err error) int {
	for _, known := range clientErrors {
		if errors.Is(err, known.err) {
			return known.status
		}
	}
	return http.StatusInternalServerError
}

// clientMessage returns the message of the sentinel err matches, dropping layer prefixes.
func clientMessage(err error) string {
	for _, known := range clientErrors {
		if errors.Is(err, known.err) {
			return known.err.Error()
		}
	}
	return err.Error()
}

// respondWithServiceError maps err to a status and a client-safe message. Unknown errors are
// reported as a generic failure so internals never leak.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	status := mapErrorToStatusCode(err)

	var stockErr *checkout.InsufficientStockError
	if errors.As(err, &stockErr) {
		lines := make([]string, 0, len(stockErr.Lines))
		for _, id := range stockErr.Lines {
			lines = append(lines, id.String())
		}
		respondWithJSON(w, status, InsufficientStockResponse{Error: checkout.ErrInsufficientStock.Error(), Lines: lines})
		return
	}

	switch status {
	case http.StatusInternalServerError:
		log.Error().Err(err).Msg(fallback)
		respondWithError(w, status, fallback)
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		respondWithError(w, status, clientMessage(err))
	default:
		respondWithError(w, status, clientMessage(err))
	}
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return validate
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			details[fe.Field()] = "is required"
		case "required_without":
			details[fe.Field()] = fmt.Sprintf("is required when %s is missing", fe.Param())
		case "excluded_with":
			details[fe.Field()] = fmt.Sprintf("must not be combined with %s", fe.Param())
		case "gte":
			details[fe.Field()] = fmt.Sprintf("must be greater than or equal to %s", fe.Param())
		case "lte":
			details[fe.Field()] = fmt.Sprintf("must be less than or equal to %s", fe.Param())
		case "min":
			details[fe.Field()] = fmt.Sprintf("must be at least %s characters long", fe.Param())
		case "max":
			details[fe.Field()] = fmt.Sprintf("must be at most %s characters long", fe.Param())
		case "oneof":
			details[fe.Field()] = fmt.Sprintf("must be one of: %s", fe.Param())
		default:
			details[fe.Field()] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
		}
	}
	return details
}

// decodeAndValidate decodes a JSON body into dst and validates it, writing the error
// response itself. It reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}

	return true
}

// requestOwner returns the owner stored by the owner middleware.
func requestOwner(w http.ResponseWriter, r *http.Request) (owner.Owner, bool) {
	o, ok := owner.FromContext(r.Context())
	if !ok {
		log.Error().Msg("Request reached a cart handler without an owner")
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve cart owner")
		return nil, false
	}
	return o, true
}
