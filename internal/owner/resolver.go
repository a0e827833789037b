package owner

import (
	"net/http"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/config"
)

// Resolver derives the Owner of a request. Authentication happens upstream: a gateway
// forwards the authenticated user id in UserHeader. Anonymous visitors get a session cookie.
type Resolver struct {
	cookieName string
	cookieTTL  time.Duration
	secure     bool
	userHeader string
}

func NewResolver(cfg config.SessionConfig) *Resolver {
	return &Resolver{
		cookieName: cfg.CookieName,
		cookieTTL:  cfg.CookieTTL,
		secure:     cfg.Secure,
		userHeader: cfg.UserHeader,
	}
}

// Middleware stores the resolved Owner in the request context.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o, err := res.Resolve(w, r)
		if err != nil {
			log.Error().Err(err).Msg("owner: failed to resolve request owner")
			http.Error(w, "failed to resolve session", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), o)))
	})
}

// Resolve returns the authenticated user when present, otherwise the anonymous session,
// minting a new session cookie if the request carries none.
func (res *Resolver) Resolve(w http.ResponseWriter, r *http.Request) (Owner, error) {
	if raw := r.Header.Get(res.userHeader); raw != "" {
		id, err := uuid.FromString(raw)
		if err == nil && id != uuid.Nil {
			return User{ID: id}, nil
		}
		log.Warn().Str("header", res.userHeader).Msg("owner: ignoring malformed user id header")
	}

	if token, ok := res.SessionToken(r); ok {
		return AnonymousSession{Token: token}, nil
	}

	token, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, res.cookie(token.String(), int(res.cookieTTL.Seconds())))
	return AnonymousSession{Token: token}, nil
}

// SessionToken returns the anonymous session token carried by the request, if any.
func (res *Resolver) SessionToken(r *http.Request) (uuid.UUID, bool) {
	c, err := r.Cookie(res.cookieName)
	if err != nil {
		return uuid.Nil, false
	}
	token, err := uuid.FromString(c.Value)
	if err != nil || token == uuid.Nil {
		return uuid.Nil, false
	}
	return token, true
}

// ExpireSession deletes the session cookie on the client.
func (res *Resolver) ExpireSession(w http.ResponseWriter) {
	http.SetCookie(w, res.cookie("", -1))
}

func (res *Resolver) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     res.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   res.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
