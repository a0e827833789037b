// Package owner identifies whose cart a request operates on: an authenticated user or an
// anonymous browser session.
package owner

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid"
)

var ErrInvalidKey = errors.New("invalid owner key")

// Owner scopes every cart read and write.
type Owner interface {
	// Key is the value persisted in owner_key columns.
	Key() string
	isOwner()
}

type User struct {
	ID uuid.UUID
}

func (u User) Key() string { return "user:" + u.ID.String() }
func (User) isOwner()      {}

type AnonymousSession struct {
	Token uuid.UUID
}

func (s AnonymousSession) Key() string { return "session:" + s.Token.String() }
func (AnonymousSession) isOwner()      {}

// ParseKey is the inverse of Owner.Key.
func ParseKey(key string) (Owner, error) {
	kind, raw, ok := strings.Cut(key, ":")
	if !ok {
		return nil, ErrInvalidKey
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return nil, ErrInvalidKey
	}

	switch kind {
	case "user":
		return User{ID: id}, nil
	case "session":
		return AnonymousSession{Token: id}, nil
	default:
		return nil, ErrInvalidKey
	}
}

// UserID returns the user id when o is an authenticated user.
func UserID(o Owner) (uuid.UUID, bool) {
	if u, ok := o.(User); ok {
		return u.ID, true
	}
	return uuid.Nil, false
}

type ctxKey struct{}

func WithOwner(ctx context.Context, o Owner) context.Context {
	return context.WithValue(ctx, ctxKey{}, o)
}

func FromContext(ctx context.Context) (Owner, bool) {
	o, ok := ctx.Value(ctxKey{}).(Owner)
	return o, ok
}
