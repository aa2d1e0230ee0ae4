// Package middleware provides HTTP middlewares for session authentication,
// request logging and metrics.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/atinyakov/CargoDesk/internal/models"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "sid"

type ctxKey string

const (
	userKey  ctxKey = "user"
	tokenKey ctxKey = "token"
)

// SessionResolver resolves a session token to its user.
type SessionResolver interface {
	CurrentUser(ctx context.Context, token string) (*models.User, error)
}

// TokenFromRequest returns the session token from the sid cookie or, failing
// that, from an "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// SessionAuth rejects requests without a live session. On success the user
// and token are stored in the request context.
func SessionAuth(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			user, err := resolver.CurrentUser(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user stored by SessionAuth, or nil.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// TokenFromContext returns the token stored by SessionAuth.
func TokenFromContext(ctx context.Context) string {
	s, _ := ctx.Value(tokenKey).(string)
	return s
}

func writeError(w http.ResponseWriter, err error) {
	kind := autherr.KindOf(err)
	if kind == autherr.Transport {
		kind = autherr.Internal
	}
	msg := "internal error"
	if kind != autherr.Internal {
		msg = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.Status())
	_ = json.NewEncoder(w).Encode(models.Envelope{Message: msg, Code: kind.String()})
}
