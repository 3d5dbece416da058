package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"course-payments/internal/domain"
	"course-payments/internal/domain/model"
	"course-payments/internal/infra/logging"
)

// UserClaims is the token layout issued by the account service.
type UserClaims struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret     []byte
	cookieName string
}

func NewAuthenticator(secret, cookieName string) *Authenticator {
	return &Authenticator{secret: []byte(secret), cookieName: cookieName}
}

// ParseFromRequest reads the token from "Authorization: Bearer" first and
// falls back to the session cookie.
func (a *Authenticator) ParseFromRequest(r *http.Request) (*UserClaims, error) {
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		if len(hdr) > 7 && strings.EqualFold(hdr[:7], "bearer ") {
			return a.parse(strings.TrimSpace(hdr[7:]))
		}
	}
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return a.parse(c.Value)
	}
	return nil, errors.New("missing token")
}

func (a *Authenticator) parse(tok string) (*UserClaims, error) {
	claims := &UserClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.User.ID == "" {
		return nil, errors.New("token has no user")
	}
	return claims, nil
}

type identityKey struct{}

func identityFrom(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(model.Identity)
	return id, ok
}

// RequireUser rejects requests without a valid token and stores the caller's
// identity in the request context.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.ParseFromRequest(r)
		if err != nil {
			fail(w, http.StatusUnauthorized, "authentication required", domain.ErrUnauthenticated)
			return
		}
		id := model.Identity{ID: claims.User.ID, Email: claims.User.Email, Role: claims.User.Role}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		ctx = logging.WithUserID(ctx, id.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin must run after RequireUser.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identityFrom(r.Context())
		if !ok || !id.IsAdmin() {
			fail(w, http.StatusForbidden, "admin role required", domain.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
