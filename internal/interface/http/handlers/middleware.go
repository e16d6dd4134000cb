package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN TOKEN MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// AdminTokenHeader carries the operator token.
const AdminTokenHeader = "X-Admin-Token"

// ErrInvalidTokenHash is returned for a hash bcrypt cannot read.
var ErrInvalidTokenHash = errors.New("admin token hash is not a bcrypt hash")

// AdminTokenAuth guards operator endpoints with a single bcrypt-hashed token.
type AdminTokenAuth struct {
	hash []byte
}

// NewAdminTokenAuth creates the authenticator from a bcrypt hash.
func NewAdminTokenAuth(hash string) (*AdminTokenAuth, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, ErrInvalidTokenHash
	}
	return &AdminTokenAuth{hash: []byte(hash)}, nil
}

// HashAdminToken returns the bcrypt hash to put in ADMIN_TOKEN_HASH.
func HashAdminToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Valid reports whether token matches the configured hash.
func (a *AdminTokenAuth) Valid(token string) bool {
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(token)) == nil
}

// Middleware rejects requests without a valid token. The token is read from
// X-Admin-Token or an "Authorization: Bearer" header.
func (a *AdminTokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AdminTokenHeader)
		if token == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_admin_token", "admin token is required")
			return
		}
		if !a.Valid(token) {
			writeError(w, http.StatusUnauthorized, "invalid_admin_token", "invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// TIMEOUT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// TimeoutMiddleware bounds the request context. Handlers observe the deadline
// through ctx; nothing is written on their behalf.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST SIZE LIMIT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestSizeLimitMiddleware limits the size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes the minimal error envelope used before a request reaches
// the API handlers.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":false,"error":{"code":"` + code + `","message":"` + message + `"}}`))
}
