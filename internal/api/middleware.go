/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer session
 * tokens for cardholders, and the internal API key or an admin token for the
 * back-office routes.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5 (via TokenIssuer): Session token verification.
 * - github.com/google/uuid: Session identifiers.
 */

package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const sessionIDKey contextKey = "sessionID"

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
		return "", false
	}
	return strings.TrimSpace(tokenString), true
}

// SessionAuthMiddleware requires a valid cardholder token and stores its session ID
// in the request context.
func SessionAuthMiddleware(tokens *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			claims, err := tokens.Parse(tokenString)
			if err != nil || claims.Role != RoleCardholder {
				writeError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}
			sid, _ := claims.SessionID()
			ctx := context.WithValue(r.Context(), sessionIDKey, sid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuthMiddleware accepts either the X-Internal-API-Key header or a bearer
// token with the admin role. With no key configured only tokens are accepted.
func AdminAuthMiddleware(requiredKey string, tokens *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if provided := r.Header.Get("X-Internal-API-Key"); provided != "" {
				if requiredKey != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			tokenString, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			claims, err := tokens.Parse(tokenString)
			if err != nil || claims.Role != RoleAdmin {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionIDFromContext returns the session ID placed by SessionAuthMiddleware.
func SessionIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	sid, ok := ctx.Value(sessionIDKey).(uuid.UUID)
	return sid, ok
}
