// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Tries the access token cookie then the Authorization header and adds the caller to context

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

// Authenticator resolves an access token to an active user.
// Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokensFromRequest returns the access tokens carried by r in the order they
// are tried: the accessToken cookie, then an Authorization bearer header.
func TokensFromRequest(r *http.Request) []string {
	var tokens []string
	if c, err := r.Cookie(AccessCookieName); err == nil && c.Value != "" {
		tokens = append(tokens, c.Value)
	}
	if token, _ := extractBearerToken(r.Header.Get("Authorization")); token != "" && !slices.Contains(tokens, token) {
		tokens = append(tokens, token)
	}
	return tokens
}

// AuthenticateAny returns the user for the first token that authenticates.
// A stale cookie does not shadow a valid bearer header. When every token
// fails, the error of the last one is returned.
func AuthenticateAny(ctx context.Context, authn Authenticator, tokens []string) (*store.User, error) {
	if len(tokens) == 0 {
		return nil, ErrMissingToken
	}
	var lastErr error
	for _, token := range tokens {
		user, err := authn.Authenticate(ctx, token)
		if err == nil {
			return user, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// HTTPAuthMiddleware creates an HTTP middleware that validates the access token,
// loads the user and adds AuthContext to the request context.
func HTTPAuthMiddleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokens := TokensFromRequest(r)
			if len(tokens) == 0 {
				writeAuthError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			user, err := AuthenticateAny(r.Context(), authn, tokens)
			if err != nil {
				status, msg := authFailure(err)
				writeAuthError(w, status, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), newAuthContext(user))))
		})
	}
}

// RequireAdminHTTP creates an HTTP middleware that requires the admin role.
// Must be used after HTTPAuthMiddleware.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				writeAuthError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			if !authCtx.IsAdmin() {
				writeAuthError(w, http.StatusForbidden, "Admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authFailure(err error) (int, string) {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return http.StatusUnauthorized, "Access token expired"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrMissingToken):
		return http.StatusUnauthorized, "Invalid or expired token"
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, ErrAccountDeleted):
		return http.StatusForbidden, "Account deleted"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeAuthError writes the same failure envelope the API handlers use.
func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}
