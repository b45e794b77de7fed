package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

// Middleware rejects requests without a valid bearer token. Browsers
// cannot set headers on websocket upgrades, so ?token= is accepted too.
func Middleware(authService *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			tokenString, err := bearerToken(r)
			if err != nil {
				apperrors.WriteError(w, requestID, err)
				return
			}

			claims, err := authService.ValidateToken(tokenString)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					apperrors.WriteError(w, requestID, apperrors.TokenExpired())
					return
				}
				apperrors.WriteError(w, requestID, apperrors.InvalidToken("invalid access token"))
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", apperrors.Unauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", apperrors.Unauthorized("invalid authorization header format")
	}
	return parts[1], nil
}

// GetClaimsFromContext returns the claims stored by Middleware, or nil
func GetClaimsFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}
