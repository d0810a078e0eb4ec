package middleware

import (
	"context"
	"net/http"
	"strings"

	apiContext "bizdash/internal/api/context"
	"bizdash/internal/pkg/errors"
	"bizdash/internal/platform/auth"
)

type AuthMiddleware struct {
	tokenSvc *auth.TokenService
}

func NewAuthMiddleware(tokenSvc *auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return m.handle(next, false)
}

// HandleWebsocket also accepts the token as a "token" query parameter,
// since browsers cannot set headers on a websocket upgrade.
func (m *AuthMiddleware) HandleWebsocket(next http.HandlerFunc) http.HandlerFunc {
	return m.handle(next, true)
}

func (m *AuthMiddleware) handle(next http.HandlerFunc, allowQuery bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
				return
			}
			token = parts[1]
		} else if allowQuery {
			token = r.URL.Query().Get("token")
		}

		if token == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing authorization header", nil)
			return
		}

		claims, err := m.tokenSvc.ValidateToken(token)
		if err != nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}
