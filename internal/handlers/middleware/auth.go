package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/skillswap/internal/handlers/render"
	"github.com/nkiryanov/skillswap/internal/handlers/userctx"
	"github.com/nkiryanov/skillswap/internal/models"
)

type authService interface {
	Auth(ctx context.Context, r *http.Request) (models.User, error)
}

type AuthMiddleware struct {
	auth authService
}

func NewAuth(as authService) *AuthMiddleware {
	return &AuthMiddleware{auth: as}
}

// Auth lets through requests with valid access token only and puts the user to the request context
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.auth.Auth(r.Context(), r)
		if err != nil {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := userctx.New(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
