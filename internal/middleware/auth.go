package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/zentra/nbot/internal/utils"
	"github.com/zentra/nbot/pkg/auth"
)

type contextKey string

const SubjectKey contextKey = "adminSubject"

// AdminAuthMiddleware validates admin JWTs and stores the subject in context
func AdminAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.RespondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				utils.RespondError(w, http.StatusUnauthorized, "Invalid authorization header format")
				return
			}

			claims, err := auth.ValidateAccessToken(parts[1], secret)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					utils.RespondError(w, http.StatusUnauthorized, "Token expired")
				} else {
					utils.RespondError(w, http.StatusUnauthorized, "Invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubject extracts the admin subject from context
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}
