package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/utils"
	"github.com/zentra/nbot/pkg/database"
)

// RateLimitMiddleware limits requests per IP or admin subject
func RateLimitMiddleware(redisClient *redis.Client, rps int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Admin subject if authenticated, otherwise IP
			var key string
			if subject, ok := GetSubject(ctx); ok {
				key = fmt.Sprintf("admin:%s", subject)
			} else {
				key = fmt.Sprintf("ip:%s", getClientIP(r))
			}

			count, err := database.IncrementRateLimit(ctx, redisClient, key, time.Second)
			if err != nil {
				// Redis down: fail open
				log.Warn().Err(err).Msg("Rate limit check failed")
				next.ServeHTTP(w, r)
				return
			}

			// Check if rate limit exceeded
			if count > int64(rps) {
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rps))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				utils.RespondError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			remaining := int64(rps) - count
			if remaining < 0 {
				remaining = 0
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rps))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check common proxy headers
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the chain
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}

	// Fall back to RemoteAddr
	ip := r.RemoteAddr
	// Remove port if present
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == ':' {
			return ip[:i]
		}
	}
	return ip
}
