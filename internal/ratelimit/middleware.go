package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"fitgate/internal/guest/models"
	"fitgate/pkg/platform/httputil"
	"fitgate/pkg/platform/middleware/metadata"
)

type Middleware struct {
	limiter  *Limiter
	logger   *slog.Logger
	disabled bool
}

type MiddlewareOption func(*Middleware)

// WithDisabled turns the limiter off entirely (testing and demo mode).
func WithDisabled(disabled bool) MiddlewareOption {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func NewMiddleware(limiter *Limiter, logger *slog.Logger, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("ip rate limiting disabled")
	}
	return m
}

// PerIP throttles by client IP before identity resolution runs. Limiter
// backend failures fail open: dropping the flood shield is better than
// refusing all traffic while Redis restarts.
func (m *Middleware) PerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := metadata.GetClientIP(ctx)

		result, err := m.limiter.Allow(ctx, ip)
		if err != nil {
			m.logger.Error("ip rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)

		if !result.Allowed {
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": "too many requests from this address",
				"code":  models.CodeRateLimitExceeded,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result *Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
