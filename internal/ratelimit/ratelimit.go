// Package ratelimit implements sliding-window rate limiting behind a
// pluggable store so a single-process deployment can run in memory and
// a horizontally scaled one can share state through Redis.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store records request timestamps per key and decides whether another
// request fits inside the trailing window. Implementations must count
// the request when it is allowed.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Policy is one protected route class.
type Policy struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Limiter applies a policy against a store.
type Limiter struct {
	store  Store
	logger zerolog.Logger
}

func NewLimiter(store Store, logger zerolog.Logger) *Limiter {
	return &Limiter{store: store, logger: logger.With().Str("component", "ratelimit").Logger()}
}

// Allow checks one identifier against a policy. Store failures are
// logged and fail open: losing rate limiting is preferable to taking
// down login when the backing store blips.
func (l *Limiter) Allow(ctx context.Context, policy Policy, identifier string) Decision {
	key := policy.Prefix + ":" + identifier
	decision, err := l.store.Allow(ctx, key, policy.Limit, policy.Window)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", policy.Prefix).Msg("rate limit store unavailable")
		return Decision{Allowed: true, Remaining: policy.Limit}
	}
	return decision
}

// Middleware rejects requests over the policy's limit with 429 and a
// Retry-After hint. The key is derived from the request by keyFunc,
// typically the client IP.
func Middleware(limiter *Limiter, policy Policy, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Allow(r.Context(), policy, keyFunc(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				retryAfter := int64(decision.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the originating client address, preferring proxy
// headers over the socket peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
