package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Limiter is the part of domain.RateLimiter the middleware needs.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit limits each caller to limit requests per window. Callers are
// keyed by user id when authenticated and by client IP otherwise. Limiter
// failures fail open.
func RateLimit(limiter Limiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/ws/") || r.URL.Path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}

			key := "ratelimit:api:ip:" + ClientIP(r)
			if who, ok := IdentityFrom(r.Context()); ok {
				key = "ratelimit:api:user:" + strconv.FormatInt(who.UserID, 10)
			}

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(window.Seconds()))))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded", "RateLimitError")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the caller's address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LocalLimiter is an in-process domain.RateLimiter with one token bucket per
// key, used when Redis is disabled. Buckets idle for longer than ten windows
// are evicted.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLocalLimiter creates a LocalLimiter whose Wait uses limit per window.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *LocalLimiter) bucket(key string, limit int, window time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.buckets) > 4096 {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > 10*window {
				delete(l.buckets, k)
			}
		}
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// Allow reports whether one more request under key fits the budget.
func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	return l.bucket(key, limit, window).AllowN(l.now(), 1), nil
}

// Wait blocks until the key has budget under the default limit.
func (l *LocalLimiter) Wait(ctx context.Context, key string) error {
	if l.limit <= 0 || l.window <= 0 {
		return nil
	}
	return l.bucket(key, l.limit, l.window).Wait(ctx)
}

var _ domain.RateLimiter = (*LocalLimiter)(nil)
