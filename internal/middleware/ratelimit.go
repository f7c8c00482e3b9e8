package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	ScopeAnonymous = "anon"
	ScopeUser      = "user"
)

// RateLimitObserver is notified of every throttled request
type RateLimitObserver interface {
	ObserveRateLimited(scope string)
}

// RateLimitConfig sets the per-minute budgets for each caller class
type RateLimitConfig struct {
	AnonPerMinute int
	UserPerMinute int
	Window        time.Duration
	// SkipPaths are exempt from throttling (health checks, metrics scrapes)
	SkipPaths []string
}

// RateLimitMiddleware throttles anonymous callers by client IP and
// authenticated callers by username. It must run after the auth middleware.
type RateLimitMiddleware struct {
	limiter  ratelimit.Limiter
	config   RateLimitConfig
	observer RateLimitObserver
	log      *zap.Logger
	skipMap  map[string]bool
}

// NewRateLimitMiddleware creates the throttle. observer may be nil.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, config RateLimitConfig, observer RateLimitObserver, log *zap.Logger) *RateLimitMiddleware {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	m := &RateLimitMiddleware{
		limiter:  limiter,
		config:   config,
		observer: observer,
		log:      log.Named("ratelimit"),
		skipMap:  make(map[string]bool),
	}
	for _, path := range config.SkipPaths {
		m.skipMap[path] = true
	}
	return m
}

// Wrap wraps an http.Handler with rate limiting
func (m *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipMap[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		scope, key, limit := ScopeAnonymous, "ip:"+clientIP(r), m.config.AnonPerMinute
		if id := IdentityFromContext(r.Context()); id != nil {
			scope, key, limit = ScopeUser, "user:"+id.Username, m.config.UserPerMinute
		}

		res, err := m.limiter.Allow(r.Context(), key, limit, m.config.Window)
		if err != nil {
			// fail open: a limiter outage must not take the API down
			LoggerFor(r.Context(), m.log).Warn("Rate limiter unavailable", zap.String("key", key), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if res.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		if m.observer != nil {
			m.observer.ObserveRateLimited(scope)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
		api.RespondError(w, http.StatusTooManyRequests, api.CodeRateLimited, "Request was throttled")
	})
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// clientIP strips the port from RemoteAddr. Forwarded addresses only reach
// RemoteAddr through RealIP, and only from trusted proxies.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
