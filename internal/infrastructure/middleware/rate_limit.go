package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"proctorsfu/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*rate.Limiter),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burstSize)
		s.limiters[key] = limiter
	}
	return limiter
}

// clientIP extracts the IP part from the request's remote address.
func clientIP(r *http.Request) string {
	// Try X-Forwarded-For first (behind proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := net.ParseIP(xff)
		if parts != nil {
			return parts.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware returns Gin middleware that applies simple IP-based rate limiting.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := cfg.RateLimiting.HTTP.RequestsPerSecond
	burst := cfg.RateLimiting.HTTP.Burst

	store := newRateLimiterStore(rate.Limit(rps), burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		// Global concurrent requests throttling
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		ip := clientIP(c.Request)
		limiter := store.getLimiter(ip)
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int(time.Second),
			})
			return
		}
		c.Next()
	}
}

// WSConnectionGuard throttles new signaling connection attempts per client IP
// and caps the number of concurrently upgraded sessions. It runs before the
// WebSocket upgrade, so rejections are plain HTTP responses.
type WSConnectionGuard struct {
	store     *rateLimiterStore
	globalSem chan struct{}
	enabled   bool
}

func NewWSConnectionGuard(cfg *config.Config) *WSConnectionGuard {
	g := &WSConnectionGuard{enabled: cfg.RateLimiting.Enabled}
	if !g.enabled {
		return g
	}

	perMinute := cfg.RateLimiting.WebSocket.ConnectionsPerMinute
	g.store = newRateLimiterStore(rate.Limit(float64(perMinute)/60.0), perMinute)

	if cfg.RateLimiting.WebSocket.MaxConcurrent > 0 {
		g.globalSem = make(chan struct{}, cfg.RateLimiting.WebSocket.MaxConcurrent)
	}
	return g
}

// Allow reports whether a new connection from this request may proceed.
// When it returns true and the guard caps concurrency, the caller must
// invoke the returned release function once the connection ends.
func (g *WSConnectionGuard) Allow(r *http.Request) (release func(), ok bool) {
	if !g.enabled {
		return func() {}, true
	}

	if !g.store.getLimiter(clientIP(r)).Allow() {
		return nil, false
	}

	if g.globalSem == nil {
		return func() {}, true
	}

	select {
	case g.globalSem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-g.globalSem })
		}, true
	default:
		return nil, false
	}
}

// Middleware adapts the guard for Gin routes that perform the upgrade.
// The release function is stored in the context for the handler to defer.
func (g *WSConnectionGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		release, ok := g.Allow(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many connection attempts",
			})
			return
		}
		c.Set("ws_release", release)
		c.Next()
	}
}
