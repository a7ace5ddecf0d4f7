package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"proctorsfu/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRateLimit_Disabled_PassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestHTTPRateLimit_EnforcesPerIPLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 2

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Contains(t, codes[2:], http.StatusTooManyRequests)
}

func TestWSConnectionGuard_LimitsConnectionRate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 2

	guard := NewWSConnectionGuard(cfg)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.2:1234"

	release1, ok := guard.Allow(req)
	require.True(t, ok)
	release2, ok := guard.Allow(req)
	require.True(t, ok)
	_, ok = guard.Allow(req)
	assert.False(t, ok)

	release1()
	release2()
}

func TestWSConnectionGuard_CapsConcurrentSessions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 100
	cfg.RateLimiting.WebSocket.MaxConcurrent = 1

	guard := NewWSConnectionGuard(cfg)

	first := httptest.NewRequest(http.MethodGet, "/ws", nil)
	first.RemoteAddr = "10.0.0.3:1234"
	second := httptest.NewRequest(http.MethodGet, "/ws", nil)
	second.RemoteAddr = "10.0.0.4:1234"

	release, ok := guard.Allow(first)
	require.True(t, ok)

	_, ok = guard.Allow(second)
	assert.False(t, ok, "second session should be rejected while the first holds the slot")

	release()
	release() // releasing twice must not free a second slot

	release2, ok := guard.Allow(second)
	require.True(t, ok)
	release2()
}
