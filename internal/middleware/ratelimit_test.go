package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(2, 2) // 2 requests per second, burst of 2

	router := gin.New()
	router.Use(RateLimit(rl))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// First two requests should succeed
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	// Third request should be rate limited
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

// TestRateLimiter_CleanupEvictsIdleKeys is the regression case for the
// unbounded limiters map: a key not seen since before idleTTL must be
// dropped so sustained traffic from many distinct IPs/users doesn't leak
// memory forever.
func TestRateLimiter_CleanupEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(2, 2)
	rl.idleTTL = time.Minute // a key untouched for over a minute counts as idle

	rl.getLimiter("ip:1.2.3.4")
	rl.getLimiter("ip:5.6.7.8")
	assert.Len(t, rl.limiters, 2)

	// Backdate lastSeen so both keys are past idleTTL, then refresh one of
	// them via getLimiter before the sweep.
	rl.mu.Lock()
	for _, e := range rl.limiters {
		e.lastSeen = time.Now().Add(-time.Hour)
	}
	rl.mu.Unlock()
	rl.getLimiter("ip:1.2.3.4")

	rl.evictIdle(time.Now())

	rl.mu.RLock()
	_, stillPresent := rl.limiters["ip:1.2.3.4"]
	_, evicted := rl.limiters["ip:5.6.7.8"]
	rl.mu.RUnlock()
	assert.True(t, stillPresent)
	assert.False(t, evicted)
}
