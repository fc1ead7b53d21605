package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestLimiterBurstThenDeny(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	key := "203.0.113.7"
	for i := 0; i < 5; i++ {
		if !limiter.Allow(key) {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}
	if limiter.Allow(key) {
		t.Error("Request after burst should be denied")
	}

	// 60/min replenishes one token per second.
	time.Sleep(1100 * time.Millisecond)
	if !limiter.Allow(key) {
		t.Error("Request after replenishment should be allowed")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("203.0.113.7")
	}
	if limiter.Allow("203.0.113.7") {
		t.Error("Exhausted key should be rate limited")
	}
	if !limiter.Allow("198.51.100.9") {
		t.Error("Fresh key should not be rate limited")
	}
}

func TestLimiterReplenishRate(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 600, // 10 per second
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	key := "203.0.113.7"
	if !limiter.Allow(key) {
		t.Error("First request should be allowed")
	}
	if limiter.Allow(key) {
		t.Error("Second immediate request should be denied")
	}

	time.Sleep(110 * time.Millisecond)
	if !limiter.Allow(key) {
		t.Error("Request after replenish interval should be allowed")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         2,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	router := gin.New()
	router.Use(limiter.Middleware())
	router.GET("/v1/sessions", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	do := func() int {
		req := httptest.NewRequest("GET", "/v1/sessions", nil)
		req.RemoteAddr = "203.0.113.7:50000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(); code != http.StatusOK {
		t.Errorf("First request = %d, want 200", code)
	}
	if code := do(); code != http.StatusOK {
		t.Errorf("Second request = %d, want 200", code)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Errorf("Third request = %d, want 429", code)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerMinute != 60 {
		t.Errorf("Expected 60 requests/min, got %d", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("Expected burst size 10, got %d", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("Expected 1 minute cleanup interval, got %v", cfg.CleanupInterval)
	}
}
