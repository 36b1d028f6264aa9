package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingLimiter struct {
	counts map[string]int
	err    error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, int, error) {
	if l.err != nil {
		return false, 0, l.err
	}
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	if l.counts[key] >= limit {
		return false, 0, nil
	}
	l.counts[key]++
	return true, limit - l.counts[key], nil
}

func serve(r *gin.Engine, clientID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	if clientID != "" {
		req.Header.Set(ClientIDHeader, clientID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_PerClient(t *testing.T) {
	limiter := &countingLimiter{}
	r := gin.New()
	r.POST("/submit", RateLimit(RateLimitConfig{Enabled: true, Limit: 2, Window: time.Minute}, limiter), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	assert.Equal(t, http.StatusAccepted, serve(r, "a").Code)
	w := serve(r, "a")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "a").Code)

	assert.Equal(t, http.StatusAccepted, serve(r, "b").Code, "limits are tracked per client")
	assert.Contains(t, limiter.counts, "ratelimit:a")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := gin.New()
	r.POST("/submit", RateLimit(RateLimitConfig{Enabled: true}, &countingLimiter{err: errors.New("redis down")}), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	assert.Equal(t, http.StatusAccepted, serve(r, "a").Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	limiter := &countingLimiter{}
	r := gin.New()
	r.POST("/submit", RateLimit(RateLimitConfig{Enabled: false, Limit: 1}, limiter), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	for n := 0; n < 3; n++ {
		assert.Equal(t, http.StatusAccepted, serve(r, "a").Code)
	}
	assert.Empty(t, limiter.counts)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Body.String())
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Len(t, w.Body.String(), 36)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/", func(*gin.Context) { panic("kaboom") })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-panic")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"request_id":"req-panic"`)
}
