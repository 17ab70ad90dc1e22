package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	h := chimiddleware.RequestID(Logger(logger)(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/r/execute", nil)
	req.Header.Set(chimiddleware.RequestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	out := buf.String()
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Contains(t, out, "requestId=req-42")
	assert.Contains(t, out, "method=POST")
	assert.Contains(t, out, "path=/api/rooms/r/execute")
	assert.Contains(t, out, "status=418")
	assert.Contains(t, out, "bytes=15")
}

func TestLogger_QuietPaths(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := Logger(logger)(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Empty(t, buf.String())
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(0, 1, 2)
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "burst of 2 is exhausted")

	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own bucket")
}

func TestRateLimiter_ThrottledClientKeepsGlobalBudget(t *testing.T) {
	rl := NewRateLimiter(1, 0.001, 1)
	defer rl.Stop()

	allowed := 0
	for range 20 {
		if rl.Allow("10.0.0.1") {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed)

	assert.True(t, rl.Allow("10.0.0.2"), "requests rejected per IP must not consume global tokens")
}

func TestRateLimiter_Global(t *testing.T) {
	rl := NewRateLimiter(1, 0, 1)
	defer rl.Stop()

	// Global burst is max(burst, 2*rps) = 2.
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("c"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(0, 1, 1)
	defer rl.Stop()
	h := rl.Middleware(okHandler())

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/rooms/r/execute", nil)
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusTeapot, send("192.0.2.1:1234").Code)

	// Same host, different port: still the same client.
	rr := send("192.0.2.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "rate_limited")

	assert.Equal(t, http.StatusTeapot, send("192.0.2.2:1234").Code)
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(0, 10, 10)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	assert.Equal(t, 2, rl.clientCount())

	time.Sleep(20 * time.Millisecond)
	rl.Allow("b")
	rl.evictIdle(10 * time.Millisecond)

	assert.Equal(t, 1, rl.clientCount())
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1)
	rl.StartCleanup(time.Millisecond, time.Minute)
	rl.Stop()
	rl.Stop()
}
