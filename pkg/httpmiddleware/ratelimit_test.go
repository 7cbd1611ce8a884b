package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func get(h http.Handler, mutate func(r *http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for range 2 {
		w := get(h, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := get(h, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var (
		code int
		msg  string
	)
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			code, err = d.Int()
		case "message":
			msg, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", msg)
}

func TestRateLimitKeys(t *testing.T) {
	tests := []struct {
		name    string
		keyFunc func(*http.Request) string
		first   func(r *http.Request)
		second  func(r *http.Request)
		limited bool
	}{
		{
			name:   "different remote addresses",
			first:  func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1" },
			second: func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1" },
		},
		{
			name:    "same forwarded client behind different proxies",
			first:   func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1"; r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18") },
			second:  func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1"; r.Header.Set("X-Forwarded-For", "203.0.113.50") },
			limited: true,
		},
		{
			name:    "same api key from different addresses",
			keyFunc: KeyByHeader("X-API-Key"),
			first:   func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1"; r.Header.Set("X-API-Key", "key-a") },
			second:  func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1"; r.Header.Set("X-API-Key", "key-a") },
			limited: true,
		},
		{
			name:    "different api keys from one address",
			keyFunc: KeyByHeader("X-API-Key"),
			first:   func(r *http.Request) { r.Header.Set("X-API-Key", "key-a") },
			second:  func(r *http.Request) { r.Header.Set("X-API-Key", "key-b") },
		},
		{
			name:    "key header absent falls back to address",
			keyFunc: KeyByHeader("X-API-Key"),
			limited: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, KeyFunc: tt.keyFunc})(okHandler())

			require.Equal(t, http.StatusOK, get(h, tt.first).Code)
			want := http.StatusOK
			if tt.limited {
				want = http.StatusTooManyRequests
			}
			assert.Equal(t, want, get(h, tt.second).Code)
		})
	}
}

func TestKeyByHeaderHidesValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "super-secret")
	key := KeyByHeader("X-API-Key")(req)
	assert.NotContains(t, key, "super-secret")
	assert.Equal(t, key, KeyByHeader("X-API-Key")(req))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, time.Time) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, Limiter: failingLimiter{}})(okHandler())
	for range 3 {
		assert.Equal(t, http.StatusOK, get(h, nil).Code)
	}
}

func TestWindowLimiterSlides(t *testing.T) {
	ctx := context.Background()
	l := NewWindowLimiter(4, time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := range 4 {
		d, err := l.Allow(ctx, "k", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.True(t, d.Allowed)
		assert.Equal(t, 3-i, d.Remaining)
		assert.Equal(t, base.Add(time.Minute), d.ResetAt)
	}
	d, err := l.Allow(ctx, "k", base.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// A quarter into the next window three of the four old requests still
	// count.
	d, err = l.Allow(ctx, "k", base.Add(75*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.Allow(ctx, "k", base.Add(75*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.Allow(ctx, "k", base.Add(105*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Two idle windows reset the key.
	d, err = l.Allow(ctx, "k", base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestWindowLimiterEvicts(t *testing.T) {
	l := NewWindowLimiter(1, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err := l.Allow(context.Background(), "k", now)
	require.NoError(t, err)

	l.evict(now.Add(time.Minute))
	assert.Len(t, l.byKey, 1)
	l.evict(now.Add(2 * time.Minute))
	assert.Empty(t, l.byKey)
}
