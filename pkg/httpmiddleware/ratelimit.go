package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc extracts the rate limit key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Limiter stores the counters. Defaults to an in-process sliding window.
	Limiter Limiter
}

func (c *RateLimitConfig) setDefaults() {
	if c.KeyFunc == nil {
		c.KeyFunc = ClientIP
	}
	if c.Limiter == nil {
		c.Limiter = NewWindowLimiter(c.Max, c.Window)
	}
}

// RateLimit rejects requests over cfg.Max per cfg.Window with 429. Every
// response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. A failing Limiter lets the request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	cfg.setDefaults()
	return rateLimit(cfg)
}

// RateLimitWithCleanup is RateLimit with the default in-process limiter
// evicting stale keys until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil {
		wl := NewWindowLimiter(cfg.Max, cfg.Window)
		wl.StartCleanup(ctx)
		cfg.Limiter = wl
	}
	cfg.setDefaults()
	return rateLimit(cfg)
}

func rateLimit(cfg RateLimitConfig) Middleware {
	limit := strconv.Itoa(cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := cfg.Limiter.Allow(r.Context(), cfg.KeyFunc(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				wait := max(time.Until(d.ResetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSONError writes the {"code","message"} error body used by the API.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// KeyByHeader keys requests by a digest of the named header, falling back to
// ClientIP when it is absent. Raw header values are never stored.
func KeyByHeader(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		v := r.Header.Get(name)
		if v == "" {
			return "ip:" + ClientIP(r)
		}
		sum := sha256.Sum256([]byte(v))
		return "key:" + hex.EncodeToString(sum[:12])
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
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
