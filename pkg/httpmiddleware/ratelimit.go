package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of a Limiter call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts a request against key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Max is reported in X-RateLimit-Limit.
	Max int
	// KeyFunc extracts the client key. Defaults to RemoteKey.
	KeyFunc func(*http.Request) string
}

// RateLimit rejects requests over the limit with 429 and the API error body.
// Limiter failures let the request through.
func RateLimit(l Limiter, cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = RemoteKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := l.Allow(r.Context(), keyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := max(d.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RemoteKey keys by the connection's remote IP. Client-supplied headers are
// ignored, so rotating them does not yield a fresh bucket.
func RemoteKey(r *http.Request) string {
	return "ip:" + remoteIP(r)
}

// ProxyKey keys by the X-User-ID header when present, otherwise by the client
// IP from X-Forwarded-For, X-Real-IP or RemoteAddr. Use it only behind a
// proxy that sets these headers and strips client-supplied ones.
func ProxyKey(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get("X-User-ID")); uid != "" {
		return "user:" + uid
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return "ip:" + xri
	}
	return RemoteKey(r)
}

// KeyFunc returns ProxyKey when proxy headers are trusted and RemoteKey
// otherwise.
func KeyFunc(trustProxyHeaders bool) func(*http.Request) string {
	if trustProxyHeaders {
		return ProxyKey
	}
	return RemoteKey
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// window tracks counts of two adjacent fixed windows.
type window struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

// MemoryLimiter is an in-process sliding window limiter. The previous
// window's count is weighted by how much of it still overlaps the sliding
// window.
type MemoryLimiter struct {
	max    int
	period time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter allows limit requests per key per period.
func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     limit,
		period:  period,
		windows: make(map[string]*window),
	}
}

// Allow implements Limiter. It never fails.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{currStart: now.Truncate(l.period)}
		l.windows[key] = w
	}
	if elapsed := now.Sub(w.currStart); elapsed >= l.period {
		if elapsed >= 2*l.period {
			w.prevCount = 0
		} else {
			w.prevCount = w.currCount
		}
		w.currCount = 0
		w.currStart = now.Truncate(l.period)
	}

	overlap := max(1-now.Sub(w.currStart).Seconds()/l.period.Seconds(), 0)
	effective := w.prevCount*overlap + w.currCount
	resetAt := w.currStart.Add(l.period)

	if effective >= float64(l.max) {
		return Decision{ResetAt: resetAt}, nil
	}
	w.currCount++
	return Decision{
		Allowed:   true,
		Remaining: max(int(float64(l.max)-effective-1), 0),
		ResetAt:   resetAt,
	}, nil
}

// Sweep drops keys idle for two periods.
func (l *MemoryLimiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.currStart) >= 2*l.period {
			delete(l.windows, key)
		}
	}
}

// Run sweeps idle keys every two periods until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}
