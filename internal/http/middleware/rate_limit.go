package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/http/response"
	"github.com/diagnosis/luxsuv-portal/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// Counter counts hits for key in the current window.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Name     string                         // key namespace, e.g. "otp"
	Requests int                            // Max requests per window
	Window   time.Duration                  // Time window duration
	KeyFunc  func(r *http.Request) []string // Function to generate rate limit keys
}

// RateLimiter provides rate limiting functionality
type RateLimiter struct {
	counter Counter
	config  RateLimitConfig
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(counter Counter, config RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIPKey
	}
	return &RateLimiter{counter: counter, config: config}
}

// Middleware returns the rate limiting middleware. A zero request limit
// disables it.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl.config.Requests <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, key := range rl.config.KeyFunc(r) {
			if !rl.allow(r.Context(), key) {
				logger.WarnContext(r.Context(), "Rate limit exceeded", "limiter", rl.config.Name, "path", r.URL.Path)
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rl.config.Window.Seconds()))
				response.WriteError(w, http.StatusTooManyRequests, "Too many requests. Try again later.", response.CodeRateLimit)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// allow fails open when the counter is unavailable.
func (rl *RateLimiter) allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// Hash the key for privacy
	hashedKey := fmt.Sprintf("ratelimit:%s:%x", rl.config.Name, sha256.Sum256([]byte(key)))

	count, err := rl.counter.Hit(ctx, hashedKey, rl.config.Window)
	if err != nil {
		logger.ErrorContext(ctx, "Rate limit counter failed", "limiter", rl.config.Name, "error", err)
		return true
	}
	return count <= int64(rl.config.Requests)
}

// ClientIPKey limits by client address.
func ClientIPKey(r *http.Request) []string {
	if ip := getClientIP(r); ip != "" {
		return []string{"ip:" + ip}
	}
	return nil
}

// FlowKey limits by client address and by the {id} flow, so one flow
// cannot be used to spray OTPs from many addresses.
func FlowKey(r *http.Request) []string {
	keys := ClientIPKey(r)
	if id := chi.URLParam(r, "id"); id != "" {
		keys = append(keys, "flow:"+id)
	}
	return keys
}

// getClientIP extracts the real client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP if there are multiple
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RedisCounter keeps fixed windows in redis so limits hold across portal
// instances.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// MemoryCounter is the single-instance counter.
type MemoryCounter struct {
	now func() time.Time

	mu      sync.Mutex
	windows map[string]memoryWindow
}

type memoryWindow struct {
	count   int64
	expires time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{now: time.Now, windows: make(map[string]memoryWindow)}
}

func (c *MemoryCounter) Hit(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.expires) {
		w = memoryWindow{expires: now.Add(window)}
	}
	w.count++
	c.windows[key] = w

	if len(c.windows) > 10000 {
		for k, v := range c.windows {
			if !now.Before(v.expires) {
				delete(c.windows, k)
			}
		}
	}
	return w.count, nil
}
