package shield

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Rule limits requests whose path starts with Prefix to Max per Window for
// each client IP.
type Rule struct {
	Prefix string
	Max    int
	Window time.Duration
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP fixed-window rate limiting. The first rule
// whose prefix matches the request path applies; unmatched paths pass.
type RateLimiter struct {
	rules   []Rule
	buckets sync.Map
	now     func() time.Time
}

func NewRateLimiter(rules ...Rule) *RateLimiter {
	return &RateLimiter{rules: rules, now: time.Now}
}

// StartGC drops expired buckets every interval until ctx is done.
func (rl *RateLimiter) StartGC(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) rule(path string) (Rule, bool) {
	for _, r := range rl.rules {
		if strings.HasPrefix(path, r.Prefix) && r.Max > 0 && r.Window > 0 {
			return r, true
		}
	}
	return Rule{}, false
}

func (rl *RateLimiter) allow(ip string, rule Rule) bool {
	now := rl.now()
	val, _ := rl.buckets.LoadOrStore(ip+"|"+rule.Prefix, &bucket{resetAt: now.Add(rule.Window)})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(rule.Window)
	}
	b.count++
	return b.count <= rule.Max
}

// Middleware answers 429 with a JSON error once a client exceeds its rule.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule, ok := rl.rule(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ip := ExtractIP(r)
		if rl.allow(ip, rule) {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "prefix", rule.Prefix)
		w.Header().Set("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

