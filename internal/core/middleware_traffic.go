package core

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sphyra/internal/types"
)

const limiterIdleTTL = 10 * time.Minute

// KeyFunc selects the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the connection's remote host.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// OperatorKey keys requests by the authenticated operator, falling back to
// the client IP. It must run after RequireOperator.
func OperatorKey(r *http.Request) string {
	if op, ok := types.GetOperator(r.Context()); ok {
		return "op:" + op.Subject
	}
	return ClientIP(r)
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter keeps one token bucket per key. Idle buckets are swept by
// Run.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	key     KeyFunc
	now     func() time.Time
}

// NewRateLimiter allows events per interval with the given burst for each
// key.
func NewRateLimiter(events int, interval time.Duration, burst int, key KeyFunc) *RateLimiter {
	if key == nil {
		key = ClientIP
	}
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Every(interval / time.Duration(events)),
		burst:   burst,
		key:     key,
		now:     time.Now,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	if e, ok := rl.entries[key]; ok {
		e.seen = now
		return e.lim
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	rl.entries[key] = &limiterEntry{lim: lim, seen: now}
	return lim
}

// Sweep drops buckets not used within idle.
func (rl *RateLimiter) Sweep(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idle)
	removed := 0
	for k, e := range rl.entries {
		if e.seen.Before(cutoff) {
			delete(rl.entries, k)
			removed++
		}
	}
	return removed
}

// Run sweeps idle buckets every minute until ctx ends.
func (rl *RateLimiter) Run(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.Sweep(limiterIdleTTL)
		}
	}
}

// Middleware answers 429 with Retry-After once a key exhausts its bucket.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := rl.get(rl.key(r)).ReserveN(rl.now(), 1)
		if delay := res.DelayFrom(rl.now()); delay > 0 {
			res.CancelAt(rl.now())
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "too many requests, please retry later", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
