package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	apierrors "klips/internal/pkg/errors"
	"klips/internal/platform/config"
)

const (
	LimitRedirect = "redirect"
	LimitAPIRead  = "api_read"
	LimitAPIWrite = "api_write"

	idleTimeout = 10 * time.Minute
)

type bucket struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64
}

// RateLimiter keeps one token bucket per (tenant or client IP, class). Limits
// are per minute with a burst of the full minute.
type RateLimiter struct {
	store  sync.Map // map[string]*bucket
	limits map[string]int
	now    func() time.Time
	stop   chan struct{}
	once   sync.Once
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		limits: map[string]int{
			LimitRedirect: cfg.RedirectPerMinute,
			LimitAPIRead:  cfg.APIReadPerMinute,
			LimitAPIWrite: cfg.APIWritePerMinute,
		},
		now:  time.Now,
		stop: make(chan struct{}),
	}

	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(idleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	cutoff := rl.now().Add(-idleTimeout).UnixNano()
	rl.store.Range(func(key, value interface{}) bool {
		if value.(*bucket).lastAccess.Load() < cutoff {
			rl.store.Delete(key)
		}
		return true
	})
}

// Close stops the idle cleanup.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) Allow(key, class string) bool {
	limit, ok := rl.limits[class]
	if !ok || limit <= 0 {
		limit = 100
	}

	now := rl.now()
	val, _ := rl.store.LoadOrStore(class+":"+key, func() *bucket {
		return &bucket{limiter: rate.NewLimiter(rate.Limit(float64(limit)/60.0), limit)}
	}())

	b := val.(*bucket)
	b.lastAccess.Store(now.UnixNano())
	return b.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) Handle(class string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if tenant := Tenant(r.Context()); tenant != nil {
				key = tenant.OrgID
			}

			if !rl.Allow(key, class) {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				apierrors.WriteError(w, http.StatusTooManyRequests, apierrors.ErrCodeRateLimitExceeded,
					fmt.Sprintf("Rate limit exceeded for %s", class), nil)
				return
			}

			next(w, r)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
