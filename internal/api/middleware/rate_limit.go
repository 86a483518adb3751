package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"keygate/internal/pkg/errors"
	"keygate/internal/platform/config"
)

type RateLimiter struct {
	store  *sync.Map // map[string]*Bucket
	limits map[string]int
}

type Bucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
	lastAccess time.Time
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	limits := map[string]int{
		"activate": cfg.ActivatePerMinute,
		"verify":   cfg.VerifyPerMinute,
		"admin":    cfg.AdminPerMinute,
	}
	for k, v := range limits {
		if v <= 0 {
			limits[k] = 60
		}
	}

	rl := &RateLimiter{
		store:  &sync.Map{},
		limits: limits,
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.store.Range(func(key, value interface{}) bool {
			bucket := value.(*Bucket)
			bucket.mu.Lock()
			if now.Sub(bucket.lastAccess) > 10*time.Minute {
				rl.store.Delete(key)
			}
			bucket.mu.Unlock()
			return true
		})
	}
}

func (rl *RateLimiter) Allow(key string, limit int) bool {
	now := time.Now()

	val, _ := rl.store.LoadOrStore(key, &Bucket{
		tokens:     limit,
		lastRefill: now,
		lastAccess: now,
	})

	bucket := val.(*Bucket)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.lastAccess = now

	// Refill at limit per minute.
	elapsed := now.Sub(bucket.lastRefill)
	refillRate := float64(limit) / 60.0
	refillTokens := int(elapsed.Seconds() * refillRate)

	if refillTokens > 0 {
		if bucket.tokens+refillTokens > limit {
			bucket.tokens = limit
		} else {
			bucket.tokens += refillTokens
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}

	return false
}

// Limit buckets requests per client IP and limit type.
func (rl *RateLimiter) Limit(limitType string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			key := fmt.Sprintf("%s:%s", ip, limitType)

			limit, ok := rl.limits[limitType]
			if !ok {
				limit = 60
			}

			if !rl.Allow(key, limit) {
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimited, "Rate limit exceeded", nil)
				return
			}

			next(w, r)
		}
	}
}
