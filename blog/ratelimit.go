package blog

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Subscribe is the only unauthenticated write endpoint, so it gets a
// per-IP token bucket.
const (
	subscribeRate  = rate.Limit(0.5) // one request per two seconds sustained
	subscribeBurst = 5
)

type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

func newIPLimiter() *ipLimiter {
	l := &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
	go l.cleanup()
	return l
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(subscribeRate, subscribeBurst)
		l.limiters[ip] = limiter
	}
	l.lastSeen[ip] = time.Now()
	return limiter
}

func (l *ipLimiter) cleanup() {
	for range time.Tick(10 * time.Minute) {
		l.mu.Lock()
		for ip, seen := range l.lastSeen {
			if time.Since(seen) > 30*time.Minute {
				delete(l.limiters, ip)
				delete(l.lastSeen, ip)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit rejects clients that hammer the subscribe form.
func RateLimit() gin.HandlerFunc {
	limiter := newIPLimiter()
	return func(c *gin.Context) {
		if !limiter.get(c.ClientIP()).Allow() {
			c.String(http.StatusTooManyRequests, "Too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
