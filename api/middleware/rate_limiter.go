package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Annany2002/nebula-gateway/internal/core"
)

// IPThrottle is a per-process flood guard keyed by client IP. It runs before
// authentication and is independent of the per-key quota.
type IPThrottle struct {
	mutex    sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	lastScan time.Time
	now      func() time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPThrottle allows rps requests per second per IP with the given burst.
func NewIPThrottle(rps float64, burst int) *IPThrottle {
	if burst < 1 {
		burst = 1
	}
	return &IPThrottle{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether ip may make another request now.
func (t *IPThrottle) Allow(ip string) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.now()
	if now.Sub(t.lastScan) > t.idleTTL {
		for key, l := range t.limiters {
			if now.Sub(l.lastSeen) > t.idleTTL {
				delete(t.limiters, key)
			}
		}
		t.lastScan = now
	}

	l, ok := t.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// IPThrottleMiddleware rejects callers that exceed their IP's rate with 429.
func IPThrottleMiddleware(t *IPThrottle) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			_ = c.Error(core.Errorf(core.ErrRateLimited, "Too many requests. Please wait."))
			c.Abort()
			return
		}
		c.Next()
	}
}
