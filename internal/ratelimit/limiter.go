// Package ratelimit enforces per-API-key request ceilings over fixed
// accounting windows. Counters live in shared storage so every server
// instance sees the same count.
package ratelimit

import (
	"context"
	"time"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/logger"
)

var customLog = logger.NewLogger()

// Store increments the counter of one (key, window) and returns the new
// value. The increment and the read must be a single atomic operation.
type Store interface {
	Increment(ctx context.Context, apiKeyID, windowID int64, windowStart time.Time, ttl time.Duration) (int64, error)
}

// Result is the outcome of one admission attempt. Limit is 0 for keys
// without a ceiling.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter admits requests against a fixed window derived from wall-clock
// time, so concurrent callers agree on the window without coordinating.
type Limiter struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

// NewLimiter returns a limiter with the given accounting window.
func NewLimiter(store Store, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{store: store, window: window, now: time.Now}
}

// WithClock replaces the wall clock.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// WindowID identifies the window containing t.
func (l *Limiter) WindowID(t time.Time) int64 {
	return t.UnixNano() / int64(l.window)
}

func (l *Limiter) windowStart(id int64) time.Time {
	return time.Unix(0, id*int64(l.window)).UTC()
}

// Admit counts one request of apiKeyID and reports whether it is within
// ceiling. Every attempt is counted, including rejected ones, so a key that
// keeps retrying stays rejected until the window ends.
func (l *Limiter) Admit(ctx context.Context, apiKeyID int64, ceiling int) (Result, error) {
	now := l.now()
	id := l.WindowID(now)
	resetAt := l.windowStart(id + 1)

	if ceiling <= 0 {
		return Result{Allowed: true, ResetAt: resetAt}, nil
	}

	count, err := l.store.Increment(ctx, apiKeyID, id, l.windowStart(id), l.window)
	if err != nil {
		return Result{}, core.Wrap(core.ErrBackend, err, "Failed to update rate limit counter")
	}

	res := Result{
		Allowed:   count <= int64(ceiling),
		Limit:     ceiling,
		Remaining: max(0, ceiling-int(count)),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
		customLog.WithField("api_key_id", apiKeyID).
			WithField("window_id", id).
			WithField("count", count).
			Warn("RateLimit: ceiling exceeded")
	}
	return res, nil
}
