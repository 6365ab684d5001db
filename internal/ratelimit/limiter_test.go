package ratelimit

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/storage"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	meta, err := storage.ConnectMetadataDB(&config.Config{
		JWTSecret: "test", JWTExpiration: time.Minute, MetadataDbDir: t.TempDir(), MetadataDbFile: "meta.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	return NewSQLStore(meta)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestAdmitConcurrentNeverExceedsCeiling(t *testing.T) {
	const ceiling = 25
	store := newSQLStore(t)
	clock := &fixedClock{now: time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)}
	limiter := NewLimiter(store, time.Hour).WithClock(clock.Now)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < ceiling; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Admit(context.Background(), 1, ceiling)
			if assert.NoError(t, err) && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(ceiling), allowed.Load())

	res, err := limiter.Admit(context.Background(), 1, ceiling)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 45*time.Minute, res.RetryAfter)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), res.ResetAt)
}

func TestAdmitOverloadedConcurrency(t *testing.T) {
	const ceiling = 10
	limiter := NewLimiter(newSQLStore(t), time.Hour)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Admit(context.Background(), 7, ceiling)
			if assert.NoError(t, err) && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, allowed.Load(), int32(ceiling))
}

func TestAdmitWindowRollover(t *testing.T) {
	store := newSQLStore(t)
	clock := &fixedClock{now: time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)}
	limiter := NewLimiter(store, time.Hour).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Admit(ctx, 3, 2)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1-i, res.Remaining)
	}
	res, err := limiter.Admit(ctx, 3, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	oldWindow := limiter.WindowID(clock.Now())
	clock.Advance(2 * time.Minute)

	res, err = limiter.Admit(ctx, 3, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	stale, err := storage.RateLimitCount(ctx, store.db, 3, oldWindow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stale, "previous window counter should be purged")
}

func TestAdmitKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(newSQLStore(t), time.Hour)
	ctx := context.Background()

	res, err := limiter.Admit(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Admit(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestAdmitWithoutCeiling(t *testing.T) {
	limiter := NewLimiter(newSQLStore(t), time.Hour)
	for i := 0; i < 5; i++ {
		res, err := limiter.Admit(context.Background(), 1, 0)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 0, res.Limit)
	}
}

func TestWindowID(t *testing.T) {
	limiter := NewLimiter(nil, 15*time.Minute)
	a := limiter.WindowID(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := limiter.WindowID(time.Date(2024, 1, 1, 0, 14, 59, 0, time.UTC))
	c := limiter.WindowID(time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC))
	assert.Equal(t, a, b)
	assert.Equal(t, a+1, c)
}

func TestValkeyStore(t *testing.T) {
	addr := os.Getenv("VALKEY_ADDR")
	if addr == "" {
		t.Skip("VALKEY_ADDR not set")
	}
	client, err := NewValkeyClient(addr, os.Getenv("VALKEY_USERNAME"), os.Getenv("VALKEY_PASSWORD"))
	require.NoError(t, err)
	defer client.Close()

	limiter := NewLimiter(NewValkeyStore(client), time.Hour)
	keyID := time.Now().UnixNano()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Admit(context.Background(), keyID, 20)
			if assert.NoError(t, err) && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(20), allowed.Load())
}
