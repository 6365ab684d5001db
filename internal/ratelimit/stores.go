package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/Annany2002/nebula-gateway/internal/storage"
)

// SQLStore keeps counters in the metadata database's rate_limit_counters table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore returns a store over the metadata database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Increment(ctx context.Context, apiKeyID, windowID int64, windowStart time.Time, _ time.Duration) (int64, error) {
	return storage.IncrementRateLimitCounter(ctx, s.db, apiKeyID, windowID, windowStart)
}

const keyPrefix = "rate_limit:api_key:"

// incrementLuaScript increments the window counter and sets its expiry when
// the window opens, in one server-side step.
const incrementLuaScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

// ValkeyStore keeps counters in Valkey. Expired windows are dropped by the server.
type ValkeyStore struct {
	client valkey.Client
}

// NewValkeyClient connects to Valkey.
func NewValkeyClient(addr, username, password string) (valkey.Client, error) {
	return valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Username:    username,
		Password:    password,
	})
}

// NewValkeyStore returns a store over an existing client.
func NewValkeyStore(client valkey.Client) *ValkeyStore {
	return &ValkeyStore{client: client}
}

func (s *ValkeyStore) Increment(ctx context.Context, apiKeyID, windowID int64, _ time.Time, ttl time.Duration) (int64, error) {
	key := fmt.Sprintf("%s%d:%d", keyPrefix, apiKeyID, windowID)
	// Keep the key a little past its window so late requests still land on it.
	expiry := (ttl + time.Minute).Milliseconds()

	result := s.client.Do(ctx, s.client.B().Eval().
		Script(incrementLuaScript).
		Numkeys(1).
		Key(key).
		Arg(fmt.Sprintf("%d", expiry)).
		Build())
	if result.Error() != nil {
		return 0, fmt.Errorf("rate limit increment failed: %w", result.Error())
	}
	count, err := result.AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to parse rate limit result: %w", err)
	}
	return count, nil
}
