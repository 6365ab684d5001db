// internal/storage/ratelimit_repo.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IncrementRateLimitCounter bumps the counter of (apiKeyID, windowID) and
// returns the new count. The increment and the read are one UPSERT statement,
// so concurrent callers, including other processes sharing the file, each
// observe a distinct count. Opening a window (count 1) also drops the key's
// counters from earlier windows.
func IncrementRateLimitCounter(ctx context.Context, db *sql.DB, apiKeyID, windowID int64, windowStart time.Time) (int64, error) {
	var count int64
	err := WithTx(ctx, db, func(ctx context.Context, tx DBTX) error {
		sqlStatement := `INSERT INTO rate_limit_counters (api_key_id, window_id, request_count, window_start)
			VALUES (?, ?, 1, ?)
			ON CONFLICT (api_key_id, window_id) DO UPDATE SET request_count = request_count + 1
			RETURNING request_count`
		if err := tx.QueryRowContext(ctx, sqlStatement, apiKeyID, windowID, windowStart.UTC()).Scan(&count); err != nil {
			return err
		}
		if count == 1 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM rate_limit_counters WHERE api_key_id = ? AND window_id < ?`, apiKeyID, windowID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		customLog.Warnf("Storage: Failed to increment rate limit counter for key %d: %v", apiKeyID, err)
		return 0, fmt.Errorf("database error incrementing rate limit counter: %w", err)
	}
	return count, nil
}

// RateLimitCount reads a counter without touching it. Missing counters read as 0.
func RateLimitCount(ctx context.Context, db DBTX, apiKeyID, windowID int64) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx,
		`SELECT request_count FROM rate_limit_counters WHERE api_key_id = ? AND window_id = ?`,
		apiKeyID, windowID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}
