// internal/storage/apikey_repo.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Annany2002/nebula-gateway/internal/domain"
)

// --- API Key Operations ---

// CreateAPIKey stores a key by prefix and SHA-256 hash. The secret itself is never persisted.
func CreateAPIKey(ctx context.Context, db DBTX, name, prefix, keyHash string, rateLimit int) (*domain.APIKey, error) {
	sqlStatement := `INSERT INTO api_keys (name, key_prefix, key_hash, rate_limit) VALUES (?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, sqlStatement, name, prefix, keyHash, rateLimit)
	if err != nil {
		customLog.Warnf("Storage: Failed to insert api key '%s': %v", name, err)
		return nil, fmt.Errorf("database error storing api key: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve api key ID after creation: %w", err)
	}
	return &domain.APIKey{ID: id, Name: name, KeyPrefix: prefix, KeyHash: keyHash, IsActive: true, RateLimit: rateLimit}, nil
}

// FindAPIKeyByHash resolves a presented key by the hash of its secret.
func FindAPIKeyByHash(ctx context.Context, db DBTX, keyHash string) (*domain.APIKey, error) {
	sqlStatement := `SELECT id, name, key_prefix, key_hash, is_active, rate_limit, created_at
		FROM api_keys WHERE key_hash = ? LIMIT 1`
	var key domain.APIKey
	err := db.QueryRowContext(ctx, sqlStatement, keyHash).Scan(&key.ID, &key.Name, &key.KeyPrefix, &key.KeyHash,
		&key.IsActive, &key.RateLimit, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		customLog.Warnf("Storage: Failed to look up api key: %v", err)
		return nil, fmt.Errorf("database error finding api key: %w", err)
	}
	return &key, nil
}

// SetAPIKeyActive activates or revokes a key without deleting its rules.
func SetAPIKeyActive(ctx context.Context, db DBTX, id int64, active bool) error {
	result, err := db.ExecContext(ctx, `UPDATE api_keys SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("database error updating api key: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// --- Permission Rule Operations ---

// CreatePermissionRule stores a rule. An empty TableName is stored as NULL (wildcard).
func CreatePermissionRule(ctx context.Context, db DBTX, rule *domain.PermissionRule) (int64, error) {
	ips := rule.AllowedIPs
	if ips == nil {
		ips = []string{}
	}
	encodedIPs, err := json.Marshal(ips)
	if err != nil {
		return 0, fmt.Errorf("failed to encode allowed ips: %w", err)
	}
	var tableName sql.NullString
	if rule.TableName != "" {
		tableName = sql.NullString{String: rule.TableName, Valid: true}
	}

	sqlStatement := `INSERT INTO permission_rules
		(api_key_id, database_id, table_name, can_read, can_create, can_update, can_delete, allowed_ips)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, sqlStatement, rule.APIKeyID, rule.DatabaseID, tableName,
		rule.CanRead, rule.CanCreate, rule.CanUpdate, rule.CanDelete, string(encodedIPs))
	if err != nil {
		customLog.Warnf("Storage: Failed to insert permission rule for key %d: %v", rule.APIKeyID, err)
		return 0, fmt.Errorf("database error storing permission rule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	rule.ID = id
	return id, nil
}

// ListPermissionRules returns every rule of a key on one database, ordered by id.
func ListPermissionRules(ctx context.Context, db DBTX, apiKeyID, databaseID int64) ([]domain.PermissionRule, error) {
	sqlStatement := `SELECT id, api_key_id, database_id, table_name, can_read, can_create, can_update, can_delete, allowed_ips
		FROM permission_rules WHERE api_key_id = ? AND database_id = ? ORDER BY id`
	rows, err := db.QueryContext(ctx, sqlStatement, apiKeyID, databaseID)
	if err != nil {
		customLog.Warnf("Storage: Failed to list permission rules for key %d: %v", apiKeyID, err)
		return nil, fmt.Errorf("database error listing permission rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.PermissionRule
	for rows.Next() {
		var (
			rule       domain.PermissionRule
			tableName  sql.NullString
			allowedIPs sql.NullString
		)
		if err := rows.Scan(&rule.ID, &rule.APIKeyID, &rule.DatabaseID, &tableName,
			&rule.CanRead, &rule.CanCreate, &rule.CanUpdate, &rule.CanDelete, &allowedIPs); err != nil {
			return nil, fmt.Errorf("failed to scan permission rule: %w", err)
		}
		rule.TableName = tableName.String
		if allowedIPs.Valid && allowedIPs.String != "" {
			if err := json.Unmarshal([]byte(allowedIPs.String), &rule.AllowedIPs); err != nil {
				// A corrupt allow-list must never widen access.
				customLog.Warnf("Storage: Permission rule %d has unreadable allowed_ips %q: %v", rule.ID, allowedIPs.String, err)
				rule.AllowedIPs = []string{""}
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
