package main

import (
	"bytes"
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/auth"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
	"github.com/Annany2002/nebula-gateway/internal/storage"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.ConnectMetadataDB(&config.Config{
		JWTSecret: "test", JWTExpiration: time.Minute, MetadataDbDir: t.TempDir(), MetadataDbFile: "meta.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func runOK(t *testing.T, db *sql.DB, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), db, args, &out), out.String())
	return out.String()
}

func TestBootstrapFlow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	out := runOK(t, db, "add-admin", "-username", "root", "-email", "root@example.com", "-password", "s3cret!")
	assert.Equal(t, "admin_user_id=1\n", out)
	admin, err := storage.FindAdminUser(ctx, db, "root@example.com")
	require.NoError(t, err)
	assert.True(t, auth.CheckPasswordHash("s3cret!", admin.PasswordHash))

	out = runOK(t, db, "add-database", "-name", "shop", "-engine", "sqlite3", "-file", "data/shop.db")
	assert.Equal(t, "database_id=1\n", out)
	desc, err := storage.FindDatabaseDescriptor(ctx, db, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EngineSQLite, desc.Engine)
	assert.Equal(t, "data/shop.db", desc.FilePath)

	out = runOK(t, db, "issue-key", "-name", "mobile", "-rate-limit", "100")
	m := regexp.MustCompile(`(?m)^api_key=(\S+)$`).FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	key, err := storage.FindAPIKeyByHash(ctx, db, auth.HashAPIKey(m[1]))
	require.NoError(t, err)
	assert.Equal(t, "mobile", key.Name)
	assert.Equal(t, 100, key.RateLimit)

	out = runOK(t, db, "grant", "-key-id", "1", "-database-id", "1", "-table", "orders", "-read", "-update", "-ips", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "permission_rule_id=1\n", out)
	rules, err := storage.ListPermissionRules(ctx, db, 1, 1)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "orders", rules[0].TableName)
	assert.True(t, rules[0].CanRead)
	assert.True(t, rules[0].CanUpdate)
	assert.False(t, rules[0].CanDelete)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, rules[0].AllowedIPs)
}

func TestCommandErrors(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"no command", nil, errUsage},
		{"admin without password", []string{"add-admin", "-username", "a", "-email", "a@example.com"}, errUsage},
		{"sqlite without file", []string{"add-database", "-name", "x"}, errUsage},
		{"postgres without host", []string{"add-database", "-name", "x", "-engine", "postgres"}, errUsage},
		{"key without name", []string{"issue-key"}, errUsage},
		{"negative rate limit", []string{"issue-key", "-name", "k", "-rate-limit", "-1"}, errUsage},
		{"grant without ids", []string{"grant", "-read"}, errUsage},
		{"grant on unknown database", []string{"grant", "-key-id", "1", "-database-id", "99"}, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.ErrorIs(t, run(ctx, db, tt.args, &out), tt.want)
		})
	}

	var out bytes.Buffer
	assert.Error(t, run(ctx, db, []string{"drop-everything"}, &out))
	assert.Contains(t, out.String(), "usage: nebulactl")
	assert.Error(t, run(ctx, db, []string{"add-database", "-name", "x", "-engine", "oracle"}, &out))
}
