package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
)

func testDBSetup(t *testing.T) *sql.DB {
	t.Helper()
	db, err := ConnectMetadataDB(&config.Config{
		JWTSecret:      "test",
		JWTExpiration:  time.Minute,
		MetadataDbDir:  t.TempDir(),
		MetadataDbFile: "test_metadata.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := testDBSetup(t)
	require.NoError(t, RunMigrations(context.Background(), db))
}

func TestDatabaseDescriptors(t *testing.T) {
	db := testDBSetup(t)
	ctx := context.Background()

	project := int64(42)
	id, err := CreateDatabaseDescriptor(ctx, db, &domain.DatabaseDescriptor{
		Name: "warehouse", Engine: domain.EnginePostgres, Host: "db.internal", Port: 5432,
		Username: "svc", Password: "secret", DBName: "wh", SchemaName: "inventory", ProjectID: &project,
	})
	require.NoError(t, err)

	d, err := FindDatabaseDescriptor(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, domain.EnginePostgres, d.Engine)
	assert.Equal(t, "db.internal", d.Host)
	assert.Equal(t, 5432, d.Port)
	assert.Equal(t, "inventory", d.SchemaName)
	require.NotNil(t, d.ProjectID)
	assert.Equal(t, int64(42), *d.ProjectID)

	_, err = FindDatabaseDescriptor(ctx, db, id+1)
	assert.ErrorIs(t, err, ErrDatabaseNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAdminUsers(t *testing.T) {
	db := testDBSetup(t)
	ctx := context.Background()

	id, err := CreateAdminUser(ctx, db, "root", "root@example.com", "hash")
	require.NoError(t, err)

	_, err = CreateAdminUser(ctx, db, "root", "other@example.com", "hash")
	assert.ErrorIs(t, err, ErrAdminExists)

	byName, err := FindAdminUser(ctx, db, "root")
	require.NoError(t, err)
	byEmail, err := FindAdminUser(ctx, db, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)
	assert.Equal(t, id, byEmail.ID)
	assert.True(t, byName.IsActive)

	_, err = FindAdminUserByID(ctx, db, id+10)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestAPIKeysAndRules(t *testing.T) {
	db := testDBSetup(t)
	ctx := context.Background()

	dbID, err := CreateDatabaseDescriptor(ctx, db, &domain.DatabaseDescriptor{Name: "shop", Engine: domain.EngineSQLite, FilePath: "shop.db"})
	require.NoError(t, err)

	key, err := CreateAPIKey(ctx, db, "mobile", "neb_abcdefgh", "deadbeef", 50)
	require.NoError(t, err)

	found, err := FindAPIKeyByHash(ctx, db, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, key.ID, found.ID)
	assert.Equal(t, 50, found.RateLimit)
	assert.True(t, found.IsActive)

	_, err = FindAPIKeyByHash(ctx, db, "missing")
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)

	require.NoError(t, SetAPIKeyActive(ctx, db, key.ID, false))
	found, err = FindAPIKeyByHash(ctx, db, "deadbeef")
	require.NoError(t, err)
	assert.False(t, found.IsActive)
	assert.ErrorIs(t, SetAPIKeyActive(ctx, db, key.ID+1, true), ErrAPIKeyNotFound)

	_, err = CreatePermissionRule(ctx, db, &domain.PermissionRule{APIKeyID: key.ID, DatabaseID: dbID, CanRead: true})
	require.NoError(t, err)
	_, err = CreatePermissionRule(ctx, db, &domain.PermissionRule{
		APIKeyID: key.ID, DatabaseID: dbID, TableName: "orders", CanDelete: true, AllowedIPs: []string{"10.0.0.1", "10.0.0.2"},
	})
	require.NoError(t, err)

	rules, err := ListPermissionRules(ctx, db, key.ID, dbID)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "", rules[0].TableName)
	assert.True(t, rules[0].CanRead)
	assert.Empty(t, rules[0].AllowedIPs)
	assert.Equal(t, "orders", rules[1].TableName)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, rules[1].AllowedIPs)

	t.Run("corrupt allow list never matches", func(t *testing.T) {
		_, err := db.Exec(`UPDATE permission_rules SET allowed_ips = 'not json' WHERE table_name = 'orders'`)
		require.NoError(t, err)
		rules, err := ListPermissionRules(ctx, db, key.ID, dbID)
		require.NoError(t, err)
		assert.Equal(t, []string{""}, rules[1].AllowedIPs)
	})
}

func TestFieldConfigUpsert(t *testing.T) {
	db := testDBSetup(t)
	ctx := context.Background()

	dbID, err := CreateDatabaseDescriptor(ctx, db, &domain.DatabaseDescriptor{Name: "shop", Engine: domain.EngineSQLite, FilePath: "shop.db"})
	require.NoError(t, err)

	fc := &domain.FieldConfig{DatabaseID: dbID, TableName: "products", FieldName: "secret", IsVisible: true, IsEditable: true}
	require.NoError(t, UpsertFieldConfig(ctx, db, fc))
	fc.IsVisible = false
	require.NoError(t, UpsertFieldConfig(ctx, db, fc))
	require.NoError(t, UpsertFieldConfig(ctx, db, &domain.FieldConfig{
		DatabaseID: dbID, TableName: "products", FieldName: "category_id",
		IsVisible: true, IsForeignKey: true, RelatedTable: "categories", RelatedField: "title",
	}))

	configs, err := ListFieldConfigs(ctx, db, dbID, "products")
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "secret", configs[0].FieldName)
	assert.False(t, configs[0].IsVisible)
	assert.True(t, configs[1].IsForeignKey)
	assert.Equal(t, "categories", configs[1].RelatedTable)

	none, err := ListFieldConfigs(ctx, db, dbID, "orders")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRateLimitCounterOpensNewWindow(t *testing.T) {
	db := testDBSetup(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for want := int64(1); want <= 3; want++ {
		got, err := IncrementRateLimitCounter(ctx, db, 7, 100, start)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := IncrementRateLimitCounter(ctx, db, 7, 101, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	stale, err := RateLimitCount(ctx, db, 7, 100)
	require.NoError(t, err)
	assert.Zero(t, stale, "earlier windows are purged")
}

func TestWithTxRollsBack(t *testing.T) {
	db := testDBSetup(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithTx(ctx, db, func(ctx context.Context, tx DBTX) error {
		if _, err := CreateAPIKey(ctx, tx, "tx", "neb_tx", "txhash", 1); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = FindAPIKeyByHash(ctx, db, "txhash")
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)
}
