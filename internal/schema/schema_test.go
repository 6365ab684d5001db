package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Annany2002/nebula-gateway/config"
	"github.com/Annany2002/nebula-gateway/internal/adapter"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
	"github.com/Annany2002/nebula-gateway/internal/storage"
)

func setupStore(t *testing.T, ddl ...string) (*Store, *sql.DB, adapter.Adapter, int64) {
	t.Helper()
	dir := t.TempDir()
	meta, err := storage.ConnectMetadataDB(&config.Config{
		JWTSecret: "test", JWTExpiration: time.Minute, MetadataDbDir: dir, MetadataDbFile: "meta.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	desc := &domain.DatabaseDescriptor{Name: "shop", Engine: domain.EngineSQLite, FilePath: filepath.Join(dir, "shop.db")}
	_, err = storage.CreateDatabaseDescriptor(context.Background(), meta, desc)
	require.NoError(t, err)

	a, err := adapter.Open(context.Background(), desc, adapter.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { a.DB().Close() })
	for _, stmt := range ddl {
		_, err := a.DB().Exec(stmt)
		require.NoError(t, err)
	}
	return NewStore(meta), meta, a, desc.ID
}

func configure(t *testing.T, meta *sql.DB, fc domain.FieldConfig) {
	t.Helper()
	require.NoError(t, storage.UpsertFieldConfig(context.Background(), meta, &fc))
}

func TestDescribeMergesConfigs(t *testing.T) {
	store, meta, a, dbID := setupStore(t,
		`CREATE TABLE Products (id INTEGER PRIMARY KEY, Name TEXT, secret TEXT, category_id INTEGER)`)
	configure(t, meta, domain.FieldConfig{DatabaseID: dbID, TableName: "Products", FieldName: "secret", IsVisible: false, IsEditable: false})
	configure(t, meta, domain.FieldConfig{DatabaseID: dbID, TableName: "Products", FieldName: "category_id",
		IsVisible: true, IsEditable: true, IsForeignKey: true, RelatedTable: "categories", RelatedField: "title"})
	configure(t, meta, domain.FieldConfig{DatabaseID: dbID, TableName: "Products", FieldName: "dropped_column", IsVisible: true})

	table, err := store.Describe(context.Background(), dbID, a, "products")
	require.NoError(t, err)

	assert.Equal(t, "Products", table.Name)
	assert.Equal(t, "id", table.PrimaryKey)
	require.Len(t, table.Fields, 4)

	name, ok := table.Lookup("NAME")
	require.True(t, ok)
	assert.Equal(t, "Name", name.Name)
	assert.True(t, name.Visible())
	assert.Equal(t, core.FamilyText, name.Family)

	secret, _ := table.Lookup("secret")
	assert.False(t, secret.Visible())
	assert.False(t, secret.Editable())

	category, _ := table.Lookup("category_id")
	related, field, ok := category.ForeignKey()
	require.True(t, ok)
	assert.Equal(t, "categories", related)
	assert.Equal(t, "title", field)

	_, ok = table.Lookup("dropped_column")
	assert.False(t, ok)

	_, err = store.Describe(context.Background(), dbID, a, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestResolveDisplayField(t *testing.T) {
	store, meta, a, dbID := setupStore(t,
		`CREATE TABLE categories (id INTEGER PRIMARY KEY, name TEXT, title TEXT, slug TEXT)`,
		`CREATE TABLE tags (tag_id INTEGER PRIMARY KEY, Label TEXT)`,
		`CREATE TABLE events (event_id INTEGER PRIMARY KEY, starts_at TEXT)`,
	)
	ctx := context.Background()

	t.Run("preferred live column", func(t *testing.T) {
		got, err := store.ResolveDisplayField(ctx, dbID, a, "categories", "SLUG")
		require.NoError(t, err)
		assert.Equal(t, "slug", got)
	})

	t.Run("preferred missing falls back to introspection", func(t *testing.T) {
		got, err := store.ResolveDisplayField(ctx, dbID, a, "categories", "nope")
		require.NoError(t, err)
		assert.Equal(t, "name", got)
	})

	t.Run("configured candidate beats live candidate", func(t *testing.T) {
		configure(t, meta, domain.FieldConfig{DatabaseID: dbID, TableName: "categories", FieldName: "title", IsVisible: true, IsEditable: true})
		got, err := store.ResolveDisplayField(ctx, dbID, a, "categories", "")
		require.NoError(t, err)
		assert.Equal(t, "title", got)
	})

	t.Run("case-insensitive introspection match", func(t *testing.T) {
		got, err := store.ResolveDisplayField(ctx, dbID, a, "tags", "")
		require.NoError(t, err)
		assert.Equal(t, "Label", got)
	})

	t.Run("primary key fallback", func(t *testing.T) {
		got, err := store.ResolveDisplayField(ctx, dbID, a, "events", "")
		require.NoError(t, err)
		assert.Equal(t, "event_id", got)
	})

	t.Run("unknown table errors", func(t *testing.T) {
		_, err := store.ResolveDisplayField(ctx, dbID, a, "ghosts", "name")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}
