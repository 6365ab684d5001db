// Package schema joins live table introspection with the admin-managed field
// metadata, and resolves the human-readable display field of a table.
package schema

import (
	"context"
	"database/sql"
	"strings"

	"github.com/Annany2002/nebula-gateway/internal/adapter"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
	"github.com/Annany2002/nebula-gateway/internal/logger"
	"github.com/Annany2002/nebula-gateway/internal/storage"
)

var customLog = logger.NewLogger()

// LabelCandidates are the column names treated as a row's display label, in
// priority order. Matching is case-insensitive.
var LabelCandidates = []string{
	"name", "title", "label", "display_name", "full_name", "username",
	"description", "nome", "titulo", "descricao", "email", "code",
}

// Field is one live column with its optional configuration.
type Field struct {
	domain.Column
	Family core.TypeFamily
	Config *domain.FieldConfig
}

// Visible reports whether the field is projected. Unconfigured fields are visible.
func (f *Field) Visible() bool { return f.Config == nil || f.Config.IsVisible }

// Editable reports whether writes may set the field.
func (f *Field) Editable() bool { return f.Config == nil || f.Config.IsEditable }

// Required reports whether inserts must carry a value for the field.
func (f *Field) Required() bool { return f.Config != nil && f.Config.IsRequired }

// ForeignKey returns the related table and preferred display field, if configured.
func (f *Field) ForeignKey() (table, displayField string, ok bool) {
	if f.Config == nil || !f.Config.IsForeignKey || f.Config.RelatedTable == "" {
		return "", "", false
	}
	return f.Config.RelatedTable, f.Config.RelatedField, true
}

// Table is the merged view of one table. Field names are the canonical live names.
type Table struct {
	Name       string
	Fields     []*Field
	PrimaryKey string
	byLower    map[string]*Field
}

// Lookup finds a field case-insensitively.
func (t *Table) Lookup(name string) (*Field, bool) {
	f, ok := t.byLower[strings.ToLower(name)]
	return f, ok
}

// Store reads field metadata from the metadata database.
type Store struct {
	metaDB *sql.DB
}

// NewStore returns a Store over the metadata database.
func NewStore(metaDB *sql.DB) *Store {
	return &Store{metaDB: metaDB}
}

// GetFieldConfigs returns the configured fields of one table.
func (s *Store) GetFieldConfigs(ctx context.Context, databaseID int64, table string) ([]domain.FieldConfig, error) {
	return storage.ListFieldConfigs(ctx, s.metaDB, databaseID, table)
}

// CanonicalTable matches a requested table name against the live table list,
// case-insensitively, and returns the name as the database spells it.
func CanonicalTable(ctx context.Context, a adapter.Adapter, requested string) (string, error) {
	if !core.IsValidIdentifier(requested) {
		return "", adapter.ErrTableNotFound
	}
	tables, err := a.IntrospectTables(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range tables {
		if t == requested {
			return t, nil
		}
	}
	for _, t := range tables {
		if strings.EqualFold(t, requested) {
			return t, nil
		}
	}
	return "", adapter.ErrTableNotFound
}

// Describe introspects a table and attaches its field configs. Configs for
// columns that no longer exist are ignored.
func (s *Store) Describe(ctx context.Context, databaseID int64, a adapter.Adapter, requested string) (*Table, error) {
	name, err := CanonicalTable(ctx, a, requested)
	if err != nil {
		return nil, err
	}
	columns, err := a.IntrospectColumns(ctx, name)
	if err != nil {
		return nil, err
	}
	configs, err := s.GetFieldConfigs(ctx, databaseID, name)
	if err != nil {
		return nil, core.Wrap(core.ErrBackend, err, "Failed to load field metadata")
	}

	table := &Table{Name: name, byLower: make(map[string]*Field, len(columns))}
	for _, col := range columns {
		if !core.IsValidIdentifier(col.Name) {
			customLog.Warnf("Schema: Skipping column %q of table %s: not a safe identifier", col.Name, name)
			continue
		}
		f := &Field{Column: col, Family: core.ClassifyType(col.SQLType)}
		table.Fields = append(table.Fields, f)
		table.byLower[strings.ToLower(col.Name)] = f
		if col.IsPrimaryKey && table.PrimaryKey == "" {
			table.PrimaryKey = col.Name
		}
	}
	for i := range configs {
		if f, ok := table.Lookup(configs[i].FieldName); ok {
			f.Config = &configs[i]
		}
	}
	if table.PrimaryKey == "" {
		if f, ok := table.Lookup("id"); ok {
			table.PrimaryKey = f.Name
		} else if len(table.Fields) > 0 {
			table.PrimaryKey = table.Fields[0].Name
		}
	}
	return table, nil
}

// ResolveDisplayField picks the column that labels rows of table. It only
// fails when the table itself cannot be read.
func (s *Store) ResolveDisplayField(ctx context.Context, databaseID int64, a adapter.Adapter, table, preferred string) (string, error) {
	target, err := s.Describe(ctx, databaseID, a, table)
	if err != nil {
		return "", err
	}
	return target.DisplayField(preferred), nil
}

// DisplayField tries in order: the preferred field if it is a live column; a
// configured field whose name is a label candidate; a live column whose name
// is a label candidate; the primary key.
func (t *Table) DisplayField(preferred string) string {
	if preferred != "" {
		if f, ok := t.Lookup(preferred); ok {
			return f.Name
		}
		customLog.Debugf("Schema: Display field %q not found in %s, falling back", preferred, t.Name)
	}

	var configured []string
	for _, f := range t.Fields {
		if f.Config != nil {
			configured = append(configured, f.Name)
		}
	}
	if name, ok := firstCandidate(configured); ok {
		return name
	}

	live := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		live = append(live, f.Name)
	}
	if name, ok := firstCandidate(live); ok {
		return name
	}

	return t.PrimaryKey
}

func firstCandidate(names []string) (string, bool) {
	for _, candidate := range LabelCandidates {
		for _, name := range names {
			if strings.EqualFold(name, candidate) {
				return name, true
			}
		}
	}
	return "", false
}
