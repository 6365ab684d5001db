// Package engine turns list, detail and CRUD requests into dialect-correct
// SQL. Only names taken from schema introspection ever reach the SQL text;
// every value is bound.
package engine

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Annany2002/nebula-gateway/internal/adapter"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/logger"
	"github.com/Annany2002/nebula-gateway/internal/schema"
)

var customLog = logger.NewLogger()

var (
	// ErrRecordNotFound is returned when no row matches the requested id.
	ErrRecordNotFound = &core.Error{Kind: core.ErrNotFound, Message: "Record not found"}
	// ErrNoVisibleFields is returned when field metadata hides every column of a table.
	ErrNoVisibleFields = &core.Error{Kind: core.ErrForbidden, Message: "No visible fields in this table"}
)

// baseAlias is the alias of the requested table in every SELECT.
const baseAlias = "t"

// Engine executes requests against one database at a time.
type Engine struct {
	schema *schema.Store
	now    func() time.Time
}

// New returns an engine reading field metadata from store.
func New(store *schema.Store) *Engine {
	return &Engine{schema: store, now: time.Now}
}

// WithClock replaces the clock used to stamp timestamp columns.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Target is the database a request runs against.
type Target struct {
	DatabaseID int64
	Adapter    adapter.Adapter
}

// binder collects bound arguments and hands out the matching placeholders.
type binder struct {
	a    adapter.Adapter
	args []any
}

func (b *binder) bind(v any) string {
	b.args = append(b.args, v)
	return b.a.Placeholder(len(b.args))
}

func column(a adapter.Adapter, alias, name string) string {
	return alias + "." + a.QuoteIdentifier(name)
}

// recordID coerces a path id to the primary key's type family.
func recordID(table *schema.Table, raw string) (any, error) {
	pk, ok := table.Lookup(table.PrimaryKey)
	if !ok {
		return nil, core.Errorf(core.ErrValidation, "Table '%s' has no primary key", table.Name)
	}
	id, err := core.CoerceValue(pk.Family, raw)
	if err != nil || id == nil {
		return nil, core.Errorf(core.ErrValidation, "Invalid record id '%s'", raw)
	}
	return id, nil
}

// scanRows reads every row into a map keyed by result column name, turning
// driver byte slices back into strings or numbers.
func scanRows(rows *sql.Rows, table *schema.Table) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed processing results: %w", err)
	}
	families := make([]core.TypeFamily, len(columns))
	for i, name := range columns {
		families[i] = core.FamilyText
		if f, ok := table.Lookup(name); ok {
			families[i] = f.Family
		}
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed reading record data: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, name := range columns {
			row[name] = normalize(values[i], families[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed processing all records: %w", err)
	}
	return results, nil
}

// normalize converts driver values to JSON-friendly Go values. Drivers hand
// back numeric and boolean columns as []byte or string depending on the
// engine (pgx returns NUMERIC as string), so both are parsed by family.
func normalize(v any, family core.TypeFamily) any {
	switch x := v.(type) {
	case []byte:
		return parseByFamily(string(x), family)
	case string:
		return parseByFamily(x, family)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func parseByFamily(s string, family core.TypeFamily) any {
	switch family {
	case core.FamilyInteger:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	case core.FamilyReal:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case core.FamilyBoolean:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

func quoteAll(a adapter.Adapter, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = a.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}
