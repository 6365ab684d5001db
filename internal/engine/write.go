package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/schema"
)

// Column names stamped automatically, matched case-insensitively.
var (
	CreationTimestampColumns = []string{"created_at", "createdAt", "date_created", "creation_date", "inserted_at"}
	EditTimestampColumns     = []string{"updated_at", "updatedAt", "date_modified", "modified_at", "last_modified"}
)

func isOneOf(name string, list []string) bool {
	for _, candidate := range list {
		if strings.EqualFold(name, candidate) {
			return true
		}
	}
	return false
}

// stamp renders now in a form the column's family can store.
func stamp(f *schema.Field, now time.Time) any {
	switch f.Family {
	case core.FamilyTime:
		return now
	case core.FamilyInteger:
		return now.Unix()
	case core.FamilyReal:
		return float64(now.UnixNano()) / 1e9
	}
	return now.Format(time.RFC3339Nano)
}

// assignment is the ordered column list and values of an INSERT or UPDATE.
type assignment struct {
	columns []string
	values  []any
}

type writeMode int

const (
	modeCreate writeMode = iota
	modeUpdate
)

// prepareWrite intersects body with the live columns, coerces each value and
// stamps timestamp columns. Unknown keys are dropped.
func (e *Engine) prepareWrite(table *schema.Table, body map[string]any, mode writeMode) (assignment, error) {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := map[string]any{}
	for _, key := range keys {
		f, ok := table.Lookup(key)
		if !ok {
			customLog.Debugf("Engine: Dropping unknown field %q for %s", key, table.Name)
			continue
		}
		if !writable(table, f, mode) {
			customLog.Debugf("Engine: Dropping non-editable field %q for %s", f.Name, table.Name)
			continue
		}
		v, err := core.CoerceValue(f.Family, body[key])
		if err != nil {
			return assignment{}, core.Wrap(core.ErrValidation, err, fmt.Sprintf("Invalid value for field '%s': %v", f.Name, err))
		}
		values[f.Name] = v
	}
	if len(values) == 0 {
		return assignment{}, core.Errorf(core.ErrValidation, "No valid fields provided")
	}

	now := e.now().UTC()
	for _, f := range table.Fields {
		_, present := values[f.Name]
		switch {
		case isOneOf(f.Name, EditTimestampColumns):
			if mode == modeUpdate || !present {
				values[f.Name] = stamp(f, now)
			}
		case isOneOf(f.Name, CreationTimestampColumns):
			if mode == modeCreate && !present {
				values[f.Name] = stamp(f, now)
			}
		}
	}

	for _, f := range table.Fields {
		if !f.Required() {
			continue
		}
		v, present := values[f.Name]
		if mode == modeUpdate && !present {
			continue
		}
		if !present || v == nil || v == "" {
			return assignment{}, core.Errorf(core.ErrValidation, "Field '%s' is required", f.Name)
		}
	}

	var out assignment
	for _, f := range table.Fields {
		if v, ok := values[f.Name]; ok {
			out.columns = append(out.columns, f.Name)
			out.values = append(out.values, v)
		}
	}
	return out, nil
}

// writable reports whether prepareWrite keeps f. Updates never touch the
// primary key or non-editable fields.
func writable(table *schema.Table, f *schema.Field, mode writeMode) bool {
	if mode == modeUpdate {
		return f.Name != table.PrimaryKey && f.Editable()
	}
	return true
}

// WritableFields returns the subset of names a Create (or, when update is
// set, an Update) of tableName would write.
func (e *Engine) WritableFields(ctx context.Context, target Target, tableName string, update bool, names []string) ([]string, error) {
	table, err := e.schema.Describe(ctx, target.DatabaseID, target.Adapter, tableName)
	if err != nil {
		return nil, err
	}
	mode := modeCreate
	if update {
		mode = modeUpdate
	}
	var out []string
	for _, name := range names {
		if f, ok := table.Lookup(name); ok && writable(table, f, mode) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Create inserts one row and returns its primary key value.
func (e *Engine) Create(ctx context.Context, target Target, tableName string, body map[string]any) (any, error) {
	a := target.Adapter
	table, err := e.schema.Describe(ctx, target.DatabaseID, a, tableName)
	if err != nil {
		return nil, err
	}
	set, err := e.prepareWrite(table, body, modeCreate)
	if err != nil {
		return nil, err
	}

	b := &binder{a: a}
	placeholders := make([]string, len(set.values))
	for i, v := range set.values {
		placeholders[i] = b.bind(v)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		a.QuoteIdentifier(table.Name), quoteAll(a, set.columns), strings.Join(placeholders, ", "))
	customLog.Debugf("Engine: Create %s: %s", table.Name, query)

	if a.SupportsReturning() {
		var id any
		query += " RETURNING " + a.QuoteIdentifier(table.PrimaryKey)
		if err := a.DB().QueryRowContext(ctx, query, b.args...).Scan(&id); err != nil {
			return nil, a.ClassifyError(err, "Failed to create record")
		}
		return normalize(id, primaryKeyFamily(table)), nil
	}

	result, err := a.DB().ExecContext(ctx, query, b.args...)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to create record")
	}
	for i, col := range set.columns {
		if col == table.PrimaryKey {
			return set.values[i], nil
		}
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, core.Wrap(core.ErrBackend, err, "Failed to retrieve ID after insert")
	}
	return id, nil
}

func primaryKeyFamily(table *schema.Table) core.TypeFamily {
	if f, ok := table.Lookup(table.PrimaryKey); ok {
		return f.Family
	}
	return core.FamilyText
}

// Update changes one row by primary key. The key itself is never written.
func (e *Engine) Update(ctx context.Context, target Target, tableName, id string, body map[string]any) error {
	a := target.Adapter
	table, err := e.schema.Describe(ctx, target.DatabaseID, a, tableName)
	if err != nil {
		return err
	}
	key, err := recordID(table, id)
	if err != nil {
		return err
	}
	set, err := e.prepareWrite(table, body, modeUpdate)
	if err != nil {
		return err
	}

	b := &binder{a: a}
	assignments := make([]string, len(set.columns))
	for i, col := range set.columns {
		assignments[i] = fmt.Sprintf("%s = %s", a.QuoteIdentifier(col), b.bind(set.values[i]))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		a.QuoteIdentifier(table.Name), strings.Join(assignments, ", "), a.QuoteIdentifier(table.PrimaryKey), b.bind(key))
	customLog.Debugf("Engine: Update %s: %s", table.Name, query)

	return e.execAffectingOne(ctx, target, query, b.args, "Failed to update record")
}

// Delete removes one row by primary key.
func (e *Engine) Delete(ctx context.Context, target Target, tableName, id string) error {
	a := target.Adapter
	table, err := e.schema.Describe(ctx, target.DatabaseID, a, tableName)
	if err != nil {
		return err
	}
	key, err := recordID(table, id)
	if err != nil {
		return err
	}

	b := &binder{a: a}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		a.QuoteIdentifier(table.Name), a.QuoteIdentifier(table.PrimaryKey), b.bind(key))
	return e.execAffectingOne(ctx, target, query, b.args, "Failed to delete record")
}

func (e *Engine) execAffectingOne(ctx context.Context, target Target, query string, args []any, failure string) error {
	a := target.Adapter
	result, err := a.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return a.ClassifyError(err, failure)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Wrap(core.ErrBackend, err, failure)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
