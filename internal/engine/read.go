package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Annany2002/nebula-gateway/internal/adapter"
	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/schema"
)

// ListMetadata describes one page of a list.
type ListMetadata struct {
	TotalRecords int64 `json:"total_records"`
	Limit        int   `json:"limit"`
	Offset       int   `json:"offset"`
	Count        int   `json:"count"`
}

// ListResult is the list envelope.
type ListResult struct {
	Metadata ListMetadata     `json:"metadata"`
	Data     []map[string]any `json:"data"`
}

// BucketMetadata describes a date grouping.
type BucketMetadata struct {
	TotalRecords int64  `json:"total_records"`
	Bucket       string `json:"bucket"`
	Field        string `json:"field"`
}

// BucketCount is the number of rows falling into one date bucket.
type BucketCount struct {
	Bucket *string `json:"bucket"`
	Count  int64   `json:"count"`
}

// BucketResult is the date grouping envelope.
type BucketResult struct {
	Metadata BucketMetadata `json:"metadata"`
	Data     []BucketCount  `json:"data"`
}

// Tables lists the tables of the target database.
func (e *Engine) Tables(ctx context.Context, target Target) ([]string, error) {
	tables, err := target.Adapter.IntrospectTables(ctx)
	if err != nil {
		return nil, err
	}
	if tables == nil {
		tables = []string{}
	}
	return tables, nil
}

// projection is the SELECT list and the label joins of a read.
type projection struct {
	selects []string
	joins   []string
}

func (p projection) from(a adapter.Adapter, table *schema.Table) string {
	query := fmt.Sprintf("SELECT %s FROM %s AS %s", strings.Join(p.selects, ", "), a.QuoteIdentifier(table.Name), baseAlias)
	if len(p.joins) > 0 {
		query += " " + strings.Join(p.joins, " ")
	}
	return query
}

// project selects the requested visible columns, or every visible column
// when none are requested, and adds a {field}_label column for each
// projected foreign key whose alias is not already a live column.
func (e *Engine) project(ctx context.Context, target Target, table *schema.Table, requested []string) (projection, error) {
	a := target.Adapter
	var fields []*schema.Field
	seen := map[string]bool{}
	for _, name := range requested {
		f, ok := table.Lookup(name)
		if !ok || !f.Visible() || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		for _, f := range table.Fields {
			if f.Visible() {
				fields = append(fields, f)
			}
		}
	}

	if len(fields) == 0 {
		return projection{}, ErrNoVisibleFields
	}

	var p projection
	for _, f := range fields {
		p.selects = append(p.selects, column(a, baseAlias, f.Name))
	}
	for _, f := range fields {
		relatedName, preferred, ok := f.ForeignKey()
		if !ok {
			continue
		}
		label := f.Name + "_label"
		if _, taken := table.Lookup(label); taken {
			customLog.Debugf("Engine: Skipping label for %s.%s: column %q already exists", table.Name, f.Name, label)
			continue
		}
		related, err := e.schema.Describe(ctx, target.DatabaseID, a, relatedName)
		if err != nil {
			customLog.Warnf("Engine: Skipping label for %s.%s: related table %q unavailable: %v", table.Name, f.Name, relatedName, err)
			continue
		}
		alias := fmt.Sprintf("j%d", len(p.joins)+1)
		display := related.DisplayField(preferred)
		p.joins = append(p.joins, fmt.Sprintf("LEFT JOIN %s AS %s ON %s = %s",
			a.QuoteIdentifier(related.Name), alias,
			column(a, alias, related.PrimaryKey), column(a, baseAlias, f.Name)))
		p.selects = append(p.selects, fmt.Sprintf("%s AS %s", column(a, alias, display), a.QuoteIdentifier(label)))
	}
	return p, nil
}

// where builds the filter predicate. Filters on unknown columns are dropped.
func where(b *binder, table *schema.Table, filters []core.Filter) (string, error) {
	var clauses []string
	for _, filter := range filters {
		f, ok := table.Lookup(filter.Key)
		if !ok {
			customLog.Debugf("Engine: Ignoring filter on unknown column %q of %s", filter.Key, table.Name)
			continue
		}
		col := column(b.a, baseAlias, f.Name)
		if core.IsWildcard(filter.Value) {
			clauses = append(clauses, fmt.Sprintf("%s LIKE %s", b.a.TextExpr(col), b.bind(core.LikePattern(filter.Value))))
			continue
		}
		value, err := core.CoerceValue(f.Family, filter.Value)
		if err != nil {
			return "", core.Wrap(core.ErrValidation, err, fmt.Sprintf("Invalid value for filter '%s': %v", f.Name, err))
		}
		clauses = append(clauses, fmt.Sprintf("%s = %s", col, b.bind(value)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

// List returns one page of rows and the total number of matching rows.
func (e *Engine) List(ctx context.Context, target Target, tableName string, opts *core.ListQueryOptions) (*ListResult, error) {
	a := target.Adapter
	table, err := e.schema.Describe(ctx, target.DatabaseID, a, tableName)
	if err != nil {
		return nil, err
	}

	b := &binder{a: a}
	predicate, err := where(b, table, opts.Filters)
	if err != nil {
		return nil, err
	}

	orderBy := column(a, baseAlias, table.PrimaryKey) + " ASC"
	if opts.SortBy != "" {
		f, ok := table.Lookup(opts.SortBy)
		if !ok {
			return nil, core.Errorf(core.ErrValidation, "invalid 'sort' parameter: column '%s' does not exist", opts.SortBy)
		}
		orderBy = column(a, baseAlias, f.Name) + " " + strings.ToUpper(opts.SortOrder)
	}

	p, err := e.project(ctx, target, table, opts.Fields)
	if err != nil {
		return nil, err
	}

	var total int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s AS %s%s", a.QuoteIdentifier(table.Name), baseAlias, predicate)
	if err := a.DB().QueryRowContext(ctx, countSQL, b.args...).Scan(&total); err != nil {
		return nil, a.ClassifyError(err, "Failed to count records")
	}

	selectSQL := p.from(a, table) + predicate +
		fmt.Sprintf(" ORDER BY %s LIMIT %d OFFSET %d", orderBy, opts.Limit, opts.Offset)
	customLog.Debugf("Engine: List %s: %s | Args: %v", table.Name, selectSQL, b.args)

	rows, err := a.DB().QueryContext(ctx, selectSQL, b.args...)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to list records")
	}
	defer rows.Close()

	data, err := scanRows(rows, table)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to list records")
	}
	return &ListResult{
		Metadata: ListMetadata{TotalRecords: total, Limit: opts.Limit, Offset: opts.Offset, Count: len(data)},
		Data:     data,
	}, nil
}

// GroupByDate counts matching rows per date bucket of one column.
func (e *Engine) GroupByDate(ctx context.Context, target Target, tableName string, opts *core.ListQueryOptions) (*BucketResult, error) {
	a := target.Adapter
	table, err := e.schema.Describe(ctx, target.DatabaseID, a, tableName)
	if err != nil {
		return nil, err
	}
	f, ok := table.Lookup(opts.GroupByDate)
	if !ok {
		return nil, core.Errorf(core.ErrValidation, "invalid 'group_by_date' parameter: column '%s' does not exist", opts.GroupByDate)
	}
	bucket, err := adapter.ParseBucket(opts.Bucket)
	if err != nil {
		return nil, err
	}
	expr, err := a.DateFormatExpr(column(a, baseAlias, f.Name), bucket)
	if err != nil {
		return nil, core.Wrap(core.ErrValidation, err, err.Error())
	}

	b := &binder{a: a}
	predicate, err := where(b, table, opts.Filters)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s AS %s, COUNT(*) AS %s FROM %s AS %s%s GROUP BY 1 ORDER BY 1",
		expr, a.QuoteIdentifier("bucket"), a.QuoteIdentifier("count"), a.QuoteIdentifier(table.Name), baseAlias, predicate)

	rows, err := a.DB().QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to group records")
	}
	defer rows.Close()

	result := &BucketResult{Metadata: BucketMetadata{Bucket: string(bucket), Field: f.Name}, Data: []BucketCount{}}
	for rows.Next() {
		var (
			label sql.NullString
			count int64
		)
		if err := rows.Scan(&label, &count); err != nil {
			return nil, a.ClassifyError(err, "Failed to group records")
		}
		bc := BucketCount{Count: count}
		if label.Valid {
			bc.Bucket = &label.String
		}
		result.Data = append(result.Data, bc)
		result.Metadata.TotalRecords += count
	}
	if err := rows.Err(); err != nil {
		return nil, a.ClassifyError(err, "Failed to group records")
	}
	return result, nil
}

// Detail returns one row by primary key, with the same projection as List.
func (e *Engine) Detail(ctx context.Context, target Target, tableName, id string, fields []string) (map[string]any, error) {
	a := target.Adapter
	table, err := e.schema.Describe(ctx, target.DatabaseID, a, tableName)
	if err != nil {
		return nil, err
	}
	key, err := recordID(table, id)
	if err != nil {
		return nil, err
	}

	p, err := e.project(ctx, target, table, fields)
	if err != nil {
		return nil, err
	}
	b := &binder{a: a}
	query := p.from(a, table) + fmt.Sprintf(" WHERE %s = %s LIMIT 1", column(a, baseAlias, table.PrimaryKey), b.bind(key))

	rows, err := a.DB().QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to get record")
	}
	defer rows.Close()

	data, err := scanRows(rows, table)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to get record")
	}
	if len(data) == 0 {
		return nil, ErrRecordNotFound
	}
	return data[0], nil
}
