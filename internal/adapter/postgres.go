package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
)

// Postgres is the adapter for PostgreSQL. Tables resolve in one schema, set
// as the connection's search_path.
type Postgres struct {
	db     *sql.DB
	schema string
}

func postgresDSN(desc *domain.DatabaseDescriptor) string {
	port := desc.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(desc.Username, desc.Password),
		Host:   net.JoinHostPort(desc.Host, strconv.Itoa(port)),
		Path:   "/" + desc.DBName,
	}
	if desc.SchemaName != "" {
		q := url.Values{}
		q.Set("search_path", desc.SchemaName)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (a *Postgres) Engine() domain.EngineType { return domain.EnginePostgres }
func (a *Postgres) DB() *sql.DB               { return a.db }
func (a *Postgres) Placeholder(n int) string  { return "$" + strconv.Itoa(n) }
func (a *Postgres) SupportsReturning() bool   { return true }

func (a *Postgres) QuoteIdentifier(name string) string {
	return quoteWith(name, `"`)
}

func (a *Postgres) TextExpr(columnExpr string) string {
	return "CAST(" + columnExpr + " AS TEXT)"
}

func (a *Postgres) DateFormatExpr(columnExpr string, bucket DateBucket) (string, error) {
	var pattern string
	switch bucket {
	case BucketYear:
		pattern = "YYYY"
	case BucketMonth:
		pattern = "YYYY-MM"
	case BucketDay:
		pattern = "YYYY-MM-DD"
	case BucketHour:
		pattern = "YYYY-MM-DD HH24:00"
	default:
		return "", fmt.Errorf("unknown date bucket %q", bucket)
	}
	return fmt.Sprintf("to_char(%s, '%s')", columnExpr, pattern), nil
}

func (a *Postgres) IntrospectTables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`, a.schema)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to list tables")
	}
	defer rows.Close()
	return scanStrings(rows)
}

const postgresColumnsQuery = `SELECT c.column_name, c.data_type, c.is_nullable, c.column_default,
	EXISTS (
		SELECT 1 FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = c.table_schema
			AND tc.table_name = c.table_name
			AND kcu.column_name = c.column_name
	) AS is_primary_key
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

func (a *Postgres) IntrospectColumns(ctx context.Context, table string) ([]domain.Column, error) {
	if !core.IsValidIdentifier(table) {
		return nil, ErrTableNotFound
	}
	rows, err := a.db.QueryContext(ctx, postgresColumnsQuery, a.schema, table)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to read table schema")
	}
	defer rows.Close()
	columns, err := scanInformationSchema(rows, func(pk any) bool {
		b, _ := pk.(bool)
		return b
	})
	if err != nil && !errors.Is(err, ErrTableNotFound) {
		return nil, a.ClassifyError(err, "Failed to read table schema")
	}
	return columns, err
}

func (a *Postgres) ClassifyError(err error, message string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23502": // not_null_violation
			return core.Wrap(core.ErrValidation, err, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "23"):
			return core.Wrap(core.ErrConflict, err, "Constraint violation: "+pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "22"):
			return core.Wrap(core.ErrValidation, err, pgErr.Message)
		case pgErr.Code == "42P01": // undefined_table
			return ErrTableNotFound
		}
	}
	return backendError(err, message)
}

// scanInformationSchema reads (name, type, is_nullable, default, pk-marker)
// rows. isPK interprets the engine-specific primary key column.
func scanInformationSchema(rows *sql.Rows, isPK func(pk any) bool) ([]domain.Column, error) {
	var columns []domain.Column
	for rows.Next() {
		var (
			col      domain.Column
			nullable string
			dflt     sql.NullString
			pk       any
		)
		if err := rows.Scan(&col.Name, &col.SQLType, &nullable, &dflt, &pk); err != nil {
			return nil, err
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		col.IsPrimaryKey = isPK(pk)
		if dflt.Valid {
			col.Default = &dflt.String
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, ErrTableNotFound
	}
	return columns, nil
}
