package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
)

// SQLite is the adapter for file-backed SQLite databases.
type SQLite struct {
	db *sql.DB
}

func sqliteDSN(desc *domain.DatabaseDescriptor) (string, error) {
	if desc.FilePath == "" {
		return "", errors.New("sqlite database has no file path")
	}
	return desc.FilePath + "?_foreign_keys=on&_busy_timeout=5000", nil
}

func (a *SQLite) Engine() domain.EngineType { return domain.EngineSQLite }
func (a *SQLite) DB() *sql.DB               { return a.db }
func (a *SQLite) Placeholder(int) string    { return "?" }
func (a *SQLite) SupportsReturning() bool   { return false }

func (a *SQLite) QuoteIdentifier(name string) string {
	return quoteWith(name, `"`)
}

func (a *SQLite) TextExpr(columnExpr string) string {
	return "CAST(" + columnExpr + " AS TEXT)"
}

func (a *SQLite) DateFormatExpr(columnExpr string, bucket DateBucket) (string, error) {
	var pattern string
	switch bucket {
	case BucketYear:
		pattern = "%Y"
	case BucketMonth:
		pattern = "%Y-%m"
	case BucketDay:
		pattern = "%Y-%m-%d"
	case BucketHour:
		pattern = "%Y-%m-%d %H:00"
	default:
		return "", fmt.Errorf("unknown date bucket %q", bucket)
	}
	return fmt.Sprintf("strftime('%s', %s)", pattern, columnExpr), nil
}

func (a *SQLite) IntrospectTables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to list tables")
	}
	defer rows.Close()
	return scanStrings(rows)
}

// IntrospectColumns reads PRAGMA table_info. Tables with no columns do not exist.
func (a *SQLite) IntrospectColumns(ctx context.Context, table string) ([]domain.Column, error) {
	if !core.IsValidIdentifier(table) {
		return nil, ErrTableNotFound
	}
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", a.QuoteIdentifier(table)))
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to read table schema")
	}
	defer rows.Close()

	var columns []domain.Column
	for rows.Next() {
		var (
			cid     int
			col     domain.Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.SQLType, &notNull, &dflt, &pk); err != nil {
			return nil, a.ClassifyError(err, "Failed to read table schema")
		}
		col.Nullable = notNull == 0
		col.IsPrimaryKey = pk > 0
		if dflt.Valid {
			col.Default = &dflt.String
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, a.ClassifyError(err, "Failed to read table schema")
	}
	if len(columns) == 0 {
		return nil, ErrTableNotFound
	}
	return columns, nil
}

func (a *SQLite) ClassifyError(err error, message string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrConstraint && sqliteErr.ExtendedCode == sqlite3.ErrConstraintNotNull:
			return core.Wrap(core.ErrValidation, err, sqliteErr.Error())
		case sqliteErr.Code == sqlite3.ErrConstraint:
			return core.Wrap(core.ErrConflict, err, "Constraint violation: "+sqliteErr.Error())
		case sqliteErr.Code == sqlite3.ErrMismatch:
			return core.Wrap(core.ErrValidation, err, sqliteErr.Error())
		}
	}
	return backendError(err, message)
}

func backendError(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.Wrap(core.ErrBackend, err, "Database operation timed out")
	}
	return core.Wrap(core.ErrBackend, err, message+": "+err.Error())
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
