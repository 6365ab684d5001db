// Package adapter hides the SQL dialect differences of the supported engines
// behind one interface: identifier quoting, placeholders, date bucketing,
// schema introspection and driver error classification.
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
	"github.com/Annany2002/nebula-gateway/internal/logger"
)

var customLog = logger.NewLogger()

// DateBucket is the granularity of a date grouping.
type DateBucket string

const (
	BucketYear  DateBucket = "year"
	BucketMonth DateBucket = "month"
	BucketDay   DateBucket = "day"
	BucketHour  DateBucket = "hour"
)

// ParseBucket validates a bucket name from a query string.
func ParseBucket(s string) (DateBucket, error) {
	switch b := DateBucket(strings.ToLower(s)); b {
	case BucketYear, BucketMonth, BucketDay, BucketHour:
		return b, nil
	}
	return "", core.Errorf(core.ErrValidation, "invalid 'bucket' parameter: must be one of year, month, day, hour")
}

// ErrTableNotFound is returned by IntrospectColumns for a table that does not exist.
var ErrTableNotFound = &core.Error{Kind: core.ErrNotFound, Message: "Table not found"}

// Adapter is the per-engine dialect. Identifiers passed to it must already be
// validated; quoting is applied on top as a second line.
type Adapter interface {
	Engine() domain.EngineType
	DB() *sql.DB

	QuoteIdentifier(name string) string
	// Placeholder returns the bind marker of the n-th (1-based) argument.
	Placeholder(n int) string
	DateFormatExpr(columnExpr string, bucket DateBucket) (string, error)
	// TextExpr casts a column expression to text so LIKE works on any type.
	TextExpr(columnExpr string) string
	// SupportsReturning reports whether INSERT ... RETURNING is used to read new ids.
	SupportsReturning() bool

	IntrospectTables(ctx context.Context) ([]string, error)
	IntrospectColumns(ctx context.Context, table string) ([]domain.Column, error)

	// ClassifyError maps a driver error to a gateway error kind.
	ClassifyError(err error, message string) error
}

// ConnectionError is returned when a database cannot be opened or reached.
// It names the database but never its connection string.
func ConnectionError(desc *domain.DatabaseDescriptor, err error) error {
	return core.Wrap(core.ErrBackend, err,
		fmt.Sprintf("Failed to connect to database '%s' (%s)", desc.Name, desc.Engine))
}

// PoolOptions bounds the connection pool of every opened database.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration // 0 keeps connections forever
}

// Open connects to the database of desc and returns its adapter.
func Open(ctx context.Context, desc *domain.DatabaseDescriptor, pool PoolOptions) (Adapter, error) {
	var (
		driver string
		dsn    string
		err    error
	)
	switch desc.Engine {
	case domain.EngineSQLite:
		driver = "sqlite3"
		dsn, err = sqliteDSN(desc)
	case domain.EnginePostgres:
		driver, dsn = "pgx", postgresDSN(desc)
	case domain.EngineMySQL:
		driver, dsn = "mysql", mysqlDSN(desc)
	default:
		return nil, ConnectionError(desc, fmt.Errorf("unsupported engine %q", desc.Engine))
	}
	if err != nil {
		return nil, ConnectionError(desc, err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, ConnectionError(desc, err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		customLog.Warnf("Adapter: Ping failed for database %d (%s): %v", desc.ID, desc.Engine, err)
		return nil, ConnectionError(desc, err)
	}

	return New(desc, db)
}

// New wraps an already opened handle. Used by Open and by tests that bring
// their own *sql.DB.
func New(desc *domain.DatabaseDescriptor, db *sql.DB) (Adapter, error) {
	switch desc.Engine {
	case domain.EngineSQLite:
		return &SQLite{db: db}, nil
	case domain.EnginePostgres:
		schema := desc.SchemaName
		if schema == "" {
			schema = "public"
		}
		return &Postgres{db: db, schema: schema}, nil
	case domain.EngineMySQL:
		return &MySQL{db: db}, nil
	}
	return nil, ConnectionError(desc, fmt.Errorf("unsupported engine %q", desc.Engine))
}

func quoteWith(name, quote string) string {
	return quote + strings.ReplaceAll(name, quote, quote+quote) + quote
}
