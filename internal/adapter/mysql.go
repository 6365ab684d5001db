package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
)

// MySQL is the adapter for MySQL and MariaDB. Tables resolve in the
// connection's default database.
type MySQL struct {
	db *sql.DB
}

func mysqlDSN(desc *domain.DatabaseDescriptor) string {
	port := desc.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.User = desc.Username
	cfg.Passwd = desc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(desc.Host, strconv.Itoa(port))
	cfg.DBName = desc.DBName
	cfg.ParseTime = true
	// Report matched rather than changed rows so an idempotent UPDATE is not a 404.
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

func (a *MySQL) Engine() domain.EngineType { return domain.EngineMySQL }
func (a *MySQL) DB() *sql.DB               { return a.db }
func (a *MySQL) Placeholder(int) string    { return "?" }
func (a *MySQL) SupportsReturning() bool   { return false }

func (a *MySQL) QuoteIdentifier(name string) string {
	return quoteWith(name, "`")
}

func (a *MySQL) TextExpr(columnExpr string) string {
	return "CAST(" + columnExpr + " AS CHAR)"
}

func (a *MySQL) DateFormatExpr(columnExpr string, bucket DateBucket) (string, error) {
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
	return fmt.Sprintf("DATE_FORMAT(%s, '%s')", columnExpr, pattern), nil
}

func (a *MySQL) IntrospectTables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name`)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to list tables")
	}
	defer rows.Close()
	return scanStrings(rows)
}

// IntrospectColumns uses column_type rather than data_type so tinyint(1)
// keeps its boolean meaning.
func (a *MySQL) IntrospectColumns(ctx context.Context, table string) ([]domain.Column, error) {
	if !core.IsValidIdentifier(table) {
		return nil, ErrTableNotFound
	}
	rows, err := a.db.QueryContext(ctx, `SELECT column_name, column_type, is_nullable, column_default, column_key
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, a.ClassifyError(err, "Failed to read table schema")
	}
	defer rows.Close()
	columns, err := scanInformationSchema(rows, func(pk any) bool {
		switch v := pk.(type) {
		case string:
			return v == "PRI"
		case []byte:
			return string(v) == "PRI"
		}
		return false
	})
	if err != nil && !errors.Is(err, ErrTableNotFound) {
		return nil, a.ClassifyError(err, "Failed to read table schema")
	}
	return columns, err
}

func (a *MySQL) ClassifyError(err error, message string) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062, 1451, 1452: // duplicate key, foreign key parent/child
			return core.Wrap(core.ErrConflict, err, "Constraint violation: "+myErr.Message)
		case 1048, 1364, 1366, 1264, 1292: // null, missing default, bad value, out of range, bad datetime
			return core.Wrap(core.ErrValidation, err, myErr.Message)
		case 1146: // table doesn't exist
			return ErrTableNotFound
		}
	}
	return backendError(err, message)
}
