// internal/storage/metadata_repo.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/Annany2002/nebula-gateway/internal/core"
	"github.com/Annany2002/nebula-gateway/internal/domain"
)

// Specific errors for metadata operations
var (
	ErrDatabaseNotFound = &core.Error{Kind: core.ErrNotFound, Message: "Database not found"}
	ErrAdminNotFound    = &core.Error{Kind: core.ErrUnauthenticated, Message: "Invalid credentials"}
	ErrAdminExists      = &core.Error{Kind: core.ErrConflict, Message: "Username or email already exists"}
	ErrAPIKeyNotFound   = &core.Error{Kind: core.ErrUnauthenticated, Message: "Invalid API key"}
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

// --- Database Descriptor Operations ---

// CreateDatabaseDescriptor registers a database the gateway can address.
func CreateDatabaseDescriptor(ctx context.Context, db DBTX, d *domain.DatabaseDescriptor) (int64, error) {
	sqlStatement := `INSERT INTO databases
		(name, engine, file_path, host, port, username, password, db_name, schema_name, project_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var projectID sql.NullInt64
	if d.ProjectID != nil {
		projectID = sql.NullInt64{Int64: *d.ProjectID, Valid: true}
	}
	result, err := db.ExecContext(ctx, sqlStatement, d.Name, string(d.Engine), d.FilePath, d.Host, d.Port,
		d.Username, d.Password, d.DBName, d.SchemaName, projectID)
	if err != nil {
		customLog.Warnf("Storage: Failed to register database '%s': %v", d.Name, err)
		return 0, fmt.Errorf("database error registering database: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve database ID after creation: %w", err)
	}
	d.ID = id
	return id, nil
}

// FindDatabaseDescriptor loads the descriptor addressed by /api/v1/{id}.
func FindDatabaseDescriptor(ctx context.Context, db DBTX, id int64) (*domain.DatabaseDescriptor, error) {
	sqlStatement := `SELECT id, name, engine, file_path, host, port, username, password, db_name, schema_name, project_id, created_at
		FROM databases WHERE id = ? LIMIT 1`
	var (
		d         domain.DatabaseDescriptor
		engine    string
		projectID sql.NullInt64
	)
	err := db.QueryRowContext(ctx, sqlStatement, id).Scan(&d.ID, &d.Name, &engine, &d.FilePath, &d.Host, &d.Port,
		&d.Username, &d.Password, &d.DBName, &d.SchemaName, &projectID, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDatabaseNotFound
		}
		customLog.Warnf("Storage: Failed to load database descriptor %d: %v", id, err)
		return nil, fmt.Errorf("database error finding database descriptor: %w", err)
	}
	d.Engine, err = domain.ParseEngine(engine)
	if err != nil {
		return nil, err
	}
	if projectID.Valid {
		d.ProjectID = &projectID.Int64
	}
	return &d, nil
}

// --- Admin User Operations ---

// CreateAdminUser inserts an admin user. passwordHash must already be a bcrypt hash.
func CreateAdminUser(ctx context.Context, db DBTX, username, email, passwordHash string) (int64, error) {
	sqlStatement := `INSERT INTO admin_users (username, email, password_hash) VALUES (?, ?, ?)`
	result, err := db.ExecContext(ctx, sqlStatement, username, email, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAdminExists
		}
		customLog.Warnf("Storage: Failed to insert admin user %s: %v", username, err)
		return 0, fmt.Errorf("database error during admin creation: %w", err)
	}
	return result.LastInsertId()
}

// FindAdminUser looks an admin up by username or email.
func FindAdminUser(ctx context.Context, db DBTX, login string) (*domain.AdminUser, error) {
	sqlStatement := `SELECT id, username, email, password_hash, is_active, created_at
		FROM admin_users WHERE username = ? OR email = ? LIMIT 1`
	return scanAdminUser(db.QueryRowContext(ctx, sqlStatement, login, login))
}

// FindAdminUserByID is used to re-check a session token's subject.
func FindAdminUserByID(ctx context.Context, db DBTX, id int64) (*domain.AdminUser, error) {
	sqlStatement := `SELECT id, username, email, password_hash, is_active, created_at
		FROM admin_users WHERE id = ? LIMIT 1`
	return scanAdminUser(db.QueryRowContext(ctx, sqlStatement, id))
}

func scanAdminUser(row *sql.Row) (*domain.AdminUser, error) {
	var user domain.AdminUser
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.IsActive, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAdminNotFound
		}
		customLog.Warnf("Storage: Failed to load admin user: %v", err)
		return nil, fmt.Errorf("database error finding admin user: %w", err)
	}
	return &user, nil
}
