// internal/domain/models.go
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EngineType is one of the SQL engines the gateway can front.
type EngineType string

const (
	EngineSQLite   EngineType = "sqlite"
	EnginePostgres EngineType = "postgres"
	EngineMySQL    EngineType = "mysql"
)

// ParseEngine accepts the engine names stored by the admin UI, including the
// common aliases.
func ParseEngine(s string) (EngineType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return EngineSQLite, nil
	case "postgres", "postgresql", "pgsql", "pg":
		return EnginePostgres, nil
	case "mysql", "mariadb":
		return EngineMySQL, nil
	}
	return "", fmt.Errorf("unsupported database engine %q", s)
}

// DatabaseDescriptor identifies one logical database addressable through
// /api/v1/{id}. FilePath is used by SQLite; the network fields by the others.
type DatabaseDescriptor struct {
	ID         int64
	Name       string
	Engine     EngineType
	FilePath   string
	Host       string
	Port       int
	Username   string
	Password   string
	DBName     string
	SchemaName string // postgres only; empty means "public"
	ProjectID  *int64
	CreatedAt  time.Time
}

// Column is one live column as reported by schema introspection.
type Column struct {
	Name         string
	SQLType      string
	Nullable     bool
	Default      *string
	IsPrimaryKey bool
}

// FieldConfig is the admin-managed view metadata for one column.
type FieldConfig struct {
	ID           int64
	DatabaseID   int64
	TableName    string
	FieldName    string
	IsVisible    bool
	IsRequired   bool
	IsEditable   bool
	IsForeignKey bool
	RelatedTable string
	RelatedField string
}

// APIKey is an issued gateway credential. Only the SHA-256 of the secret is stored.
type APIKey struct {
	ID        int64
	Name      string
	KeyPrefix string
	KeyHash   string
	IsActive  bool
	RateLimit int
	CreatedAt time.Time
}

// Action is a CRUD capability a permission rule can grant.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// PermissionRule grants capabilities to one key on a database. An empty
// TableName is the wildcard rule for every table of that database.
type PermissionRule struct {
	ID         int64
	APIKeyID   int64
	DatabaseID int64
	TableName  string
	CanRead    bool
	CanCreate  bool
	CanUpdate  bool
	CanDelete  bool
	AllowedIPs []string
}

// Allows reports the capability flag for action.
func (r PermissionRule) Allows(action Action) bool {
	switch action {
	case ActionRead:
		return r.CanRead
	case ActionCreate:
		return r.CanCreate
	case ActionUpdate:
		return r.CanUpdate
	case ActionDelete:
		return r.CanDelete
	}
	return false
}

// AdminUser is an operator of the admin UI. Admins authenticate with a
// session token and bypass per-key permissions and quotas.
type AdminUser struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}
