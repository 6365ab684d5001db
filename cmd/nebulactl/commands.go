package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Annany2002/nebula-gateway/internal/auth"
	"github.com/Annany2002/nebula-gateway/internal/domain"
	"github.com/Annany2002/nebula-gateway/internal/storage"
)

const usage = `usage: nebulactl <command> [flags]

commands:
  add-admin     -username -email -password
  add-database  -name -engine [-file | -host -port -user -password -dbname -schema]
  issue-key     -name [-rate-limit]
  grant         -key-id -database-id [-table] [-read -create -update -delete] [-ips]
`

var errUsage = errors.New("invalid arguments")

func run(ctx context.Context, metaDB *sql.DB, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "add-admin":
		return addAdmin(ctx, metaDB, rest, out)
	case "add-database":
		return addDatabase(ctx, metaDB, rest, out)
	case "issue-key":
		return issueKey(ctx, metaDB, rest, out)
	case "grant":
		return grant(ctx, metaDB, rest, out)
	}
	fmt.Fprint(out, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func addAdmin(ctx context.Context, metaDB *sql.DB, args []string, out io.Writer) error {
	fs := newFlagSet("add-admin", out)
	username := fs.String("username", "", "login name")
	email := fs.String("email", "", "email address, also accepted as login")
	password := fs.String("password", "", "initial password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *email == "" || *password == "" {
		return fmt.Errorf("%w: -username, -email and -password are required", errUsage)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		return err
	}
	id, err := storage.CreateAdminUser(ctx, metaDB, *username, *email, hash)
	if err != nil {
		return err
	}
	customLog.Printf("Created admin user %s", *username)
	fmt.Fprintf(out, "admin_user_id=%d\n", id)
	return nil
}

func addDatabase(ctx context.Context, metaDB *sql.DB, args []string, out io.Writer) error {
	fs := newFlagSet("add-database", out)
	var d domain.DatabaseDescriptor
	engine := fs.String("engine", "sqlite", "sqlite, postgres or mysql")
	fs.StringVar(&d.Name, "name", "", "display name")
	fs.StringVar(&d.FilePath, "file", "", "sqlite database file")
	fs.StringVar(&d.Host, "host", "", "server host")
	fs.IntVar(&d.Port, "port", 0, "server port")
	fs.StringVar(&d.Username, "user", "", "server user")
	fs.StringVar(&d.Password, "password", "", "server password")
	fs.StringVar(&d.DBName, "dbname", "", "database name on the server")
	fs.StringVar(&d.SchemaName, "schema", "", "postgres schema, default public")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var err error
	if d.Engine, err = domain.ParseEngine(*engine); err != nil {
		return err
	}
	if d.Name == "" {
		return fmt.Errorf("%w: -name is required", errUsage)
	}
	if d.Engine == domain.EngineSQLite && d.FilePath == "" {
		return fmt.Errorf("%w: -file is required for sqlite", errUsage)
	}
	if d.Engine != domain.EngineSQLite && (d.Host == "" || d.DBName == "") {
		return fmt.Errorf("%w: -host and -dbname are required for %s", errUsage, d.Engine)
	}

	id, err := storage.CreateDatabaseDescriptor(ctx, metaDB, &d)
	if err != nil {
		return err
	}
	customLog.Printf("Registered %s database %s", d.Engine, d.Name)
	fmt.Fprintf(out, "database_id=%d\n", id)
	return nil
}

func issueKey(ctx context.Context, metaDB *sql.DB, args []string, out io.Writer) error {
	fs := newFlagSet("issue-key", out)
	name := fs.String("name", "", "key label")
	rateLimit := fs.Int("rate-limit", 0, "requests per window, 0 for unlimited")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("%w: -name is required", errUsage)
	}
	if *rateLimit < 0 {
		return fmt.Errorf("%w: -rate-limit must not be negative", errUsage)
	}

	key, prefix, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	apiKey, err := storage.CreateAPIKey(ctx, metaDB, *name, prefix, hash, *rateLimit)
	if err != nil {
		return err
	}
	customLog.Printf("Issued API key %s (%s)", apiKey.KeyPrefix, *name)
	// Only the hash is stored; this is the one time the key is shown.
	fmt.Fprintf(out, "api_key_id=%d\napi_key=%s\n", apiKey.ID, key)
	return nil
}

func grant(ctx context.Context, metaDB *sql.DB, args []string, out io.Writer) error {
	fs := newFlagSet("grant", out)
	var rule domain.PermissionRule
	fs.Int64Var(&rule.APIKeyID, "key-id", 0, "API key id")
	fs.Int64Var(&rule.DatabaseID, "database-id", 0, "database id")
	fs.StringVar(&rule.TableName, "table", "", "table name, empty for every table")
	fs.BoolVar(&rule.CanRead, "read", false, "allow reads")
	fs.BoolVar(&rule.CanCreate, "create", false, "allow creates")
	fs.BoolVar(&rule.CanUpdate, "update", false, "allow updates")
	fs.BoolVar(&rule.CanDelete, "delete", false, "allow deletes")
	ips := fs.String("ips", "", "comma-separated client IP allow-list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if rule.APIKeyID <= 0 || rule.DatabaseID <= 0 {
		return fmt.Errorf("%w: -key-id and -database-id are required", errUsage)
	}
	if _, err := storage.FindDatabaseDescriptor(ctx, metaDB, rule.DatabaseID); err != nil {
		return err
	}
	for _, ip := range strings.Split(*ips, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			rule.AllowedIPs = append(rule.AllowedIPs, ip)
		}
	}

	id, err := storage.CreatePermissionRule(ctx, metaDB, &rule)
	if err != nil {
		return err
	}
	customLog.Printf("Granted key %d on database %d", rule.APIKeyID, rule.DatabaseID)
	fmt.Fprintf(out, "permission_rule_id=%d\n", id)
	return nil
}
