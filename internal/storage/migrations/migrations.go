// Package migrations embeds the goose migrations for the metadata database.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
