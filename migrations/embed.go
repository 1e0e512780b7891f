// Package migrations holds the SQL schema for the Postgres table store.
package migrations

import "embed"

// FS contains every NNN_name.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
