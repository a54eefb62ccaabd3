// Package migrations embeds the SQL schema managed by golang-migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
