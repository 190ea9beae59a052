// Package migrations embeds the SQL schema migrations executed at startup.
package migrations

import "embed"

// FS holds the embedded .up.sql migration files, applied in filename order.
//
//go:embed *.up.sql
var FS embed.FS
