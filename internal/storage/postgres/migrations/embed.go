package migrations

import "embed"

// FS contains embedded Postgres migrations.
//
//go:embed *.sql
var FS embed.FS
