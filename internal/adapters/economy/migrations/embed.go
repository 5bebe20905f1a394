package migrations

import "embed"

// FS contains the embedded economy schema migrations.
//
//go:embed *.sql
var FS embed.FS
