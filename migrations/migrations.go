// Package migrations embeds the schema of spec.md section 3 as goose
// migration files, so the binary carries its own schema and needs no
// external migration tooling at deploy time.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
