// Package migrations embeds the audit-store schema migrations.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
