// Package migrations embeds the export-sink schema, one directory per SQL
// dialect, so the binary carries its own migrations.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS

//go:embed sqlserver/*.sql
var SqlserverMigrations embed.FS
