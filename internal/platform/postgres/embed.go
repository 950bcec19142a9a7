package postgres

import "embed"

// MigrationsFS embeds the goose SQL migrations so the server binary can
// apply them on startup without a migrations directory on disk.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
