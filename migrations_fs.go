package mailevents

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the webhook event schema for postgres, with the sqlite
// alternative under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
