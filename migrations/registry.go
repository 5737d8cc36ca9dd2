package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	mailevents "github.com/goliatone/go-mailevents"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const migrationsDir = "data/sql/migrations"

// Source is the migration directory for one SQL dialect. Postgres files live
// at the root of the migrations directory, sqlite files in a subdirectory.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type RegisterFunc func(ctx context.Context, source Source) error

// Sources lists the embedded migration directories for every dialect.
func Sources() ([]Source, error) {
	return sourcesFrom(mailevents.GetMigrationsFS())
}

// SourceFor returns the embedded migrations for one dialect.
func SourceFor(dialect string) (Source, error) {
	sources, err := Sources()
	if err != nil {
		return Source{}, err
	}
	wanted := strings.ToLower(strings.TrimSpace(dialect))
	for _, source := range sources {
		if source.Dialect == wanted {
			return source, nil
		}
	}
	return Source{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
}

// Register hands the migrations of a single dialect to register, usually a
// closure over a go-persistence-bun client.
func Register(ctx context.Context, dialect string, register RegisterFunc) (Source, error) {
	if register == nil {
		return Source{}, fmt.Errorf("migrations: register function is required")
	}
	source, err := SourceFor(dialect)
	if err != nil {
		return Source{}, err
	}
	if err := register(ctx, source); err != nil {
		return source, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
	}
	return source, nil
}

func sourcesFrom(root fs.FS) ([]Source, error) {
	base, err := fs.Sub(root, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", migrationsDir, err)
	}
	sqlite, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite migrations: %w", err)
	}
	sources := []Source{
		{Dialect: DialectPostgres, Path: migrationsDir, FS: base},
		{Dialect: DialectSQLite, Path: migrationsDir + "/" + DialectSQLite, FS: sqlite},
	}
	for _, source := range sources {
		matches, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s has no *.up.sql files", source.Path)
		}
	}
	return sources, nil
}
