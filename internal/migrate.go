package internal

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/DukeRupert/draftline/internal/repository"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// RunMigrations applies all pending migrations for the given dialect.
func RunMigrations(db *sql.DB, dialect repository.Dialect) error {
	dir, gooseDialect, err := migrationTarget(dialect)
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}

	return goose.Up(db, dir)
}

// MigrationStatus logs the applied state of every migration.
func MigrationStatus(db *sql.DB, dialect repository.Dialect) error {
	dir, gooseDialect, err := migrationTarget(dialect)
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}

	return goose.Status(db, dir)
}

func migrationTarget(dialect repository.Dialect) (dir, gooseDialect string, err error) {
	switch dialect {
	case repository.DialectPostgres:
		return "migrations/postgres", "postgres", nil
	case repository.DialectSQLite:
		return "migrations/sqlite", "sqlite3", nil
	default:
		return "", "", fmt.Errorf("unsupported migration dialect %q", dialect)
	}
}
