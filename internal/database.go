package internal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/DukeRupert/draftline/internal/repository"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// OpenDatabase opens and pings the configured database.
//
// SQLite is limited to a single open connection so write transactions never
// fail with SQLITE_BUSY when upgrading from a read lock. Code holding a
// transaction must therefore not touch the pool directly. The conditional
// usage upsert is one statement and stays atomic with any pool size.
func OpenDatabase(ctx context.Context, driver, dsn string) (*sql.DB, repository.Dialect, error) {
	var (
		db      *sql.DB
		dialect repository.Dialect
		err     error
	)

	switch driver {
	case "postgres", "":
		dialect = repository.DialectPostgres
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
	case "sqlite":
		dialect = repository.DialectSQLite
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		return nil, "", fmt.Errorf("DATABASE_DRIVER must be either 'postgres' or 'sqlite', got: %s", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("database ping failed: %w", err)
	}

	return db, dialect, nil
}

// sqliteDSN appends the pragmas every connection needs.
func sqliteDSN(dsn string) string {
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
