package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DukeRupert/draftline/internal/repository"
)

// InTx runs fn inside a transaction and commits if fn returns nil.
//
// fn must only use the Queries it is given. On SQLite the pool holds a single
// connection, so touching the outer pool from inside fn blocks forever.
func InTx(ctx context.Context, db *sql.DB, queries *repository.Queries, fn func(q *repository.Queries) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
