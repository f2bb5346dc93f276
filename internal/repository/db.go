// Package repository contains the SQL data access layer.
//
// Queries are written once in PostgreSQL placeholder style ($1, $2, ...) and
// rebound for SQLite. Every query numbers its placeholders in textual order so
// the rebinding is positional.
package repository

import (
	"context"
	"database/sql"
	"regexp"
)

// Dialect selects the SQL flavour of the underlying database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// New returns a Queries bound to db.
func New(db DBTX, dialect Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

// Queries runs the accounting queries against a database or transaction.
type Queries struct {
	db      DBTX
	dialect Dialect
}

// WithTx returns a Queries that runs inside tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, dialect: q.dialect}
}

// Dialect returns the SQL dialect of the underlying database.
func (q *Queries) Dialect() Dialect {
	return q.dialect
}

var placeholder = regexp.MustCompile(`\$\d+`)

func (q *Queries) rebind(query string) string {
	if q.dialect != DialectSQLite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?")
}

func (q *Queries) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return q.db.QueryRowContext(ctx, q.rebind(query), args...)
}
