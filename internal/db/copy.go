package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using PostgreSQL COPY protocol.
// This is the fastest way to insert large volumes of data.
func CopyFrom(ctx context.Context, pool Pool, table pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := pool.CopyFrom(ctx, table, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", strings.Join(table, "."))
	}

	return n, nil
}

// ReplaceTable creates table (and its schema) when missing, then swaps its
// contents for rows inside one transaction. Every column is TEXT.
func ReplaceTable(ctx context.Context, pool Pool, table pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	name := strings.Join(table, ".")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if len(table) == 2 {
		schemaSQL := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{table[0]}.Sanitize())
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return 0, eris.Wrapf(err, "db: replace: create schema for %s", name)
		}
	}

	if _, err := tx.Exec(ctx, createTableSQL(table, columns)); err != nil {
		return 0, eris.Wrapf(err, "db: replace: create table %s", name)
	}

	if _, err := tx.Exec(ctx, "TRUNCATE "+table.Sanitize()); err != nil {
		return 0, eris.Wrapf(err, "db: replace: truncate %s", name)
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, table, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "db: replace: COPY INTO %s", name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}

	return n, nil
}

func createTableSQL(table pgx.Identifier, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pgx.Identifier{c}.Sanitize() + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table.Sanitize(), strings.Join(defs, ", "))
}
