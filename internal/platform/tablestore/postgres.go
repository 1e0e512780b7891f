package tablestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// undefinedTable is the Postgres SQLSTATE for a missing relation.
const undefinedTable = "42P01"

type pgPool interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore keeps the table in followup_rows, one text[] per row with
// the header at position 0. WriteAll replaces every row in a single
// transaction.
type PostgresStore struct {
	pool   pgPool
	logger zerolog.Logger
}

// NewPostgresStore returns a store using pool. The followup_rows table is
// created by the migrations in migrations/.
func NewPostgresStore(pool pgPool, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) ReadAll(ctx context.Context) (Table, error) {
	t, err := s.Load(ctx)
	return degrade(s.logger, t, err)
}

func (s *PostgresStore) Load(ctx context.Context) (Table, error) {
	rows, err := s.pool.Query(ctx, `SELECT cells FROM followup_rows ORDER BY position`)
	if err != nil {
		return s.readFailed(err)
	}
	defer rows.Close()

	var grid [][]string
	for rows.Next() {
		var cells []string
		if err := rows.Scan(&cells); err != nil {
			return Table{}, malformed("followup_rows", err)
		}
		grid = append(grid, cells)
	}
	if err := rows.Err(); err != nil {
		return s.readFailed(err)
	}
	return FromGrid(grid), nil
}

func (s *PostgresStore) readFailed(err error) (Table, error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return Table{}, nil
	}
	return Table{}, unavailable("postgres", "followup_rows", err)
}

func (s *PostgresStore) WriteAll(ctx context.Context, t Table) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM followup_rows`); err != nil {
		return fmt.Errorf("clear followup_rows: %w", err)
	}

	grid := t.Grid()
	rows := make([][]interface{}, len(grid))
	for i, cells := range grid {
		rows[i] = []interface{}{i, cells}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"followup_rows"},
		[]string{"position", "cells"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("copy followup_rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
