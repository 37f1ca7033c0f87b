package ledger

import (
	"context"
	"database/sql"

	"signal_trader/pkg/db"
)

// sqlExecutor — общее у *sql.DB и *sql.Tx.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteBackend struct {
	db *db.SQLite
	ex sqlExecutor
}

func newSQLiteBackend(s *db.SQLite) *sqliteBackend {
	return &sqliteBackend{db: s, ex: s.DB}
}

func (s *sqliteBackend) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := s.ex.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteBackend) queryRow(ctx context.Context, q string, args ...any) rowScanner {
	return s.ex.QueryRowContext(ctx, q, args...)
}

func (s *sqliteBackend) query(ctx context.Context, q string, args []any, each func(rowScanner) error) error {
	rows, err := s.ex.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err = each(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *sqliteBackend) inTx(ctx context.Context, fn func(ctx context.Context, b backend) error) error {
	if _, ok := s.ex.(*sql.Tx); ok {
		return fn(ctx, s)
	}
	return s.db.RunTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &sqliteBackend{db: s.db, ex: tx})
	})
}

func (s *sqliteBackend) dialect() dialect { return dialectSQLite }
