package ledger

import (
	"context"

	"signal_trader/pkg/db"
)

// Store — единый леджер поверх postgres или sqlite.
type Store struct {
	b backend
}

func NewPgStore(tm db.TxManager) *Store {
	return &Store{b: newPgBackend(tm)}
}

func NewSQLiteStore(s *db.SQLite) *Store {
	return &Store{b: newSQLiteBackend(s)}
}

// InTx выполняет fn внутри одной транзакции; Store, переданный в fn, привязан к ней.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	return s.b.inTx(ctx, func(ctx context.Context, b backend) error {
		return fn(ctx, &Store{b: b})
	})
}

func (s *Store) Driver() string {
	if s.b.dialect() == dialectSQLite {
		return "sqlite"
	}
	return "postgres"
}
