package ledger

import (
	"context"

	"signal_trader/pkg/db"
)

type pgBackend struct {
	tm db.TxManager
	tx db.Transaction
}

func newPgBackend(tm db.TxManager) *pgBackend {
	return &pgBackend{tm: tm, tx: tm.Conn()}
}

func (p *pgBackend) exec(ctx context.Context, q string, args ...any) (int64, error) {
	tag, err := p.tx.Exec(ctx, rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *pgBackend) queryRow(ctx context.Context, q string, args ...any) rowScanner {
	return p.tx.QueryRow(ctx, rebind(q), args...)
}

func (p *pgBackend) query(ctx context.Context, q string, args []any, each func(rowScanner) error) error {
	rows, err := p.tx.Query(ctx, rebind(q), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err = each(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *pgBackend) inTx(ctx context.Context, fn func(ctx context.Context, b backend) error) error {
	return p.tm.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		return fn(ctxTx, &pgBackend{tm: p.tm, tx: tx})
	})
}

func (p *pgBackend) dialect() dialect { return dialectPostgres }
