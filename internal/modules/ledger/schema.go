package ledger

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

const idPlaceholder = "{{ID}}"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id {{ID}},
		ticker TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		qty DOUBLE PRECISION NOT NULL DEFAULT 0,
		amount_usdt DOUBLE PRECISION NOT NULL DEFAULT 0,
		tp1 DOUBLE PRECISION NOT NULL DEFAULT 0,
		tp2 DOUBLE PRECISION NOT NULL DEFAULT 0,
		tp3 DOUBLE PRECISION NOT NULL DEFAULT 0,
		tp4 DOUBLE PRECISION NOT NULL DEFAULT 0,
		sl DOUBLE PRECISION NOT NULL DEFAULT 0,
		sl_initial DOUBLE PRECISION NOT NULL DEFAULT 0,
		channel TEXT NOT NULL DEFAULT '',
		exchange_name TEXT NOT NULL DEFAULT '',
		market_type TEXT NOT NULL DEFAULT '',
		leverage INTEGER NOT NULL DEFAULT 1,
		source TEXT NOT NULL DEFAULT 'signal',
		filled_price DOUBLE PRECISION,
		filled_qty DOUBLE PRECISION,
		remaining_qty DOUBLE PRECISION,
		exit_price DOUBLE PRECISION,
		result TEXT NOT NULL DEFAULT '',
		pnl_usdt DOUBLE PRECISION,
		pnl_pct DOUBLE PRECISION,
		tp1_hit BOOLEAN NOT NULL DEFAULT FALSE,
		sl_moved BOOLEAN NOT NULL DEFAULT FALSE,
		exchange_order_id TEXT NOT NULL DEFAULT '',
		sl_order_id TEXT NOT NULL DEFAULT '',
		tp_order_id TEXT NOT NULL DEFAULT '',
		close_order_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		filled_at BIGINT,
		closed_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades (closed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_channel ON trades (channel)`,
	// идемпотентность импорта: один ордер биржи = одна строка
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_trades_synced_order
		ON trades (exchange_name, exchange_order_id) WHERE source = 'exchange'`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS channel_formats (
		id {{ID}},
		channel_id TEXT NOT NULL UNIQUE,
		channel_name TEXT NOT NULL DEFAULT '',
		template TEXT NOT NULL,
		default_side TEXT NOT NULL DEFAULT 'LONG',
		trade_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		exchange_name TEXT NOT NULL DEFAULT 'binance',
		noise_filter TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// Migrate создаёт таблицы, если их нет. Повторный вызов безопасен.
func (s *Store) Migrate(ctx context.Context) error {
	idType := "BIGSERIAL PRIMARY KEY"
	if s.b.dialect() == dialectSQLite {
		idType = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return s.b.inTx(ctx, func(ctx context.Context, b backend) error {
		for _, stmt := range schema {
			if _, err := b.exec(ctx, strings.ReplaceAll(stmt, idPlaceholder, idType)); err != nil {
				return errors.Wrapf(err, "migrate: %s", firstLine(stmt))
			}
		}
		return nil
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i > 0 {
		return s[:i]
	}
	return s
}
