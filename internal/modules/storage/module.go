package storage

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"signal_trader/internal/modules/config"
	"signal_trader/internal/modules/ledger"
	"signal_trader/pkg/db"
	"signal_trader/pkg/logger"
)

// Open открывает postgres или sqlite по storage.driver и прогоняет миграции.
// closeFn освобождает пул или файл базы.
func Open(ctx context.Context, cfg *config.Config) (store *ledger.Store, closeFn func() error, err error) {
	switch cfg.Storage.Driver {
	case "postgres":
		poolMaster, err := db.NewPool(ctx, db.PoolConfig{
			DSN:      cfg.Storage.DSN,
			MaxConns: cfg.Storage.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create poolMaster: %w", err)
		}
		if err = poolMaster.Ping(ctx); err != nil {
			poolMaster.Close()
			return nil, nil, err
		}
		tm := db.NewPgTxManager(poolMaster)
		store = ledger.NewPgStore(tm)
		closeFn = func() error {
			tm.Close()
			return nil
		}

	case "sqlite":
		sq, err := db.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store = ledger.NewSQLiteStore(sq)
		closeFn = sq.Close

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if err = store.Migrate(ctx); err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	logger.Info("storage ready: driver=%s", store.Driver())
	return store, closeFn, nil
}

func NewStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*ledger.Store, error) {
	store, closeFn, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return closeFn()
	}})
	return store, nil
}

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(NewStore),
	)
}
