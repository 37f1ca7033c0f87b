package exchange_sync

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/fx"

	"signal_trader/internal/exchange"
	"signal_trader/internal/modules/config"
	"signal_trader/internal/modules/engine"
	"signal_trader/internal/modules/ledger"
	"signal_trader/internal/modules/risk"
	"signal_trader/pkg/logger"
)

func NewFromConfig(cfg *config.Config, store *ledger.Store, reg *exchange.Registry, gate *risk.Gatekeeper) *Syncer {
	return New(store, reg, gate, Config{
		Cooldown:        cfg.Sync.Cooldown,
		DefaultLookback: cfg.Sync.DefaultLookback,
	})
}

// Module — синк по расписанию и фоновый запуск после каждого принятого сигнала.
func Module() fx.Option {
	return fx.Module("exchange_sync",
		fx.Provide(NewFromConfig),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, s *Syncer, e *engine.Engine) {
			if !cfg.Sync.Enabled {
				logger.Info("[SYNC] disabled")
				return
			}
			ctx, cancel := context.WithCancel(context.Background())
			background := func() {
				go func() {
					if _, err := s.Run(ctx, Options{}); err != nil && !errors.Is(err, ErrRunning) {
						logger.Warn("[SYNC] background run failed (non-fatal): %v", err)
					}
				}()
			}

			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					e.SetSyncTrigger(background)
					if cfg.Sync.Interval > 0 {
						go schedule(ctx, cfg.Sync.Interval, background)
					}
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}

func schedule(ctx context.Context, every time.Duration, fn func()) {
	t := time.NewTicker(every)
	defer t.Stop()
	fn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
