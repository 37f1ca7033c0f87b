package watcher

import (
	"context"

	"go.uber.org/fx"

	"signal_trader/internal/exchange"
	"signal_trader/internal/modules/config"
	"signal_trader/internal/modules/engine"
	"signal_trader/internal/modules/health/service"
	"signal_trader/internal/modules/ledger"
	"signal_trader/internal/modules/risk"
)

func NewFromConfig(cfg *config.Config, store *ledger.Store, reg *exchange.Registry, recon *engine.Reconciler, settings *risk.SettingsStore, state *service.State) *Watcher {
	wc := cfg.Watcher
	return New(store, reg, recon, settings, state, Options{
		ReconcileInterval: wc.ReconcileInterval,
		SymbolRefresh:     wc.SymbolRefresh,
		ReconnectDelay:    wc.ReconnectDelay,
		PingInterval:      wc.PingInterval,
		SettingsReload:    wc.SettingsReload,
	})
}

func Module() fx.Option {
	return fx.Module("watcher",
		fx.Provide(NewFromConfig),
		fx.Invoke(func(lc fx.Lifecycle, w *Watcher) {
			var (
				cancel context.CancelFunc
				done   = make(chan struct{})
			)
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					var ctx context.Context
					ctx, cancel = context.WithCancel(context.Background())
					go func() {
						defer close(done)
						w.Run(ctx)
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-ctx.Done():
					}
					return nil
				},
			})
		}),
	)
}
