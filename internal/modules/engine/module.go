package engine

import (
	"context"

	"go.uber.org/fx"

	"signal_trader/internal/exchange"
	"signal_trader/internal/modules/config"
	"signal_trader/internal/modules/ledger"
	"signal_trader/internal/modules/parser"
	"signal_trader/internal/modules/risk"
	"signal_trader/internal/notify"
)

func NewFromConfig(
	cfg *config.Config,
	store *ledger.Store,
	gate *risk.Gatekeeper,
	settings *risk.SettingsStore,
	exchanges *exchange.Registry,
	formats *parser.Registry,
	notifier notify.Notifier,
	recon *Reconciler,
) *Engine {
	return New(store, gate, settings, exchanges, formats, notifier, recon, Options{
		FillPollInterval: cfg.Engine.FillPollInterval,
		MonitorInterval:  cfg.Engine.MonitorInterval,
		TakeProfitTarget: cfg.Engine.TakeProfitTarget,
		SourceChannels:   cfg.Telegram.SourceChannels,
	})
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			parser.NewRegistry,
			func(cfg *config.Config, store *ledger.Store, gate *risk.Gatekeeper, n notify.Notifier) *Reconciler {
				return NewReconciler(store, gate, n, cfg.Engine.BalanceTolerance)
			},
			NewFromConfig,
		),
		fx.Invoke(func(lc fx.Lifecycle, e *Engine) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return e.Start(ctx)
				},
				OnStop: func(context.Context) error {
					e.Stop()
					return nil
				},
			})
		}),
	)
}
