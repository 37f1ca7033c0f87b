package risk

import (
	"context"

	"go.uber.org/fx"

	"signal_trader/internal/models"
	"signal_trader/internal/modules/config"
	"signal_trader/internal/modules/ledger"
	"signal_trader/pkg/logger"
)

func DefaultsFromConfig(cfg *config.Config) models.Settings {
	t := cfg.Trading
	sell := make(map[string]bool)
	for _, s := range t.SellBlocked {
		for k := range models.ParseTickerSet(s) {
			sell[k] = true
		}
	}
	blocked := make(map[string]bool)
	for _, s := range t.TradeBlocked {
		for k := range models.ParseTickerSet(s) {
			blocked[k] = true
		}
	}
	return models.Settings{
		TradeAmount:    t.TradeAmount,
		SellBlocked:    sell,
		TradeBlocked:   blocked,
		MaxConcurrent:  t.MaxConcurrent,
		DailyLossLimit: t.DailyLossLimit,
		EntryTimeout:   t.EntryTimeout,
		MaxLeverage:    t.MaxLeverage,
	}
}

func Module() fx.Option {
	return fx.Module("risk",
		fx.Provide(
			func(store *ledger.Store, cfg *config.Config) *SettingsStore {
				return NewSettingsStore(store, DefaultsFromConfig(cfg))
			},
			NewGatekeeper,
		),
		fx.Invoke(func(lc fx.Lifecycle, settings *SettingsStore, gate *Gatekeeper, store *ledger.Store) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := settings.Load(ctx); err != nil {
						return err
					}
					pnl, err := store.TodayPnL(ctx)
					if err != nil {
						return err
					}
					gate.SeedDailyPnL(pnl)
					logger.Info("today's realized PnL: %.2f USDT", pnl)
					return nil
				},
			})
		}),
	)
}
