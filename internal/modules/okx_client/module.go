package okx_client

import (
	"context"

	"go.uber.org/fx"

	"signal_trader/internal/exchange"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/config"
	"signal_trader/internal/modules/okx_client/service"
	"signal_trader/pkg/logger"
)

// Register добавляет OKX spot и swap в реестр; nil, если биржа выключена.
func Register(cfg *config.Config, reg *exchange.Registry) *service.Client {
	oc := cfg.OKX
	if !oc.Enabled {
		logger.Info("[OKX] disabled")
		return nil
	}
	client := service.NewClient(service.Options{
		APIKey:     oc.APIKey,
		Secret:     oc.Secret,
		Passphrase: oc.Passphrase,
		BaseURL:    oc.BaseURL,
		Demo:       oc.Testnet,
		RateLimit:  oc.RateLimit,
	})
	reg.Register(service.NewAdapter(client, models.MarketSpot))
	reg.Register(service.NewAdapter(client, models.MarketFutures))
	reg.SetLongMarket("okx", models.MarketType(oc.LongMarket))
	logger.Info("[OKX] adapters registered (demo=%v, long market=%s)", oc.Testnet, oc.LongMarket)
	return client
}

// Module на старте переводит аккаунт в net mode.
func Module() fx.Option {
	return fx.Module("okx_client",
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, reg *exchange.Registry) {
			client := Register(cfg, reg)
			if client == nil {
				return
			}
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := client.SetNetMode(ctx); err != nil {
						logger.Warn("[OKX] set position mode: %v", err)
					}
					return nil
				},
			})
		}),
	)
}
