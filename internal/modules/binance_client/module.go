package binance_client

import (
	"go.uber.org/fx"

	"signal_trader/internal/exchange"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/binance_client/service"
	"signal_trader/internal/modules/config"
	"signal_trader/pkg/logger"
)

// Register добавляет spot и futures адаптеры binance в реестр, если биржа включена.
func Register(cfg *config.Config, reg *exchange.Registry) {
	bc := cfg.Binance
	if !bc.Enabled {
		logger.Info("[BINANCE] disabled")
		return
	}
	reg.Register(service.NewSpot(bc.APIKey, bc.Secret, bc.Testnet, bc.RateLimit))
	reg.Register(service.NewFutures(bc.APIKey, bc.Secret, bc.Testnet, bc.RateLimit))
	reg.SetLongMarket("binance", models.MarketType(bc.LongMarket))
	logger.Info("[BINANCE] adapters registered (testnet=%v, long market=%s)", bc.Testnet, bc.LongMarket)
}

func Module() fx.Option {
	return fx.Module("binance_client",
		fx.Invoke(Register),
	)
}
