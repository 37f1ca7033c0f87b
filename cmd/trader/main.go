package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"signal_trader/internal/exchange"
	"signal_trader/internal/metrics"
	"signal_trader/internal/modules/api"
	"signal_trader/internal/modules/binance_client"
	"signal_trader/internal/modules/config"
	"signal_trader/internal/modules/engine"
	"signal_trader/internal/modules/exchange_sync"
	"signal_trader/internal/modules/health"
	"signal_trader/internal/modules/okx_client"
	"signal_trader/internal/modules/risk"
	"signal_trader/internal/modules/storage"
	telegram "signal_trader/internal/modules/telegram_bot"
	"signal_trader/internal/modules/watcher"
	"signal_trader/pkg/logger"
	"signal_trader/pkg/tracing"
)

const serviceName = "signal_trader"

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger.SetServiceName(serviceName)
	zl, err := logger.Init(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()

	tracing.SetServiceName(serviceName)
	_, closeTracer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.Fatal("init tracer: %v", err)
	}
	defer closeTracer()

	metrics.Register()

	app := fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zl.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		config.Module(cfg),
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			exchange.NewRegistry,
			func(e *engine.Engine) health.ActiveSource { return e },
		),
		storage.Module(),
		risk.Module(),
		binance_client.Module(),
		okx_client.Module(),
		engine.Module(),
		watcher.Module(),
		exchange_sync.Module(),
		telegram.Module(),
		api.Module(),
		health.Module(),
		fx.Invoke(health.MarkReady),
	)
	app.Run()
}
