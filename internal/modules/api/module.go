package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/fx"

	"signal_trader/internal/modules/config"
	"signal_trader/internal/modules/engine"
	"signal_trader/internal/modules/exchange_sync"
	"signal_trader/internal/modules/ledger"
	"signal_trader/internal/modules/risk"
	"signal_trader/pkg/logger"
)

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, h *Handler) {
	addr := net.JoinHostPort(cfg.Service.Host, strconv.Itoa(cfg.Service.PublicPort))
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h, cfg.Service.CORSOrigin),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			logger.Info("[API] listening on %s", addr)
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("[API] serve: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("api",
		fx.Provide(
			func(store *ledger.Store, e *engine.Engine, settings *risk.SettingsStore, s *exchange_sync.Syncer) *Handler {
				return NewHandler(store, e, settings, s)
			},
		),
		fx.Invoke(RunHTTP),
	)
}
