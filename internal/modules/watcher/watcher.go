package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal_trader/internal/exchange"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/engine"
	"signal_trader/internal/modules/ledger"
	"signal_trader/internal/modules/risk"
	"signal_trader/pkg/logger"
)

// StatusSink — куда отдаём состояние потоков (health).
type StatusSink interface {
	SetStream(key string, up bool)
	TouchTick(t time.Time)
}

type Options struct {
	ReconcileInterval time.Duration
	SymbolRefresh     time.Duration
	ReconnectDelay    time.Duration
	PingInterval      time.Duration
	SettingsReload    time.Duration
}

// Watcher живёт отдельно от циклов сделок: ws-цены для безубытка и полная сверка всех open.
type Watcher struct {
	store     *ledger.Store
	exchanges *exchange.Registry
	recon     *engine.Reconciler
	settings  *risk.SettingsStore
	sink      StatusSink
	opts      Options
	dialer    *websocket.Dialer
}

func New(store *ledger.Store, exchanges *exchange.Registry, recon *engine.Reconciler, settings *risk.SettingsStore, sink StatusSink, opts Options) *Watcher {
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = 30 * time.Second
	}
	if opts.SymbolRefresh <= 0 {
		opts.SymbolRefresh = 300 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	return &Watcher{
		store:     store,
		exchanges: exchanges,
		recon:     recon,
		settings:  settings,
		sink:      sink,
		opts:      opts,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run блокируется до отмены ctx.
func (w *Watcher) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, ad := range w.exchanges.All() {
		ps, ok := ad.(exchange.PriceStreamer)
		if !ok {
			continue
		}
		s := &stream{w: w, ad: ad, ps: ps}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reconcileLoop(ctx)
	}()

	if w.settings != nil && w.opts.SettingsReload > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.settingsLoop(ctx)
		}()
	}

	logger.Info("[WATCHER] started")
	wg.Wait()
	logger.Info("[WATCHER] stopped")
}

func (w *Watcher) reconcileLoop(ctx context.Context) {
	t := time.NewTicker(w.opts.ReconcileInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce — шаги a-d для каждой open-сделки. Ошибки одной сделки не трогают остальные.
func (w *Watcher) ReconcileOnce(ctx context.Context) {
	trades, err := w.store.ActiveTrades(ctx, models.StatusOpen)
	if err != nil {
		logger.Warn("[WATCHER] load open trades: %v", err)
		return
	}
	for _, t := range trades {
		if ctx.Err() != nil {
			return
		}
		if t.Source == models.SourceExchange {
			continue
		}
		ad, err := w.exchanges.Get(t.Exchange, t.MarketType)
		if err != nil {
			continue
		}
		if _, err = w.recon.Check(ctx, t, ad); err != nil {
			logger.Warn("[WATCHER] reconcile trade %d %s %s: %v", t.ID, t.Ticker, t.Side, err)
		}
	}
}

func (w *Watcher) settingsLoop(ctx context.Context) {
	t := time.NewTicker(w.opts.SettingsReload)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.settings.Reload(ctx); err != nil {
				logger.Warn("[WATCHER] settings reload: %v", err)
			}
		}
	}
}

// awaitingBreakeven — open-сделки адаптера, у которых стоп ещё не перенесён.
func (w *Watcher) awaitingBreakeven(ctx context.Context, ad exchange.Adapter) ([]models.Trade, error) {
	trades, err := w.store.ActiveTrades(ctx, models.StatusOpen)
	if err != nil {
		return nil, err
	}
	var out []models.Trade
	for _, t := range trades {
		if t.Exchange == ad.Name() && t.MarketType == ad.Market() && !t.SLMoved && t.SLOrderID != "" && t.TP1 > 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

func (w *Watcher) setConnected(key string, v bool) {
	if w.sink == nil {
		return
	}
	w.sink.SetStream(key, v)
}

func (w *Watcher) touch() {
	if w.sink != nil {
		w.sink.TouchTick(time.Now())
	}
}
