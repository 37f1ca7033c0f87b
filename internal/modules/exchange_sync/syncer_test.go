package exchange_sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_trader/internal/exchange"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/ledger"
	"signal_trader/pkg/db"
)

// historyAdapter — только история сделок; торговые методы не нужны.
type historyAdapter struct {
	exchange.Adapter

	name   string
	market models.MarketType

	mu       sync.Mutex
	fills    map[string][]exchange.Fill
	failSym  map[string]error
	sinces   []time.Time
	discover int
}

func (h *historyAdapter) Name() string              { return h.name }
func (h *historyAdapter) Market() models.MarketType { return h.market }

func (h *historyAdapter) DiscoverSymbols(_ context.Context, since time.Time) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discover++
	h.sinces = append(h.sinces, since)
	var out []string
	for s := range h.fills {
		out = append(out, s)
	}
	for s := range h.failSym {
		if _, ok := h.fills[s]; !ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (h *historyAdapter) FetchMyTrades(_ context.Context, ticker string, _ time.Time) ([]exchange.Fill, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failSym[ticker]; err != nil {
		return nil, err
	}
	return h.fills[ticker], nil
}

type pnlSum struct {
	mu  sync.Mutex
	sum float64
	n   int
}

func (p *pnlSum) RecordPnL(usd float64) {
	p.mu.Lock()
	p.sum += usd
	p.n++
	p.mu.Unlock()
}

func newSyncer(t *testing.T, cfg Config, ads ...exchange.Adapter) (*Syncer, *ledger.Store, *pnlSum) {
	t.Helper()
	sq, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	store := ledger.NewSQLiteStore(sq)
	require.NoError(t, store.Migrate(context.Background()))

	reg := exchange.NewRegistry()
	for _, a := range ads {
		reg.Register(a)
	}
	p := &pnlSum{}
	return New(store, reg, p, cfg), store, p
}

func TestGroupByOrderVWAP(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	got := groupByOrder([]exchange.Fill{
		{OrderID: "o2", Ticker: "ETH", Side: "sell", Price: 3000, Qty: 1, Time: t0.Add(time.Hour)},
		{OrderID: "o1", Ticker: "BTC", Side: "buy", Price: 60000, Qty: 0.001, RealizedPnL: 1.5, Time: t0.Add(time.Minute)},
		{OrderID: "o1", Ticker: "BTC", Side: "buy", Price: 61000, Qty: 0.003, RealizedPnL: 0.5, Time: t0},
		{OrderID: "", Ticker: "BTC", Price: 1, Qty: 1},
	})
	require.Len(t, got, 2)

	o1 := got[0]
	assert.Equal(t, "o1", o1.OrderID)
	assert.InDelta(t, 0.004, o1.Qty, 1e-12)
	assert.InDelta(t, 60750, o1.AvgPrice, 1e-9)
	assert.InDelta(t, 243, o1.Cost, 1e-9)
	assert.InDelta(t, 2.0, o1.RealizedPnL, 1e-12)
	assert.Equal(t, t0, o1.Time)

	assert.Equal(t, "o2", got[1].OrderID)
	assert.Equal(t, "sell", got[1].Side)
}

func TestRunImportsUnknownOrdersOnce(t *testing.T) {
	now := time.Now()
	fut := &historyAdapter{name: "binance", market: models.MarketFutures, fills: map[string][]exchange.Fill{
		"SOL": {
			{OrderID: "100", Ticker: "SOL", Side: "sell", Price: 150, Qty: 2, RealizedPnL: 4.256, Time: now.Add(-time.Minute)},
			{OrderID: "101", Ticker: "SOL", Side: "buy", Price: 148, Qty: 1, Time: now.Add(-2 * time.Minute)},
		},
	}}
	s, store, pnl := newSyncer(t, Config{}, fut)
	ctx := context.Background()

	own := &models.Trade{Ticker: "SOL", Side: models.SideLong, Exchange: "binance", MarketType: models.MarketFutures,
		Status: models.StatusOpen, Source: models.SourceSignal, EntryOrderID: "101", CreatedAt: now}
	_, err := store.InsertTrade(ctx, own)
	require.NoError(t, err)

	n, err := s.Run(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := store.ListTrades(ctx, models.TradeFilter{Status: string(models.StatusClosed)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, models.SourceExchange, r.Source)
	assert.Equal(t, models.ResultExchangeSync, r.Result)
	assert.Equal(t, models.SideShort, r.Side)
	assert.Equal(t, "100", r.EntryOrderID)
	assert.Equal(t, 300.0, r.AmountUSDT)
	require.NotNil(t, r.PnLUSDT)
	assert.Equal(t, 4.26, *r.PnLUSDT)
	require.NotNil(t, r.PnLPct)
	assert.Equal(t, 1.42, *r.PnLPct)
	require.NotNil(t, r.ExitPrice)
	assert.Equal(t, 150.0, *r.ExitPrice)

	assert.Equal(t, 1, pnl.n)
	assert.InDelta(t, 4.26, pnl.sum, 1e-9)

	n, err = s.Run(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, pnl.n)
}

func TestRunSkipsTriggeredExitChild(t *testing.T) {
	now := time.Now()
	okx := &historyAdapter{name: "okx", market: models.MarketFutures, fills: map[string][]exchange.Fill{
		"BTC": {
			{OrderID: "E1", Ticker: "BTC", Side: "buy", Price: 60000, Qty: 0.01, Time: now.Add(-time.Hour)},
			// SL сработал: исполнение пришло под дочерним ordId, а не algoId
			{OrderID: "C9", Ticker: "BTC", Side: "sell", Price: 59000, Qty: 0.01, RealizedPnL: -10, Time: now.Add(-time.Minute)},
		},
	}}
	s, store, pnl := newSyncer(t, Config{}, okx)
	ctx := context.Background()

	own := &models.Trade{Ticker: "BTC", Side: models.SideLong, Exchange: "okx", MarketType: models.MarketFutures,
		Status: models.StatusClosed, Source: models.SourceSignal, Result: models.ResultSLHit,
		EntryOrderID: "E1", SLOrderID: "A1", TPOrderID: "A2", CloseOrderID: "C9", CreatedAt: now.Add(-time.Hour)}
	_, err := store.InsertTrade(ctx, own)
	require.NoError(t, err)

	n, err := s.Run(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, pnl.n)

	rows, err := store.ListTrades(ctx, models.TradeFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCursorAdvancesOnlyOnFullSuccess(t *testing.T) {
	spot := &historyAdapter{name: "binance", market: models.MarketSpot,
		fills:   map[string][]exchange.Fill{"BTC": {{OrderID: "1", Ticker: "BTC", Side: "buy", Price: 60000, Qty: 0.001, Time: time.Now()}}},
		failSym: map[string]error{"ETH": errors.New("rate limited")},
	}
	s, store, _ := newSyncer(t, Config{DefaultLookback: time.Hour}, spot)
	ctx := context.Background()

	n, err := s.Run(ctx, Options{Force: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, 1, n)

	_, ok, err := store.GetSyncState(ctx, cursorKey(spot))
	require.NoError(t, err)
	assert.False(t, ok)

	spot.failSym = nil
	_, err = s.Run(ctx, Options{Force: true})
	require.NoError(t, err)
	raw, ok, err := store.GetSyncState(ctx, cursorKey(spot))
	require.NoError(t, err)
	require.True(t, ok)
	cur, err := parseMs(raw)
	require.NoError(t, err)

	_, err = s.Run(ctx, Options{Force: true})
	require.NoError(t, err)
	require.Len(t, spot.sinces, 3)
	assert.Equal(t, cur.UnixMilli(), spot.sinces[2].UnixMilli())
}

func TestCooldownAndExchangeFilter(t *testing.T) {
	bn := &historyAdapter{name: "binance", market: models.MarketSpot, fills: map[string][]exchange.Fill{}}
	okx := &historyAdapter{name: "okx", market: models.MarketFutures, fills: map[string][]exchange.Fill{}}
	s, _, _ := newSyncer(t, Config{Cooldown: 5 * time.Minute}, bn, okx)
	ctx := context.Background()

	_, err := s.Run(ctx, Options{Exchange: "OKX"})
	require.NoError(t, err)
	assert.Zero(t, bn.discover)
	assert.Equal(t, 1, okx.discover)

	_, err = s.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, bn.discover)

	s.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	_, err = s.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, bn.discover)
	assert.Equal(t, 2, okx.discover)

	_, err = s.Run(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, bn.discover)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	s, _, _ := newSyncer(t, Config{})
	s.running.Lock()
	defer s.running.Unlock()
	_, err := s.Run(context.Background(), Options{Force: true})
	assert.ErrorIs(t, err, ErrRunning)
}
