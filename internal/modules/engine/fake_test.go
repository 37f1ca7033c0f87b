package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/ledger"
	"signal_trader/internal/modules/parser"
	"signal_trader/internal/modules/risk"
	"signal_trader/pkg/db"
)

// fakeAdapter — скриптуемая биржа в памяти.
type fakeAdapter struct {
	mu sync.Mutex

	name   string
	market models.MarketType
	step   float64
	effLev int

	price       float64
	balance     float64
	positions   []exchange.Position
	entryStatus exchange.OrderStatus

	failExit  map[exchange.OrderKind]error
	failClose error

	seq      int
	orders   map[string]*exchange.Order
	exits    []exchange.ExitRequest
	closes   []exchange.Position
	canceled []string
}

func newFake(name string, market models.MarketType) *fakeAdapter {
	return &fakeAdapter{
		name:        name,
		market:      market,
		step:        0.00001,
		entryStatus: exchange.OrderOpen,
		failExit:    map[exchange.OrderKind]error{},
		orders:      map[string]*exchange.Order{},
	}
}

func (f *fakeAdapter) Name() string              { return f.name }
func (f *fakeAdapter) Market() models.MarketType { return f.market }

func (f *fakeAdapter) LastPrice(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, nil
}

func (f *fakeAdapter) AmountToPrecision(_ context.Context, _ string, qty float64) (float64, error) {
	return helper.RoundDownToStep(qty, f.step), nil
}

func (f *fakeAdapter) newOrderLocked(kind exchange.OrderKind, status exchange.OrderStatus) *exchange.Order {
	f.seq++
	o := &exchange.Order{ID: fmt.Sprintf("%s-%d", kind, f.seq), Kind: kind, Status: status}
	f.orders[o.ID] = o
	return o
}

func (f *fakeAdapter) CreateEntryOrder(_ context.Context, req exchange.EntryRequest) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.newOrderLocked(exchange.KindEntry, f.entryStatus)
	o.Symbol, o.Side, o.Price, o.Amount = req.Ticker, req.Side.OpenSide(), req.Price, req.Qty
	if o.Status == exchange.OrderClosed {
		o.Filled = req.Qty
		o.Average = req.Price
		if o.Average == 0 {
			o.Average = f.price
		}
	}
	cp := *o
	return &cp, nil
}

func (f *fakeAdapter) CreateExitOrder(_ context.Context, req exchange.ExitRequest) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failExit[req.Kind]; err != nil {
		return nil, err
	}
	f.exits = append(f.exits, req)
	o := f.newOrderLocked(req.Kind, exchange.OrderOpen)
	o.Symbol, o.Side, o.TriggerPrice, o.Amount = req.Ticker, req.Side.CloseSide(), req.TriggerPrice, req.Qty
	cp := *o
	return &cp, nil
}

func (f *fakeAdapter) CloseMarket(_ context.Context, ticker string, side models.Side, qty float64) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failClose != nil {
		return nil, f.failClose
	}
	f.closes = append(f.closes, exchange.Position{Symbol: ticker, Side: side, Qty: qty})
	o := f.newOrderLocked(exchange.KindClose, exchange.OrderClosed)
	o.Filled, o.Average = qty, f.price
	cp := *o
	return &cp, nil
}

func (f *fakeAdapter) FetchOrder(_ context.Context, _ string, id string, _ exchange.OrderKind) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeAdapter) CancelOrder(_ context.Context, _ string, id string, _ exchange.OrderKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != exchange.OrderOpen {
		return exchange.ErrOrderNotFound
	}
	o.Status = exchange.OrderCanceled
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeAdapter) FetchPositions(context.Context, string) ([]exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.market == models.MarketSpot {
		return nil, exchange.ErrNotSupported
	}
	return append([]exchange.Position(nil), f.positions...), nil
}

func (f *fakeAdapter) FetchBalance(_ context.Context, asset string) (exchange.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return exchange.Balance{Asset: asset, Free: f.balance, Total: f.balance}, nil
}

func (f *fakeAdapter) SetLeverageAndMargin(context.Context, string, int) error { return nil }

func (f *fakeAdapter) FetchEffectiveLeverage(_ context.Context, _ string, fallback int) (int, error) {
	if f.effLev > 0 {
		return f.effLev, nil
	}
	return fallback, nil
}

func (f *fakeAdapter) DiscoverSymbols(context.Context, time.Time) ([]string, error) { return nil, nil }

func (f *fakeAdapter) FetchMyTrades(context.Context, string, time.Time) ([]exchange.Fill, error) {
	return nil, nil
}

// test helpers

func (f *fakeAdapter) set(fn func(f *fakeAdapter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAdapter) fill(id string, avg, qty float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	o.Status, o.Average, o.Filled = exchange.OrderClosed, avg, qty
}

func (f *fakeAdapter) exitReqs() []exchange.ExitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.ExitRequest(nil), f.exits...)
}

func (f *fakeAdapter) canceledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.canceled...)
}

func (f *fakeAdapter) closed() []exchange.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.Position(nil), f.closes...)
}

func (f *fakeAdapter) ordersOf(kind exchange.OrderKind) []exchange.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []exchange.Order
	for i := 1; i <= f.seq; i++ {
		if o, ok := f.orders[fmt.Sprintf("%s-%d", kind, i)]; ok {
			out = append(out, *o)
		}
	}
	return out
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Send(msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) Sendf(format string, args ...any) { r.Send(fmt.Sprintf(format, args...)) }

func (r *recorder) contains(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

type harness struct {
	store    *ledger.Store
	gate     *risk.Gatekeeper
	settings *risk.SettingsStore
	reg      *exchange.Registry
	recon    *Reconciler
	eng      *Engine
	spot     *fakeAdapter
	fut      *fakeAdapter
	notes    *recorder
}

func newHarness(t *testing.T, mutate func(*models.Settings)) *harness {
	t.Helper()
	sq, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	store := ledger.NewSQLiteStore(sq)
	require.NoError(t, store.Migrate(context.Background()))

	st := models.Settings{
		TradeAmount:    100,
		SellBlocked:    map[string]bool{},
		TradeBlocked:   map[string]bool{},
		MaxConcurrent:  5,
		DailyLossLimit: 500,
		EntryTimeout:   600,
		MaxLeverage:    20,
	}
	if mutate != nil {
		mutate(&st)
	}
	settings := risk.NewSettingsStore(store, st)
	require.NoError(t, settings.Load(context.Background()))
	gate := risk.NewGatekeeper(settings)

	h := &harness{
		store:    store,
		gate:     gate,
		settings: settings,
		reg:      exchange.NewRegistry(),
		spot:     newFake("binance", models.MarketSpot),
		fut:      newFake("binance", models.MarketFutures),
		notes:    &recorder{},
	}
	h.reg.Register(h.spot)
	h.reg.Register(h.fut)
	h.reg.SetLongMarket("binance", models.MarketSpot)

	h.recon = NewReconciler(store, gate, h.notes, 0.95)
	h.eng = New(store, gate, settings, h.reg, parser.NewRegistry(), h.notes, h.recon, Options{
		FillPollInterval: 5 * time.Millisecond,
		MonitorInterval:  5 * time.Millisecond,
		TakeProfitTarget: "tp3",
	})
	t.Cleanup(h.eng.Stop)
	return h
}

func (h *harness) trade(t *testing.T, id int64) models.Trade {
	t.Helper()
	tr, err := h.store.GetTrade(context.Background(), id)
	require.NoError(t, err)
	return *tr
}

func (h *harness) onlyTrade(t *testing.T) models.Trade {
	t.Helper()
	list, err := h.store.ListTrades(context.Background(), models.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0]
}

// openTrade вставляет уже исполненную сделку с выставленными выходами.
func (h *harness) openTrade(t *testing.T, ad *fakeAdapter, side models.Side) models.Trade {
	t.Helper()
	ctx := context.Background()
	entry, qty := 100.0, 2.0
	tr := &models.Trade{
		Ticker: "ETH", Side: side, EntryPrice: entry, Qty: qty, AmountUSDT: 200,
		TP1: 101.5, TP2: 103.5, TP3: 110, TP4: 110, SL: 95, SLInitial: 95,
		Channel: "vip", Exchange: "binance", MarketType: ad.Market(), Leverage: 1,
		Status: models.StatusOpen, FilledPrice: ptr(entry), FilledQty: ptr(qty), RemainingQty: ptr(qty),
	}
	if side == models.SideShort {
		tr.TP1, tr.TP2, tr.TP3, tr.TP4, tr.SL, tr.SLInitial = 98.5, 96.5, 90, 90, 105, 105
	}
	sl, err := ad.CreateExitOrder(ctx, exchange.ExitRequest{Ticker: "ETH", Side: side, Kind: exchange.KindSL, Qty: qty, TriggerPrice: tr.SL})
	require.NoError(t, err)
	tp, err := ad.CreateExitOrder(ctx, exchange.ExitRequest{Ticker: "ETH", Side: side, Kind: exchange.KindTP, Qty: qty, TriggerPrice: tr.TP3})
	require.NoError(t, err)
	tr.SLOrderID, tr.TPOrderID = sl.ID, tp.ID
	_, err = h.store.InsertTrade(ctx, tr)
	require.NoError(t, err)

	ad.set(func(f *fakeAdapter) {
		f.price = entry
		f.balance = qty
		f.positions = []exchange.Position{{Symbol: "ETHUSDT", Side: side, Qty: qty, EntryPrice: entry}}
	})
	return *tr
}
