package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_trader/internal/models"
	"signal_trader/pkg/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sq, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	s := NewSQLiteStore(sq)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func f64(v float64) *float64 { return &v }

func openTrade(ticker string, side models.Side) *models.Trade {
	return &models.Trade{
		Ticker:     ticker,
		Side:       side,
		EntryPrice: 100,
		Qty:        1,
		AmountUSDT: 100,
		TP1:        101.5, TP2: 103.5, TP3: 110, TP4: 110,
		SL: 95, SLInitial: 95,
		Channel:    "vip",
		Exchange:   "binance",
		MarketType: models.MarketFutures,
		Leverage:   1,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestInsertAndGetTrade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tr := openTrade("BTC", models.SideLong)
	id, err := s.InsertTrade(ctx, tr)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.GetTrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, models.SourceSignal, got.Source)
	assert.Equal(t, 95.0, got.SLInitial)
	assert.Nil(t, got.FilledPrice)
	assert.False(t, got.SLMoved)

	_, err = s.GetTrade(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAndFinishTrade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tr := openTrade("ETH", models.SideShort)
	_, err := s.InsertTrade(ctx, tr)
	require.NoError(t, err)

	open := models.StatusOpen
	now := time.Now()
	require.NoError(t, s.UpdateTrade(ctx, tr.ID, models.TradePatch{
		Status:      &open,
		FilledPrice: f64(100.5),
		FilledQty:   f64(1),
		FilledAt:    &now,
	}))

	closed := models.StatusClosed
	res := models.ResultTPHit
	won, err := s.FinishTrade(ctx, tr.ID, models.TradePatch{Status: &closed, Result: &res, PnLUSDT: f64(5)}, models.StatusOpen)
	require.NoError(t, err)
	assert.True(t, won)

	// второй финализатор проигрывает
	res2 := models.ResultSLHit
	won, err = s.FinishTrade(ctx, tr.ID, models.TradePatch{Status: &closed, Result: &res2}, models.StatusOpen)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := s.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultTPHit, got.Result)
	require.NotNil(t, got.FilledPrice)
	assert.Equal(t, 100.5, *got.FilledPrice)
	require.NotNil(t, got.FilledAt)
}

func TestMarkBreakevenOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tr := openTrade("SOL", models.SideLong)
	tr.Status = models.StatusOpen
	_, err := s.InsertTrade(ctx, tr)
	require.NoError(t, err)

	ok, err := s.MarkBreakeven(ctx, tr.ID, 100, "sl-2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkBreakeven(ctx, tr.ID, 100, "sl-3")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, got.TP1Hit)
	assert.True(t, got.SLMoved)
	assert.Equal(t, "sl-2", got.SLOrderID)
	assert.Equal(t, 100.0, got.SL)
	assert.Equal(t, 95.0, got.SLInitial)
}

func TestActiveAndListTrades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := openTrade("BTC", models.SideLong)
	b := openTrade("ETH", models.SideLong)
	b.Status = models.StatusOpen
	c := openTrade("XRP", models.SideShort)
	c.Status = models.StatusClosed
	c.Channel = "other"
	for _, tr := range []*models.Trade{a, b, c} {
		_, err := s.InsertTrade(ctx, tr)
		require.NoError(t, err)
	}

	active, err := s.ActiveTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	onlyOpen, err := s.ActiveTrades(ctx, models.StatusOpen)
	require.NoError(t, err)
	require.Len(t, onlyOpen, 1)
	assert.Equal(t, "ETH", onlyOpen[0].Ticker)

	list, err := s.ListTrades(ctx, models.TradeFilter{Channel: "other"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "XRP", list[0].Ticker)

	list, err = s.ListTrades(ctx, models.TradeFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "XRP", list[0].Ticker)
}

func TestSyncedTradeIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mk := func() *models.Trade {
		now := time.Now()
		return &models.Trade{
			Ticker: "BTC", Side: models.SideLong, Status: models.StatusClosed,
			EntryPrice: 100, Qty: 1, Exchange: "okx", MarketType: models.MarketSpot,
			Result: models.ResultExchangeSync, EntryOrderID: "777", ClosedAt: &now,
		}
	}
	ok, err := s.InsertSyncedTrade(ctx, mk())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertSyncedTrade(ctx, mk())
	require.NoError(t, err)
	assert.False(t, ok)

	// тот же id на другой бирже — отдельная строка
	other := mk()
	other.Exchange = "binance"
	ok, err = s.InsertSyncedTrade(ctx, other)
	require.NoError(t, err)
	assert.True(t, ok)

	known, err := s.KnownExchangeOrderIDs(ctx, "okx")
	require.NoError(t, err)
	assert.True(t, known["777"])
}

func TestKnownOrderIDsIncludeExitOrders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tr := openTrade("BTC", models.SideLong)
	tr.EntryOrderID, tr.SLOrderID, tr.TPOrderID = "e1", "s1", "t1"
	_, err := s.InsertTrade(ctx, tr)
	require.NoError(t, err)

	known, err := s.KnownExchangeOrderIDs(ctx, "binance")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"e1": true, "s1": true, "t1": true}, known)
}

func TestSettingsAndSyncState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveSettings(ctx, map[string]string{"TRADE_AMOUNT": "100", "MAX_CONCURRENT": "3"}))
	require.NoError(t, s.SaveSettings(ctx, map[string]string{"TRADE_AMOUNT": "250"}))
	kv, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"TRADE_AMOUNT": "250", "MAX_CONCURRENT": "3"}, kv)

	_, ok, err := s.GetSyncState(ctx, "last_sync_run")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSyncState(ctx, "last_sync_run", "1700000000"))
	v, ok, err := s.GetSyncState(ctx, "last_sync_run")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1700000000", v)
}

func TestChannelFormatCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &models.ChannelFormat{ChannelID: "-1001", ChannelName: "VIP", Template: "{ticker} {side}", Enabled: true}
	id, err := s.CreateChannelFormat(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, models.SideLong, f.DefaultSide)

	okx := "OKX"
	disabled := false
	require.NoError(t, s.UpdateChannelFormat(ctx, id, models.ChannelFormatPatch{Exchange: &okx, Enabled: &disabled}))

	got, err := s.GetChannelFormat(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "okx", got.Exchange)
	assert.False(t, got.Enabled)

	list, err := s.ListChannelFormats(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteChannelFormat(ctx, id))
	assert.ErrorIs(t, s.DeleteChannelFormat(ctx, id), ErrNotFound)
}

func TestStatsAndTodayPnL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	win := openTrade("BTC", models.SideLong)
	win.Status, win.PnLUSDT, win.PnLPct, win.ClosedAt = models.StatusClosed, f64(10), f64(10), &now
	loss := openTrade("ETH", models.SideLong)
	loss.Status, loss.PnLUSDT, loss.PnLPct, loss.ClosedAt = models.StatusClosed, f64(-4), f64(-4), &now
	pending := openTrade("SOL", models.SideShort)
	pending.Channel = "free"
	for _, tr := range []*models.Trade{win, loss, pending} {
		_, err := s.InsertTrade(ctx, tr)
		require.NoError(t, err)
	}

	st, err := s.Stats(ctx, models.PeriodLifetime, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalTrades)
	assert.Equal(t, int64(2), st.ClosedTrades)
	assert.Equal(t, int64(1), st.Wins)
	assert.Equal(t, 50.0, st.WinRate)
	assert.Equal(t, 6.0, st.TotalPnL)
	assert.Equal(t, 6.0, st.TodayPnL)
	assert.Equal(t, int64(1), st.OpenCount)

	st, err = s.Stats(ctx, models.PeriodToday, "free")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalTrades)
	assert.Equal(t, int64(0), st.ClosedTrades)

	pnl, err := s.TodayPnL(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, pnl, 1e-9)

	rows, err := s.ChannelBreakdown(ctx, models.PeriodWeek)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "free", rows[0].Channel)
	assert.Equal(t, "vip", rows[1].Channel)
	assert.Equal(t, 3.0, rows[1].AvgPnL)
}
