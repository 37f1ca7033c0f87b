package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_trader/internal/exchange"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/risk"
)

const btcSignal = "#BTC – LONG\n진입 포인트: 66400\n목표 수익: 68000, 70000, 72000\n손절가: 63000"

func TestPnL(t *testing.T) {
	usd, pct := PnL(models.SideLong, 100, 110, 2)
	assert.Equal(t, 20.0, usd)
	assert.Equal(t, 10.0, pct)

	usd, pct = PnL(models.SideShort, 100, 110, 2)
	assert.Equal(t, -20.0, usd)
	assert.Equal(t, -10.0, pct)

	usd, pct = PnL(models.SideShort, 66400, 63000, 0.0015)
	assert.Equal(t, 5.1, usd)
	assert.Equal(t, 5.12, pct)

	usd, pct = PnL(models.SideLong, 0, 10, 1)
	assert.Zero(t, usd)
	assert.Zero(t, pct)
}

func TestTakeProfitPrice(t *testing.T) {
	tr := models.Trade{TP3: 72000, TP4: 75000}
	assert.Equal(t, 72000.0, takeProfitPrice(tr, "tp3"))
	assert.Equal(t, 75000.0, takeProfitPrice(tr, "tp4"))
	tr.TP4 = 0
	assert.Equal(t, 72000.0, takeProfitPrice(tr, "tp4"))
}

func TestSimulateBTCLongScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.spot.set(func(f *fakeAdapter) {
		f.entryStatus = exchange.OrderClosed
		f.balance = 1
	})

	res, err := h.eng.Simulate(context.Background(), btcSignal, "")
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Status)
	assert.Equal(t, models.MarketSpot, res.Market)
	assert.Equal(t, 100.0, res.TradeAmount)
	assert.Equal(t, "default", res.Template)
	assert.Equal(t, []string{"BTC_LONG"}, h.eng.ActiveKeys())

	require.Eventually(t, func() bool { return len(h.spot.exitReqs()) == 2 }, 2*time.Second, 5*time.Millisecond)

	exits := h.spot.exitReqs()
	assert.Equal(t, exchange.KindSL, exits[0].Kind)
	assert.Equal(t, 63000.0, exits[0].TriggerPrice)
	assert.Equal(t, exchange.KindTP, exits[1].Kind)
	assert.Equal(t, 72000.0, exits[1].TriggerPrice)
	assert.Equal(t, 0.0015, exits[0].Qty)

	entries := h.spot.ordersOf(exchange.KindEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, 66400.0, entries[0].Price)
	assert.Equal(t, 0.0015, entries[0].Amount)

	require.Eventually(t, func() bool {
		tr := h.onlyTrade(t)
		return tr.Status == models.StatusOpen && tr.TPOrderID != ""
	}, 2*time.Second, 5*time.Millisecond)
	tr := h.onlyTrade(t)
	assert.Equal(t, models.SourceSignal, tr.Source)
	assert.Equal(t, 66400.0, tr.EntryFill())
	assert.Equal(t, 63000.0, tr.SLInitial)
}

func TestBlockedTickerNeverSubmitsEntry(t *testing.T) {
	h := newHarness(t, func(s *models.Settings) { s.TradeBlocked["BTC"] = true })

	for _, text := range []string{btcSignal, "#BTC – SHORT\n진입 포인트: 66400\n목표 수익: 65000, 64000, 63000\n손절가: 68000"} {
		res, err := h.eng.Simulate(context.Background(), text, "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeRejected, res.Status)
		assert.Equal(t, risk.CodeTradeBlocked, res.Code)
	}
	assert.Empty(t, h.spot.ordersOf(exchange.KindEntry))
	assert.Empty(t, h.fut.ordersOf(exchange.KindEntry))
	assert.Empty(t, h.eng.ActiveKeys())
}

func TestDuplicateSignalRejected(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.eng.Simulate(context.Background(), btcSignal, "")
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Status)

	res, err = h.eng.Simulate(context.Background(), btcSignal, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Status)
	assert.Equal(t, risk.CodeDuplicate, res.Code)
}

func TestShortGoesToFuturesSizedByEffectiveLeverage(t *testing.T) {
	h := newHarness(t, nil)
	h.fut.effLev = 4
	text := "#SOL – SHORT\n진입 포인트: 100\n목표 수익: 98, 96, 90\n손절가: 105"

	res, err := h.eng.Simulate(context.Background(), text, "")
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Status)
	assert.Equal(t, models.MarketFutures, res.Market)

	require.Eventually(t, func() bool { return len(h.fut.ordersOf(exchange.KindEntry)) == 1 }, time.Second, 5*time.Millisecond)
	// маржа = сумма сделки, размер по фактическому плечу
	assert.Equal(t, 4.0, h.fut.ordersOf(exchange.KindEntry)[0].Amount)
}

func TestMissingEntryUsesMarketPrice(t *testing.T) {
	h := newHarness(t, nil)
	h.spot.set(func(f *fakeAdapter) { f.price = 50 })

	_, err := h.store.CreateChannelFormat(context.Background(), &models.ChannelFormat{
		ChannelID:   "-100",
		ChannelName: "fast",
		Template:    "{ticker} {side} now",
		DefaultSide: models.SideLong,
		Exchange:    "binance",
		Enabled:     true,
	})
	require.NoError(t, err)
	require.NoError(t, h.eng.ReloadFormats(context.Background()))

	h.eng.HandleMessage(context.Background(), models.SourceMessage{ChannelID: "-100", Text: "DOGE LONG now"})

	require.Eventually(t, func() bool { return len(h.spot.ordersOf(exchange.KindEntry)) == 1 }, time.Second, 5*time.Millisecond)
	o := h.spot.ordersOf(exchange.KindEntry)[0]
	assert.Zero(t, o.Price)
	assert.Equal(t, 2.0, o.Amount)

	require.Eventually(t, func() bool { return h.onlyTrade(t).EntryOrderID != "" }, time.Second, 5*time.Millisecond)
	tr := h.onlyTrade(t)
	assert.Equal(t, "fast", tr.Channel)
	assert.Equal(t, 47.5, tr.SL)
}

func TestNoiseAndSourceFilters(t *testing.T) {
	h := newHarness(t, nil)
	h.eng.sources = map[string]bool{"vip": true}

	_, err := h.store.CreateChannelFormat(context.Background(), &models.ChannelFormat{
		ChannelID:   "-200",
		ChannelName: "noisy",
		Template:    "{ticker} {side} {entry}",
		DefaultSide: models.SideLong,
		NoiseFilter: "recap, results",
		Enabled:     true,
	})
	require.NoError(t, err)
	require.NoError(t, h.eng.ReloadFormats(context.Background()))

	res := h.eng.process(context.Background(), models.SourceMessage{ChannelID: "-200", Text: "weekly results BTC LONG 100"}, false)
	assert.Equal(t, OutcomeFiltered, res.Status)

	res = h.eng.process(context.Background(), models.SourceMessage{ChannelID: "-300", ChannelName: "random", Text: btcSignal}, false)
	assert.Equal(t, OutcomeIgnored, res.Status)

	res = h.eng.process(context.Background(), models.SourceMessage{ChannelID: "-400", ChannelName: "vip", Text: "gm everyone"}, false)
	assert.Equal(t, OutcomeUnparsed, res.Status)
	assert.True(t, h.notes.contains("not a signal"))

	assert.Empty(t, h.spot.ordersOf(exchange.KindEntry))
}

func TestEntryTimeoutCancelsWithoutExits(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tr, err := h.eng.placeEntry(ctx, h.spot, models.Signal{
		Ticker: "BTC", Side: models.SideLong, Entry: 66400, TP1: 68000, TP3: 72000, TP4: 72000, SL: 63000,
		Leverage: 1, Exchange: "binance",
	}, 100)
	require.NoError(t, err)

	h.eng.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, ok := h.eng.awaitFill(ctx, h.spot, *tr, time.Minute)
	assert.False(t, ok)

	got := h.trade(t, tr.ID)
	assert.Equal(t, models.StatusTimeout, got.Status)
	assert.Equal(t, models.ResultTimeout, got.Result)
	assert.Equal(t, []string{tr.EntryOrderID}, h.spot.canceledIDs())
	assert.Empty(t, h.spot.exitReqs())
}

func TestPartialFillOnTimeoutProceeds(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tr, err := h.eng.placeEntry(ctx, h.spot, models.Signal{
		Ticker: "BTC", Side: models.SideLong, Entry: 100, TP1: 101, TP3: 110, TP4: 110, SL: 95,
		Leverage: 1, Exchange: "binance",
	}, 100)
	require.NoError(t, err)
	h.spot.set(func(f *fakeAdapter) {
		o := f.orders[tr.EntryOrderID]
		o.Filled, o.Average = 0.4, 100
	})

	h.eng.now = func() time.Time { return time.Now().Add(time.Hour) }
	filled, ok := h.eng.awaitFill(ctx, h.spot, *tr, time.Minute)
	require.True(t, ok)
	assert.Equal(t, models.StatusOpen, filled.Status)
	assert.Equal(t, 0.4, filled.OpenQty())

	require.True(t, h.eng.placeExits(ctx, h.spot, &filled))
	for _, ex := range h.spot.exitReqs() {
		assert.Equal(t, 0.4, ex.Qty)
	}
}

func TestEntryCanceledOnExchange(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tr, err := h.eng.placeEntry(ctx, h.spot, models.Signal{
		Ticker: "BTC", Side: models.SideLong, Entry: 100, SL: 95, TP3: 110, Leverage: 1, Exchange: "binance",
	}, 100)
	require.NoError(t, err)
	h.spot.set(func(f *fakeAdapter) { f.orders[tr.EntryOrderID].Status = exchange.OrderCanceled })

	_, ok := h.eng.awaitFill(ctx, h.spot, *tr, time.Hour)
	assert.False(t, ok)
	assert.Equal(t, models.StatusCancelled, h.trade(t, tr.ID).Status)
}

func TestEntryOrderFailureMarksError(t *testing.T) {
	h := newHarness(t, nil)
	bad := &failingEntry{fakeAdapter: newFake("binance", models.MarketSpot)}

	_, err := h.eng.placeEntry(context.Background(), bad, models.Signal{
		Ticker: "BTC", Side: models.SideLong, Entry: 100, SL: 95, TP3: 110, Leverage: 1, Exchange: "binance",
	}, 100)
	require.Error(t, err)
	tr := h.onlyTrade(t)
	assert.Equal(t, models.StatusError, tr.Status)
	assert.Contains(t, tr.Result, "insufficient balance")
}

type failingEntry struct{ *fakeAdapter }

func (failingEntry) CreateEntryOrder(context.Context, exchange.EntryRequest) (*exchange.Order, error) {
	return nil, errors.New("insufficient balance")
}

func TestTakeProfitFailureCancelsStopAndClosesAtMarket(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	tr := h.openTrade(t, h.fut, models.SideLong)
	tr.SLOrderID, tr.TPOrderID = "", ""
	require.NoError(t, h.store.UpdateTrade(ctx, tr.ID, models.TradePatch{SLOrderID: ptr(""), TPOrderID: ptr("")}))

	h.fut.set(func(f *fakeAdapter) {
		f.failExit[exchange.KindTP] = errors.New("would trigger immediately")
		f.price = 99
	})

	assert.False(t, h.eng.placeExits(ctx, h.fut, &tr))

	got := h.trade(t, tr.ID)
	assert.Equal(t, models.StatusClosed, got.Status)
	assert.Equal(t, models.ResultSLTPFailed, got.Result)
	require.NotNil(t, got.PnLUSDT)
	assert.Equal(t, -2.0, *got.PnLUSDT)
	assert.NotEmpty(t, got.CloseOrderID)
	assert.Contains(t, h.fut.canceledIDs(), tr.SLOrderID)
	assert.Len(t, h.fut.closed(), 1)
	assert.Equal(t, -2.0, h.gate.DailyPnL())
}

func TestEmergencyCloseFailureMarksError(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	tr := h.openTrade(t, h.fut, models.SideShort)
	tr.SLOrderID, tr.TPOrderID = "", ""

	h.fut.set(func(f *fakeAdapter) {
		f.failExit[exchange.KindSL] = errors.New("rejected")
		f.failClose = errors.New("exchange down")
	})

	assert.False(t, h.eng.placeExits(ctx, h.fut, &tr))
	got := h.trade(t, tr.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.True(t, h.notes.contains("Close it manually"))
}

func TestResumeOpenTradeHoldsKey(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.openTrade(t, h.fut, models.SideLong)

	require.NoError(t, h.eng.Start(context.Background()))
	assert.Equal(t, []string{"ETH_LONG"}, h.eng.ActiveKeys())

	h.fut.fill(tr.TPOrderID, 110, 2)
	require.Eventually(t, func() bool { return h.trade(t, tr.ID).Status == models.StatusClosed }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.eng.ActiveKeys()) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.ResultTPHit, h.trade(t, tr.ID).Result)
}

func TestStatsCarriesActiveKeysAndDailyPnL(t *testing.T) {
	h := newHarness(t, nil)
	r, err := h.gate.Admit("XRP", models.SideLong)
	require.NoError(t, err)
	defer h.gate.Release(r)
	h.gate.RecordPnL(-12.345)

	st, err := h.eng.Stats(context.Background(), models.PeriodLifetime, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"XRP_LONG"}, st.ActiveTrades)
	assert.Equal(t, -12.35, st.DailyPnL)
}
