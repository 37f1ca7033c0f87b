package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_trader/internal/exchange"
	"signal_trader/internal/models"
)

type binanceReq struct {
	method string
	path   string
	params url.Values // query + form
}

type cannedResp struct {
	status int
	body   string
}

// fakeBinance отвечает заготовками по "METHOD /path", запоминает параметры.
type fakeBinance struct {
	mu     sync.Mutex
	reqs   []binanceReq
	routes map[string]cannedResp
}

func (f *fakeBinance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.reqs = append(f.reqs, binanceReq{method: r.Method, path: r.URL.Path, params: r.Form})
	resp, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()
	if !ok {
		resp = cannedResp{status: http.StatusNotFound, body: `{"code":-1,"msg":"no route"}`}
	}
	if resp.status == 0 {
		resp.status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = io.WriteString(w, resp.body)
}

func (f *fakeBinance) on(method, path string, status int, body string) {
	f.mu.Lock()
	f.routes[method+" "+path] = cannedResp{status: status, body: body}
	f.mu.Unlock()
}

func (f *fakeBinance) last(method, path string) binanceReq {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.reqs) - 1; i >= 0; i-- {
		if f.reqs[i].method == method && f.reqs[i].path == path {
			return f.reqs[i]
		}
	}
	return binanceReq{params: url.Values{}}
}

func (f *fakeBinance) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reqs {
		if r.method == method && r.path == path {
			n++
		}
	}
	return n
}

func serveBinance(t *testing.T) (*fakeBinance, string) {
	t.Helper()
	fb := &fakeBinance{routes: map[string]cannedResp{}}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	return fb, srv.URL
}

const (
	futuresInfo = `{"symbols":[{"symbol":"BTCUSDT","filters":[{"filterType":"PRICE_FILTER","tickSize":"0.10"},{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`
	spotInfo    = `{"symbols":[{"symbol":"ETHUSDT","filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"},{"filterType":"LOT_SIZE","stepSize":"0.0001"}]}]}`
)

func newFuturesFake(t *testing.T) (*fakeBinance, *Futures) {
	t.Helper()
	fb, base := serveBinance(t)
	fb.on(http.MethodGet, "/fapi/v1/exchangeInfo", 0, futuresInfo)
	f := NewFutures("key", "secret", false, 1000)
	f.client.BaseURL = base
	return fb, f
}

func newSpotFake(t *testing.T) (*fakeBinance, *Spot) {
	t.Helper()
	fb, base := serveBinance(t)
	fb.on(http.MethodGet, "/api/v3/exchangeInfo", 0, spotInfo)
	s := NewSpot("key", "secret", false, 1000)
	s.client.BaseURL = base
	return fb, s
}

func TestFuturesExitOrdersAreReduceOnlyTriggers(t *testing.T) {
	fb, f := newFuturesFake(t)
	ctx := context.Background()
	fb.on(http.MethodPost, "/fapi/v1/order", 0,
		`{"symbol":"BTCUSDT","orderId":8389765,"clientOrderId":"x","price":"0","origQty":"0.003","executedQty":"0","status":"NEW","side":"SELL","type":"STOP_MARKET","stopPrice":"61999.9","avgPrice":"0.00000"}`)

	// LONG: SL продаёт, триггер округляется вниз к тику
	o, err := f.CreateExitOrder(ctx, exchange.ExitRequest{Ticker: "BTC", Side: models.SideLong, Kind: exchange.KindSL, Qty: 0.003, TriggerPrice: 61999.97})
	require.NoError(t, err)
	p := fb.last(http.MethodPost, "/fapi/v1/order").params
	assert.Equal(t, "BTCUSDT", p.Get("symbol"))
	assert.Equal(t, "SELL", p.Get("side"))
	assert.Equal(t, "STOP_MARKET", p.Get("type"))
	assert.Equal(t, "61999.9", p.Get("stopPrice"))
	assert.Equal(t, "0.003", p.Get("quantity"))
	assert.Equal(t, "true", p.Get("reduceOnly"))
	assert.False(t, p.Has("price"))
	assert.True(t, strings.HasPrefix(p.Get("newClientOrderId"), "st"+string(exchange.KindSL)))
	assert.NotEmpty(t, p.Get("signature"))

	assert.Equal(t, "8389765", o.ID)
	assert.Equal(t, exchange.KindSL, o.Kind)
	assert.Equal(t, "sell", o.Side)
	assert.Equal(t, exchange.OrderOpen, o.Status)
	assert.Equal(t, 61999.9, o.TriggerPrice)
	assert.Equal(t, 0.003, o.Amount)

	// SHORT: TP покупает, триггер вверх
	fb.on(http.MethodPost, "/fapi/v1/order", 0,
		`{"symbol":"BTCUSDT","orderId":8389766,"clientOrderId":"y","price":"0","origQty":"0.003","executedQty":"0","status":"NEW","side":"BUY","type":"TAKE_PROFIT_MARKET","stopPrice":"58000.1","avgPrice":"0.00000"}`)
	o, err = f.CreateExitOrder(ctx, exchange.ExitRequest{Ticker: "BTC", Side: models.SideShort, Kind: exchange.KindTP, Qty: 0.003, TriggerPrice: 58000.04})
	require.NoError(t, err)
	p = fb.last(http.MethodPost, "/fapi/v1/order").params
	assert.Equal(t, "BUY", p.Get("side"))
	assert.Equal(t, "TAKE_PROFIT_MARKET", p.Get("type"))
	assert.Equal(t, "58000.1", p.Get("stopPrice"))
	assert.Equal(t, "true", p.Get("reduceOnly"))
	assert.Equal(t, "8389766", o.ID)
	assert.Equal(t, "buy", o.Side)
	assert.Equal(t, 58000.1, o.TriggerPrice)

	// фильтры символа кэшируются
	assert.Equal(t, 1, fb.count(http.MethodGet, "/fapi/v1/exchangeInfo"))

	_, err = f.CreateExitOrder(ctx, exchange.ExitRequest{Ticker: "BTC", Side: models.SideLong, Kind: exchange.KindEntry, Qty: 1})
	assert.ErrorIs(t, err, exchange.ErrNotSupported)
}

func TestFuturesAmountToPrecision(t *testing.T) {
	_, f := newFuturesFake(t)
	qty, err := f.AmountToPrecision(context.Background(), "BTC", 0.0039)
	require.NoError(t, err)
	assert.Equal(t, 0.003, qty)

	_, err = f.AmountToPrecision(context.Background(), "DOGE", 10)
	assert.Error(t, err)
}

func TestFuturesPositionsAndLeverage(t *testing.T) {
	fb, f := newFuturesFake(t)
	ctx := context.Background()
	fb.on(http.MethodGet, "/fapi/v2/positionRisk", 0,
		`[{"symbol":"BTCUSDT","positionAmt":"-0.010","entryPrice":"61000.5","leverage":"7"},{"symbol":"ETHUSDT","positionAmt":"0.000","entryPrice":"0","leverage":"20"}]`)

	pos, err := f.FetchPositions(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, exchange.Position{Symbol: "BTCUSDT", Side: models.SideShort, Qty: 0.01, EntryPrice: 61000.5, Leverage: 7}, pos[0])
	assert.Equal(t, "BTCUSDT", fb.last(http.MethodGet, "/fapi/v2/positionRisk").params.Get("symbol"))

	lev, err := f.FetchEffectiveLeverage(ctx, "BTC", 3)
	require.NoError(t, err)
	assert.Equal(t, 7, lev)

	// символа нет в ответе => fallback
	lev, err = f.FetchEffectiveLeverage(ctx, "SOL", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, lev)

	syms, err := f.DiscoverSymbols(ctx, time.UnixMilli(1700000000000))
	require.Error(t, err) // income не настроен
	assert.Nil(t, syms)

	fb.on(http.MethodGet, "/fapi/v1/income", 0, `[{"symbol":"SOLUSDT","incomeType":"REALIZED_PNL","income":"1.5","asset":"USDT","time":1700000100000}]`)
	syms, err = f.DiscoverSymbols(ctx, time.UnixMilli(1700000000000))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "SOL"}, syms)
	ip := fb.last(http.MethodGet, "/fapi/v1/income").params
	assert.Equal(t, "REALIZED_PNL", ip.Get("incomeType"))
	assert.Equal(t, "1700000000000", ip.Get("startTime"))
	assert.False(t, fb.last(http.MethodGet, "/fapi/v2/positionRisk").params.Has("symbol"))
}

func TestFuturesSetLeverageToleratesSameMarginType(t *testing.T) {
	fb, f := newFuturesFake(t)
	ctx := context.Background()
	fb.on(http.MethodPost, "/fapi/v1/marginType", http.StatusBadRequest, `{"code":-4046,"msg":"No need to change margin type."}`)
	fb.on(http.MethodPost, "/fapi/v1/leverage", 0, `{"leverage":5,"maxNotionalValue":"1000000","symbol":"BTCUSDT"}`)

	require.NoError(t, f.SetLeverageAndMargin(ctx, "BTC", 5))
	assert.Equal(t, "ISOLATED", fb.last(http.MethodPost, "/fapi/v1/marginType").params.Get("marginType"))
	lp := fb.last(http.MethodPost, "/fapi/v1/leverage").params
	assert.Equal(t, "BTCUSDT", lp.Get("symbol"))
	assert.Equal(t, "5", lp.Get("leverage"))

	// отказ по плечу — ошибка с кодом биржи
	fb.on(http.MethodPost, "/fapi/v1/leverage", http.StatusBadRequest, `{"code":-4028,"msg":"Leverage 200 is not valid"}`)
	err := f.SetLeverageAndMargin(ctx, "BTC", 200)
	require.Error(t, err)
	code, ok := apiCode(err)
	assert.True(t, ok)
	assert.EqualValues(t, -4028, code)
}

func TestFuturesBalanceAndTrades(t *testing.T) {
	fb, f := newFuturesFake(t)
	ctx := context.Background()
	fb.on(http.MethodGet, "/fapi/v3/balance", 0,
		`[{"asset":"BNB","balance":"1","availableBalance":"1"},{"asset":"USDT","balance":"250.5","availableBalance":"180.25"}]`)

	bal, err := f.FetchBalance(ctx, "usdt")
	require.NoError(t, err)
	assert.Equal(t, exchange.Balance{Asset: "USDT", Free: 180.25, Total: 250.5}, bal)

	bal, err = f.FetchBalance(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, exchange.Balance{Asset: "BTC"}, bal)

	fb.on(http.MethodGet, "/fapi/v1/userTrades", 0,
		`[{"orderId":101,"price":"61000","qty":"0.002","realizedPnl":"0","side":"BUY","symbol":"BTCUSDT","time":1700000000000},`+
			`{"orderId":102,"price":"62000","qty":"0.002","realizedPnl":"2.0","side":"SELL","symbol":"BTCUSDT","time":1700000100000}]`)
	fills, err := f.FetchMyTrades(ctx, "btc", time.UnixMilli(1699999000000))
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, exchange.Fill{OrderID: "101", Ticker: "BTC", Side: "buy", Price: 61000, Qty: 0.002, Time: time.UnixMilli(1700000000000)}, fills[0])
	assert.Equal(t, exchange.Fill{OrderID: "102", Ticker: "BTC", Side: "sell", Price: 62000, Qty: 0.002, RealizedPnL: 2, Time: time.UnixMilli(1700000100000)}, fills[1])

	p := fb.last(http.MethodGet, "/fapi/v1/userTrades").params
	assert.Equal(t, "BTCUSDT", p.Get("symbol"))
	assert.Equal(t, "1699999000000", p.Get("startTime"))
	assert.Equal(t, "1000", p.Get("limit"))
}

func TestFuturesFetchAndCancelOrder(t *testing.T) {
	fb, f := newFuturesFake(t)
	ctx := context.Background()
	fb.on(http.MethodGet, "/fapi/v1/order", 0,
		`{"symbol":"BTCUSDT","orderId":77,"clientOrderId":"sttp1","price":"0","origQty":"0.003","executedQty":"0.003","status":"FILLED","side":"SELL","stopPrice":"65000","avgPrice":"65010.5"}`)

	o, err := f.FetchOrder(ctx, "BTC", "77", exchange.KindTP)
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderClosed, o.Status)
	assert.Equal(t, 65010.5, o.Average)
	assert.Equal(t, 0.003, o.Filled)
	assert.Equal(t, 65000.0, o.TriggerPrice)
	assert.Equal(t, exchange.KindTP, o.Kind)
	assert.Equal(t, "77", fb.last(http.MethodGet, "/fapi/v1/order").params.Get("orderId"))

	// нечисловой id даже не уходит на биржу
	before := fb.count(http.MethodGet, "/fapi/v1/order")
	_, err = f.FetchOrder(ctx, "BTC", "algo-1", exchange.KindTP)
	assert.ErrorIs(t, err, exchange.ErrOrderNotFound)
	assert.Equal(t, before, fb.count(http.MethodGet, "/fapi/v1/order"))

	fb.on(http.MethodDelete, "/fapi/v1/order", http.StatusBadRequest, `{"code":-2011,"msg":"Unknown order sent."}`)
	assert.ErrorIs(t, f.CancelOrder(ctx, "BTC", "77", exchange.KindSL), exchange.ErrOrderNotFound)

	fb.on(http.MethodDelete, "/fapi/v1/order", http.StatusBadRequest, `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`)
	err = f.CancelOrder(ctx, "BTC", "77", exchange.KindSL)
	require.Error(t, err)
	assert.False(t, errors.Is(err, exchange.ErrOrderNotFound))
}

func TestSpotExitOrders(t *testing.T) {
	fb, s := newSpotFake(t)
	ctx := context.Background()
	fb.on(http.MethodPost, "/api/v3/order", 0,
		`{"symbol":"ETHUSDT","orderId":5001,"clientOrderId":"x","price":"1899.99","origQty":"0.5","executedQty":"0","cummulativeQuoteQty":"0","status":"NEW","side":"SELL","type":"STOP_LOSS_LIMIT"}`)

	o, err := s.CreateExitOrder(ctx, exchange.ExitRequest{Ticker: "ETH", Side: models.SideLong, Kind: exchange.KindSL, Qty: 0.5, TriggerPrice: 1899.999})
	require.NoError(t, err)
	p := fb.last(http.MethodPost, "/api/v3/order").params
	assert.Equal(t, "ETHUSDT", p.Get("symbol"))
	assert.Equal(t, "SELL", p.Get("side"))
	assert.Equal(t, "STOP_LOSS_LIMIT", p.Get("type"))
	assert.Equal(t, "1899.99", p.Get("stopPrice"))
	assert.Equal(t, "1899.99", p.Get("price"))
	assert.Equal(t, "GTC", p.Get("timeInForce"))
	assert.Equal(t, "0.5", p.Get("quantity"))
	assert.Equal(t, "ETHUSDT", fb.last(http.MethodGet, "/api/v3/exchangeInfo").params.Get("symbol"))

	assert.Equal(t, "5001", o.ID)
	assert.Equal(t, exchange.KindSL, o.Kind)
	assert.Equal(t, 1899.99, o.TriggerPrice)
	assert.Zero(t, o.Average)

	// TP на споте — обычный LIMIT без stopPrice
	fb.on(http.MethodPost, "/api/v3/order", 0,
		`{"symbol":"ETHUSDT","orderId":5002,"clientOrderId":"y","price":"2100","origQty":"0.5","executedQty":"0","cummulativeQuoteQty":"0","status":"NEW","side":"SELL","type":"LIMIT"}`)
	o, err = s.CreateExitOrder(ctx, exchange.ExitRequest{Ticker: "ETH", Side: models.SideLong, Kind: exchange.KindTP, Qty: 0.5, TriggerPrice: 2100.005})
	require.NoError(t, err)
	p = fb.last(http.MethodPost, "/api/v3/order").params
	assert.Equal(t, "LIMIT", p.Get("type"))
	assert.Equal(t, "2100", p.Get("price"))
	assert.Equal(t, "GTC", p.Get("timeInForce"))
	assert.False(t, p.Has("stopPrice"))
	assert.Equal(t, "5002", o.ID)

	// шорт на споте невозможен, запрос не уходит
	before := fb.count(http.MethodPost, "/api/v3/order")
	_, err = s.CreateExitOrder(ctx, exchange.ExitRequest{Ticker: "ETH", Side: models.SideShort, Kind: exchange.KindSL, Qty: 0.5, TriggerPrice: 2200})
	assert.ErrorIs(t, err, exchange.ErrNotSupported)
	_, err = s.CreateEntryOrder(ctx, exchange.EntryRequest{Ticker: "ETH", Side: models.SideShort, Qty: 0.5})
	assert.ErrorIs(t, err, exchange.ErrNotSupported)
	assert.Equal(t, before, fb.count(http.MethodPost, "/api/v3/order"))
}

func TestSpotMarketEntryReportsAverage(t *testing.T) {
	fb, s := newSpotFake(t)
	fb.on(http.MethodPost, "/api/v3/order", 0,
		`{"symbol":"ETHUSDT","orderId":4000,"clientOrderId":"e","price":"0","origQty":"0.5","executedQty":"0.5","cummulativeQuoteQty":"1000.5","status":"FILLED","side":"BUY","type":"MARKET"}`)

	o, err := s.CreateEntryOrder(context.Background(), exchange.EntryRequest{Ticker: "ETH", Side: models.SideLong, Qty: 0.5})
	require.NoError(t, err)
	p := fb.last(http.MethodPost, "/api/v3/order").params
	assert.Equal(t, "MARKET", p.Get("type"))
	assert.Equal(t, "BUY", p.Get("side"))
	assert.False(t, p.Has("price"))

	assert.Equal(t, exchange.OrderClosed, o.Status)
	assert.Equal(t, 2001.0, o.Average)
	assert.Equal(t, 0.5, o.Filled)
	assert.Equal(t, "buy", o.Side)
}

func TestSpotFetchOrder(t *testing.T) {
	fb, s := newSpotFake(t)
	ctx := context.Background()
	fb.on(http.MethodGet, "/api/v3/order", 0,
		`{"symbol":"ETHUSDT","orderId":5002,"clientOrderId":"sttp","price":"2100","origQty":"0.5","executedQty":"0.5","cummulativeQuoteQty":"1050.5","status":"FILLED","side":"SELL","stopPrice":"0"}`)

	o, err := s.FetchOrder(ctx, "ETH", "5002", exchange.KindTP)
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderClosed, o.Status)
	assert.Equal(t, 2101.0, o.Average)
	assert.Equal(t, 2100.0, o.Price)
	assert.Equal(t, "5002", fb.last(http.MethodGet, "/api/v3/order").params.Get("orderId"))

	fb.on(http.MethodGet, "/api/v3/order", http.StatusBadRequest, `{"code":-2013,"msg":"Order does not exist."}`)
	_, err = s.FetchOrder(ctx, "ETH", "5002", exchange.KindTP)
	assert.ErrorIs(t, err, exchange.ErrOrderNotFound)

	fb.on(http.MethodGet, "/api/v3/order", http.StatusBadRequest, `{"code":-1003,"msg":"Too many requests."}`)
	_, err = s.FetchOrder(ctx, "ETH", "5002", exchange.KindTP)
	require.Error(t, err)
	assert.False(t, errors.Is(err, exchange.ErrOrderNotFound))
}

func TestSpotBalanceAndDiscover(t *testing.T) {
	fb, s := newSpotFake(t)
	ctx := context.Background()
	fb.on(http.MethodGet, "/api/v3/account", 0,
		`{"balances":[{"asset":"USDT","free":"120.5","locked":"10"},{"asset":"ETH","free":"0.4","locked":"0.1"},{"asset":"BNB","free":"0.00000000","locked":"0.00000000"},{"asset":"SOL","free":"0","locked":"2"}]}`)

	bal, err := s.FetchBalance(ctx, "eth")
	require.NoError(t, err)
	assert.Equal(t, exchange.Balance{Asset: "ETH", Free: 0.4, Total: 0.5}, bal)

	bal, err = s.FetchBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 130.5, bal.Total)

	syms, err := s.DiscoverSymbols(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH", "SOL"}, syms)

	_, err = s.FetchPositions(ctx, "ETH")
	assert.ErrorIs(t, err, exchange.ErrNotSupported)
	lev, err := s.FetchEffectiveLeverage(ctx, "ETH", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, lev)
}

func TestSpotMyTrades(t *testing.T) {
	fb, s := newSpotFake(t)
	fb.on(http.MethodGet, "/api/v3/myTrades", 0,
		`[{"orderId":9,"price":"2000","qty":"0.25","time":1700000000000,"isBuyer":true},{"orderId":10,"price":"2100","qty":"0.25","time":1700000500000,"isBuyer":false}]`)

	fills, err := s.FetchMyTrades(context.Background(), "ETH", time.UnixMilli(1699990000000))
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, exchange.Fill{OrderID: "9", Ticker: "ETH", Side: "buy", Price: 2000, Qty: 0.25, Time: time.UnixMilli(1700000000000)}, fills[0])
	assert.Equal(t, "sell", fills[1].Side)
	assert.Zero(t, fills[1].RealizedPnL)

	p := fb.last(http.MethodGet, "/api/v3/myTrades").params
	assert.Equal(t, "ETHUSDT", p.Get("symbol"))
	assert.Equal(t, "1699990000000", p.Get("startTime"))
}
