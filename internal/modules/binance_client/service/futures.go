package service

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/models"
	"signal_trader/pkg/logger"
)

// Futures — USDⓈ-M, one-way режим, isolated маржа. SL/TP — STOP_MARKET/TAKE_PROFIT_MARKET reduceOnly.
type Futures struct {
	base
	miniTicker
	client *futures.Client
}

func NewFutures(apiKey, secret string, testnet bool, rps float64) *Futures {
	if testnet {
		futures.UseTestnet = true
	}
	f := &Futures{
		base:       newBase("futures", rps),
		miniTicker: futuresStream(testnet),
		client:     binance.NewFuturesClient(apiKey, secret),
	}
	f.filters = newFilterCache(f.loadFilters)
	return f
}

var (
	_ exchange.Adapter       = (*Futures)(nil)
	_ exchange.PriceStreamer = (*Futures)(nil)
)

func (f *Futures) Name() string              { return exchangeName }
func (f *Futures) Market() models.MarketType { return models.MarketFutures }

func (f *Futures) loadFilters(ctx context.Context, symbol string) (filters, error) {
	if err := f.wait(ctx); err != nil {
		return filters{}, err
	}
	info, err := f.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return filters{}, f.fail("exchange_info", err)
	}
	for _, sym := range info.Symbols {
		if sym.Symbol != symbol {
			continue
		}
		var out filters
		if lot := sym.LotSizeFilter(); lot != nil {
			out.step = helper.ParseFloat(lot.StepSize)
		}
		if pf := sym.PriceFilter(); pf != nil {
			out.tick = helper.ParseFloat(pf.TickSize)
		}
		return out, nil
	}
	return filters{}, f.fail("exchange_info", exchange.UnknownSymbol(symbol))
}

func (f *Futures) LastPrice(ctx context.Context, ticker string) (float64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	prices, err := f.client.NewListPricesService().Symbol(Symbol(ticker)).Do(ctx)
	if err != nil {
		return 0, f.fail("price", err)
	}
	for _, p := range prices {
		if p.Symbol == Symbol(ticker) {
			return helper.ParseFloat(p.Price), nil
		}
	}
	return 0, f.fail("price", exchange.UnknownSymbol(Symbol(ticker)))
}

func (f *Futures) AmountToPrecision(ctx context.Context, ticker string, qty float64) (float64, error) {
	return f.amountToPrecision(ctx, ticker, qty)
}

func (f *Futures) CreateEntryOrder(ctx context.Context, req exchange.EntryRequest) (*exchange.Order, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	svc := f.client.NewCreateOrderService().
		Symbol(Symbol(req.Ticker)).
		Side(futuresSide(req.Side.OpenSide())).
		Quantity(helper.FormatNum(req.Qty)).
		NewClientOrderID(clientOrderID(exchange.KindEntry))
	if req.Price > 0 {
		px, err := f.priceToPrecision(ctx, req.Ticker, req.Price, req.Side == models.SideShort)
		if err != nil {
			return nil, err
		}
		svc = svc.Type(futures.OrderTypeLimit).TimeInForce(futures.TimeInForceTypeGTC).Price(px)
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, f.fail("create_entry", err)
	}
	return futuresCreated(resp, exchange.KindEntry), nil
}

func (f *Futures) CreateExitOrder(ctx context.Context, req exchange.ExitRequest) (*exchange.Order, error) {
	var typ futures.OrderType
	switch req.Kind {
	case exchange.KindSL:
		typ = futures.OrderTypeStopMarket
	case exchange.KindTP:
		typ = futures.OrderTypeTakeProfitMarket
	default:
		return nil, exchange.ErrNotSupported
	}
	closeSide := req.Side.CloseSide()
	px, err := f.priceToPrecision(ctx, req.Ticker, req.TriggerPrice, closeSide == "buy")
	if err != nil {
		return nil, err
	}
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := f.client.NewCreateOrderService().
		Symbol(Symbol(req.Ticker)).
		Side(futuresSide(closeSide)).
		Type(typ).
		StopPrice(px).
		Quantity(helper.FormatNum(req.Qty)).
		ReduceOnly(true).
		NewClientOrderID(clientOrderID(req.Kind)).
		Do(ctx)
	if err != nil {
		return nil, f.fail("create_"+string(req.Kind), err)
	}
	o := futuresCreated(resp, req.Kind)
	o.TriggerPrice = helper.ParseFloat(px)
	return o, nil
}

func (f *Futures) CloseMarket(ctx context.Context, ticker string, side models.Side, qty float64) (*exchange.Order, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := f.client.NewCreateOrderService().
		Symbol(Symbol(ticker)).
		Side(futuresSide(side.CloseSide())).
		Type(futures.OrderTypeMarket).
		Quantity(helper.FormatNum(qty)).
		ReduceOnly(true).
		NewClientOrderID(clientOrderID(exchange.KindClose)).
		Do(ctx)
	if err != nil {
		return nil, f.fail("close_market", err)
	}
	return futuresCreated(resp, exchange.KindClose), nil
}

func (f *Futures) FetchOrder(ctx context.Context, ticker, id string, kind exchange.OrderKind) (*exchange.Order, error) {
	oid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, exchange.ErrOrderNotFound
	}
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	o, err := f.client.NewGetOrderService().Symbol(Symbol(ticker)).OrderID(oid).Do(ctx)
	if err != nil {
		if isOrderGone(err) {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, f.fail("fetch_order", err)
	}
	return &exchange.Order{
		ID:           strconv.FormatInt(o.OrderID, 10),
		ClientID:     o.ClientOrderID,
		Symbol:       o.Symbol,
		Kind:         kind,
		Side:         strings.ToLower(string(o.Side)),
		Status:       futuresStatus(o.Status),
		Price:        helper.ParseFloat(o.Price),
		TriggerPrice: helper.ParseFloat(o.StopPrice),
		Average:      helper.ParseFloat(o.AvgPrice),
		Amount:       helper.ParseFloat(o.OrigQuantity),
		Filled:       helper.ParseFloat(o.ExecutedQuantity),
	}, nil
}

func (f *Futures) CancelOrder(ctx context.Context, ticker, id string, _ exchange.OrderKind) error {
	oid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return exchange.ErrOrderNotFound
	}
	if err := f.wait(ctx); err != nil {
		return err
	}
	if _, err := f.client.NewCancelOrderService().Symbol(Symbol(ticker)).OrderID(oid).Do(ctx); err != nil {
		if isOrderGone(err) {
			return exchange.ErrOrderNotFound
		}
		return f.fail("cancel_order", err)
	}
	return nil
}

func (f *Futures) positionRisk(ctx context.Context, ticker string) ([]*futures.PositionRisk, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	svc := f.client.NewGetPositionRiskService()
	if ticker != "" {
		svc = svc.Symbol(Symbol(ticker))
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, f.fail("positions", err)
	}
	return resp, nil
}

func (f *Futures) FetchPositions(ctx context.Context, ticker string) ([]exchange.Position, error) {
	risks, err := f.positionRisk(ctx, ticker)
	if err != nil {
		return nil, err
	}
	var out []exchange.Position
	for _, p := range risks {
		amt := helper.ParseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		side := models.SideLong
		if amt < 0 {
			side = models.SideShort
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, exchange.Position{
			Symbol:     p.Symbol,
			Side:       side,
			Qty:        math.Abs(amt),
			EntryPrice: helper.ParseFloat(p.EntryPrice),
			Leverage:   lev,
		})
	}
	return out, nil
}

func (f *Futures) FetchBalance(ctx context.Context, asset string) (exchange.Balance, error) {
	if err := f.wait(ctx); err != nil {
		return exchange.Balance{}, err
	}
	balances, err := f.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, f.fail("balance", err)
	}
	asset = strings.ToUpper(asset)
	for _, b := range balances {
		if b.Asset == asset {
			return exchange.Balance{
				Asset: asset,
				Free:  helper.ParseFloat(b.AvailableBalance),
				Total: helper.ParseFloat(b.Balance),
			}, nil
		}
	}
	return exchange.Balance{Asset: asset}, nil
}

// SetLeverageAndMargin — isolated + плечо; "уже isolated" не ошибка.
func (f *Futures) SetLeverageAndMargin(ctx context.Context, ticker string, leverage int) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	err := f.client.NewChangeMarginTypeService().
		Symbol(Symbol(ticker)).
		MarginType(futures.MarginTypeIsolated).
		Do(ctx)
	if err != nil {
		if code, ok := apiCode(err); !ok || code != errMarginTypeNoChange {
			logger.Warn("[BINANCE] %s margin type: %v", Symbol(ticker), err)
		}
	}
	if err := f.wait(ctx); err != nil {
		return err
	}
	if _, err := f.client.NewChangeLeverageService().Symbol(Symbol(ticker)).Leverage(leverage).Do(ctx); err != nil {
		return f.fail("set_leverage", err)
	}
	return nil
}

func (f *Futures) FetchEffectiveLeverage(ctx context.Context, ticker string, fallback int) (int, error) {
	risks, err := f.positionRisk(ctx, ticker)
	if err != nil {
		return fallback, err
	}
	for _, p := range risks {
		if p.Symbol != Symbol(ticker) {
			continue
		}
		if lev, err := strconv.Atoi(p.Leverage); err == nil && lev > 0 {
			return lev, nil
		}
	}
	return fallback, nil
}

// DiscoverSymbols — открытые позиции плюс символы с REALIZED_PNL с момента since.
func (f *Futures) DiscoverSymbols(ctx context.Context, since time.Time) ([]string, error) {
	seen := make(map[string]bool)
	risks, err := f.positionRisk(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, p := range risks {
		if helper.ParseFloat(p.PositionAmt) != 0 {
			seen[Ticker(p.Symbol)] = true
		}
	}

	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	income, err := f.client.NewGetIncomeHistoryService().
		IncomeType("REALIZED_PNL").
		StartTime(since.UnixMilli()).
		Limit(1000).
		Do(ctx)
	if err != nil {
		return nil, f.fail("income", err)
	}
	for _, in := range income {
		if in.Symbol != "" {
			seen[Ticker(in.Symbol)] = true
		}
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (f *Futures) FetchMyTrades(ctx context.Context, ticker string, since time.Time) ([]exchange.Fill, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	trades, err := f.client.NewListAccountTradeService().
		Symbol(Symbol(ticker)).
		StartTime(since.UnixMilli()).
		Limit(1000).
		Do(ctx)
	if err != nil {
		return nil, f.fail("my_trades", err)
	}
	out := make([]exchange.Fill, 0, len(trades))
	for _, t := range trades {
		out = append(out, exchange.Fill{
			OrderID:     strconv.FormatInt(t.OrderID, 10),
			Ticker:      strings.ToUpper(ticker),
			Side:        strings.ToLower(string(t.Side)),
			Price:       helper.ParseFloat(t.Price),
			Qty:         helper.ParseFloat(t.Quantity),
			RealizedPnL: helper.ParseFloat(t.RealizedPnl),
			Time:        time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

func futuresSide(s string) futures.SideType {
	if s == "buy" {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func futuresCreated(r *futures.CreateOrderResponse, kind exchange.OrderKind) *exchange.Order {
	return &exchange.Order{
		ID:       strconv.FormatInt(r.OrderID, 10),
		ClientID: r.ClientOrderID,
		Symbol:   r.Symbol,
		Kind:     kind,
		Side:     strings.ToLower(string(r.Side)),
		Status:   futuresStatus(r.Status),
		Price:    helper.ParseFloat(r.Price),
		Average:  helper.ParseFloat(r.AvgPrice),
		Amount:   helper.ParseFloat(r.OrigQuantity),
		Filled:   helper.ParseFloat(r.ExecutedQuantity),
	}
}

func futuresStatus(st futures.OrderStatusType) exchange.OrderStatus {
	switch st {
	case futures.OrderStatusTypeFilled:
		return exchange.OrderClosed
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired, futures.OrderStatusTypeRejected:
		return exchange.OrderCanceled
	}
	return exchange.OrderOpen
}
