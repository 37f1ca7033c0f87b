package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/models"
)

// Spot — binance spot: только LONG, SL = STOP_LOSS_LIMIT, TP = LIMIT.
type Spot struct {
	base
	miniTicker
	client *binance.Client
}

func NewSpot(apiKey, secret string, testnet bool, rps float64) *Spot {
	if testnet {
		binance.UseTestnet = true
	}
	s := &Spot{
		base:       newBase("spot", rps),
		miniTicker: spotStream(testnet),
		client:     binance.NewClient(apiKey, secret),
	}
	s.filters = newFilterCache(s.loadFilters)
	return s
}

var (
	_ exchange.Adapter       = (*Spot)(nil)
	_ exchange.PriceStreamer = (*Spot)(nil)
)

func (s *Spot) Name() string              { return exchangeName }
func (s *Spot) Market() models.MarketType { return models.MarketSpot }

func (s *Spot) loadFilters(ctx context.Context, symbol string) (filters, error) {
	if err := s.wait(ctx); err != nil {
		return filters{}, err
	}
	info, err := s.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return filters{}, s.fail("exchange_info", err)
	}
	for _, sym := range info.Symbols {
		if sym.Symbol != symbol {
			continue
		}
		var f filters
		if lot := sym.LotSizeFilter(); lot != nil {
			f.step = helper.ParseFloat(lot.StepSize)
		}
		if pf := sym.PriceFilter(); pf != nil {
			f.tick = helper.ParseFloat(pf.TickSize)
		}
		return f, nil
	}
	return filters{}, s.fail("exchange_info", exchange.UnknownSymbol(symbol))
}

func (s *Spot) LastPrice(ctx context.Context, ticker string) (float64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	prices, err := s.client.NewListPricesService().Symbol(Symbol(ticker)).Do(ctx)
	if err != nil {
		return 0, s.fail("price", err)
	}
	for _, p := range prices {
		if p.Symbol == Symbol(ticker) {
			return helper.ParseFloat(p.Price), nil
		}
	}
	return 0, s.fail("price", exchange.UnknownSymbol(Symbol(ticker)))
}

func (s *Spot) AmountToPrecision(ctx context.Context, ticker string, qty float64) (float64, error) {
	return s.amountToPrecision(ctx, ticker, qty)
}

func (s *Spot) CreateEntryOrder(ctx context.Context, req exchange.EntryRequest) (*exchange.Order, error) {
	if req.Side != models.SideLong {
		return nil, exchange.ErrNotSupported
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	svc := s.client.NewCreateOrderService().
		Symbol(Symbol(req.Ticker)).
		Side(binance.SideTypeBuy).
		Quantity(helper.FormatNum(req.Qty)).
		NewClientOrderID(clientOrderID(exchange.KindEntry))
	if req.Price > 0 {
		px, err := s.priceToPrecision(ctx, req.Ticker, req.Price, false)
		if err != nil {
			return nil, err
		}
		svc = svc.Type(binance.OrderTypeLimit).TimeInForce(binance.TimeInForceTypeGTC).Price(px)
	} else {
		svc = svc.Type(binance.OrderTypeMarket)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, s.fail("create_entry", err)
	}
	return spotCreated(resp, exchange.KindEntry), nil
}

func (s *Spot) CreateExitOrder(ctx context.Context, req exchange.ExitRequest) (*exchange.Order, error) {
	if req.Side != models.SideLong {
		return nil, exchange.ErrNotSupported
	}
	px, err := s.priceToPrecision(ctx, req.Ticker, req.TriggerPrice, false)
	if err != nil {
		return nil, err
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	svc := s.client.NewCreateOrderService().
		Symbol(Symbol(req.Ticker)).
		Side(binance.SideTypeSell).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(helper.FormatNum(req.Qty)).
		Price(px).
		NewClientOrderID(clientOrderID(req.Kind))
	switch req.Kind {
	case exchange.KindSL:
		svc = svc.Type(binance.OrderTypeStopLossLimit).StopPrice(px)
	case exchange.KindTP:
		svc = svc.Type(binance.OrderTypeLimit)
	default:
		return nil, exchange.ErrNotSupported
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, s.fail("create_"+string(req.Kind), err)
	}
	o := spotCreated(resp, req.Kind)
	o.TriggerPrice = helper.ParseFloat(px)
	return o, nil
}

func (s *Spot) CloseMarket(ctx context.Context, ticker string, side models.Side, qty float64) (*exchange.Order, error) {
	if side != models.SideLong {
		return nil, exchange.ErrNotSupported
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.client.NewCreateOrderService().
		Symbol(Symbol(ticker)).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(helper.FormatNum(qty)).
		NewClientOrderID(clientOrderID(exchange.KindClose)).
		Do(ctx)
	if err != nil {
		return nil, s.fail("close_market", err)
	}
	return spotCreated(resp, exchange.KindClose), nil
}

func (s *Spot) FetchOrder(ctx context.Context, ticker, id string, kind exchange.OrderKind) (*exchange.Order, error) {
	oid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, exchange.ErrOrderNotFound
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	o, err := s.client.NewGetOrderService().Symbol(Symbol(ticker)).OrderID(oid).Do(ctx)
	if err != nil {
		if isOrderGone(err) {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, s.fail("fetch_order", err)
	}
	out := &exchange.Order{
		ID:           strconv.FormatInt(o.OrderID, 10),
		ClientID:     o.ClientOrderID,
		Symbol:       o.Symbol,
		Kind:         kind,
		Side:         strings.ToLower(string(o.Side)),
		Status:       spotStatus(o.Status),
		Price:        helper.ParseFloat(o.Price),
		TriggerPrice: helper.ParseFloat(o.StopPrice),
		Amount:       helper.ParseFloat(o.OrigQuantity),
		Filled:       helper.ParseFloat(o.ExecutedQuantity),
	}
	out.Average = avgPrice(o.CummulativeQuoteQuantity, out.Filled)
	return out, nil
}

func (s *Spot) CancelOrder(ctx context.Context, ticker, id string, _ exchange.OrderKind) error {
	oid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return exchange.ErrOrderNotFound
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	if _, err := s.client.NewCancelOrderService().Symbol(Symbol(ticker)).OrderID(oid).Do(ctx); err != nil {
		if isOrderGone(err) {
			return exchange.ErrOrderNotFound
		}
		return s.fail("cancel_order", err)
	}
	return nil
}

func (s *Spot) FetchPositions(context.Context, string) ([]exchange.Position, error) {
	return nil, exchange.ErrNotSupported
}

func (s *Spot) FetchBalance(ctx context.Context, asset string) (exchange.Balance, error) {
	if err := s.wait(ctx); err != nil {
		return exchange.Balance{}, err
	}
	acc, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, s.fail("balance", err)
	}
	asset = strings.ToUpper(asset)
	for _, b := range acc.Balances {
		if b.Asset == asset {
			free := helper.ParseFloat(b.Free)
			return exchange.Balance{Asset: asset, Free: free, Total: free + helper.ParseFloat(b.Locked)}, nil
		}
	}
	return exchange.Balance{Asset: asset}, nil
}

func (s *Spot) SetLeverageAndMargin(context.Context, string, int) error { return nil }

func (s *Spot) FetchEffectiveLeverage(context.Context, string, int) (int, error) { return 1, nil }

// DiscoverSymbols — на споте активность видна только по ненулевым балансам.
func (s *Spot) DiscoverSymbols(ctx context.Context, _ time.Time) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	acc, err := s.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, s.fail("balances", err)
	}
	var out []string
	for _, b := range acc.Balances {
		if b.Asset == quoteAsset {
			continue
		}
		if helper.ParseFloat(b.Free)+helper.ParseFloat(b.Locked) > 0 {
			out = append(out, b.Asset)
		}
	}
	return out, nil
}

func (s *Spot) FetchMyTrades(ctx context.Context, ticker string, since time.Time) ([]exchange.Fill, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	trades, err := s.client.NewListTradesService().
		Symbol(Symbol(ticker)).
		StartTime(since.UnixMilli()).
		Limit(1000).
		Do(ctx)
	if err != nil {
		return nil, s.fail("my_trades", err)
	}
	out := make([]exchange.Fill, 0, len(trades))
	for _, t := range trades {
		side := "sell"
		if t.IsBuyer {
			side = "buy"
		}
		out = append(out, exchange.Fill{
			OrderID: strconv.FormatInt(t.OrderID, 10),
			Ticker:  strings.ToUpper(ticker),
			Side:    side,
			Price:   helper.ParseFloat(t.Price),
			Qty:     helper.ParseFloat(t.Quantity),
			Time:    time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

func spotCreated(r *binance.CreateOrderResponse, kind exchange.OrderKind) *exchange.Order {
	o := &exchange.Order{
		ID:       strconv.FormatInt(r.OrderID, 10),
		ClientID: r.ClientOrderID,
		Symbol:   r.Symbol,
		Kind:     kind,
		Side:     strings.ToLower(string(r.Side)),
		Status:   spotStatus(r.Status),
		Price:    helper.ParseFloat(r.Price),
		Amount:   helper.ParseFloat(r.OrigQuantity),
		Filled:   helper.ParseFloat(r.ExecutedQuantity),
	}
	o.Average = avgPrice(r.CummulativeQuoteQuantity, o.Filled)
	return o
}

func spotStatus(st binance.OrderStatusType) exchange.OrderStatus {
	switch st {
	case binance.OrderStatusTypeFilled:
		return exchange.OrderClosed
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired, binance.OrderStatusTypeRejected:
		return exchange.OrderCanceled
	}
	return exchange.OrderOpen
}

func avgPrice(quote string, filled float64) float64 {
	if filled <= 0 {
		return 0
	}
	return helper.ParseFloat(quote) / filled
}
