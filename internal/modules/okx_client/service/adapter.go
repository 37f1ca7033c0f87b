package service

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/models"
)

// Adapter — OKX на одном рынке: SPOT (cash) или SWAP (isolated, net mode).
type Adapter struct {
	tickers
	c      *Client
	market models.MarketType
}

var (
	_ exchange.Adapter       = (*Adapter)(nil)
	_ exchange.PriceStreamer = (*Adapter)(nil)
)

func NewAdapter(c *Client, market models.MarketType) *Adapter {
	return &Adapter{tickers: newTickers(c.demo, market), c: c, market: market}
}

func (a *Adapter) Name() string              { return exchangeName }
func (a *Adapter) Market() models.MarketType { return a.market }

func (a *Adapter) derivatives() bool { return a.market == models.MarketFutures }

func (a *Adapter) instID(ticker string) string { return InstID(ticker, a.market) }

func (a *Adapter) tdMode() string {
	if a.derivatives() {
		return "isolated"
	}
	return "cash"
}

func (a *Adapter) spotLongOnly(side models.Side) error {
	if !a.derivatives() && side != models.SideLong {
		return exchange.ErrNotSupported
	}
	return nil
}

func clientOrderID(kind exchange.OrderKind) string {
	return "st" + string(kind) + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

func (a *Adapter) LastPrice(ctx context.Context, ticker string) (float64, error) {
	return a.c.lastPrice(ctx, a.instID(ticker))
}

// AmountToPrecision — базовое количество, кратное lotSz (в контрактах для SWAP).
func (a *Adapter) AmountToPrecision(ctx context.Context, ticker string, qty float64) (float64, error) {
	m, err := a.c.instrument(ctx, a.market, a.instID(ticker))
	if err != nil {
		return 0, err
	}
	sz := m.contracts(qty)
	if sz < m.min {
		return 0, nil
	}
	return m.base(sz), nil
}

func (a *Adapter) CreateEntryOrder(ctx context.Context, req exchange.EntryRequest) (*exchange.Order, error) {
	if err := a.spotLongOnly(req.Side); err != nil {
		return nil, err
	}
	instID := a.instID(req.Ticker)
	m, err := a.c.instrument(ctx, a.market, instID)
	if err != nil {
		return nil, err
	}
	sz := m.contracts(req.Qty)
	if sz <= 0 {
		return nil, errSizeTooSmall(instID, req.Qty)
	}
	body := map[string]any{
		"instId":  instID,
		"tdMode":  a.tdMode(),
		"side":    req.Side.OpenSide(),
		"sz":      helper.FormatNum(sz),
		"clOrdId": clientOrderID(exchange.KindEntry),
	}
	var px float64
	if req.Price > 0 {
		px = helper.RoundDownToTick(req.Price, m.tick)
		if req.Side == models.SideShort {
			px = helper.RoundUpToTick(req.Price, m.tick)
		}
		body["ordType"] = "limit"
		body["px"] = helper.FormatNum(px)
	} else {
		body["ordType"] = "market"
		if !a.derivatives() {
			// рыночная покупка на споте по умолчанию в quote
			body["tgtCcy"] = "base_ccy"
		}
	}
	res, err := a.c.doItem(ctx, "create_entry", "/api/v5/trade/order", body)
	if err != nil {
		return nil, err
	}
	return &exchange.Order{
		ID:       res.OrdID,
		ClientID: res.ClOrdID,
		Symbol:   instID,
		Kind:     exchange.KindEntry,
		Side:     req.Side.OpenSide(),
		Status:   exchange.OrderOpen,
		Price:    px,
		Amount:   m.base(sz),
	}, nil
}

func (a *Adapter) FetchOrder(ctx context.Context, ticker, id string, kind exchange.OrderKind) (*exchange.Order, error) {
	instID := a.instID(ticker)
	if kind.Trigger() {
		return a.fetchAlgo(ctx, instID, id, kind)
	}
	return a.fetchPlain(ctx, instID, id, kind)
}

func (a *Adapter) fetchPlain(ctx context.Context, instID, ordID string, kind exchange.OrderKind) (*exchange.Order, error) {
	if ordID == "" {
		return nil, exchange.ErrOrderNotFound
	}
	var data []orderData
	q := url.Values{"instId": {instID}, "ordId": {ordID}}
	if err := a.c.do(ctx, "fetch_order", http.MethodGet, "/api/v5/trade/order", q, nil, &data); err != nil {
		if isNotFound(err) {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, exchange.ErrOrderNotFound
	}
	m, err := a.c.instrument(ctx, a.market, instID)
	if err != nil {
		return nil, err
	}
	d := data[0]
	return &exchange.Order{
		ID:       d.OrdID,
		ClientID: d.ClOrdID,
		Symbol:   d.InstID,
		Kind:     kind,
		Side:     d.Side,
		Status:   orderStatus(d.State),
		Price:    helper.ParseFloat(d.Px),
		Average:  helper.ParseFloat(d.AvgPx),
		Amount:   m.base(helper.ParseFloat(d.Sz)),
		Filled:   m.base(helper.ParseFloat(d.AccFillSz)),
	}, nil
}

func orderStatus(state string) exchange.OrderStatus {
	switch state {
	case "filled":
		return exchange.OrderClosed
	case "canceled", "mmp_canceled":
		return exchange.OrderCanceled
	}
	return exchange.OrderOpen
}
