package service

import (
	"context"
	"net/http"
	"net/url"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
)

// CreateExitOrder — SL и TP на OKX одинаковые trigger-ордера, отличаются только уровнем.
// Исполнение рыночное (orderPx=-1) по последней цене.
func (a *Adapter) CreateExitOrder(ctx context.Context, req exchange.ExitRequest) (*exchange.Order, error) {
	if !req.Kind.Trigger() {
		return nil, exchange.ErrNotSupported
	}
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
	closeSide := req.Side.CloseSide()
	trigger := helper.RoundDownToTick(req.TriggerPrice, m.tick)
	if closeSide == "buy" {
		trigger = helper.RoundUpToTick(req.TriggerPrice, m.tick)
	}

	body := map[string]any{
		"instId":        instID,
		"tdMode":        a.tdMode(),
		"side":          closeSide,
		"ordType":       "trigger",
		"sz":            helper.FormatNum(sz),
		"triggerPx":     helper.FormatNum(trigger),
		"orderPx":       "-1",
		"triggerPxType": "last",
		"algoClOrdId":   clientOrderID(req.Kind),
	}
	if a.derivatives() {
		body["reduceOnly"] = true
	}

	res, err := a.c.doItem(ctx, "place_algo", "/api/v5/trade/order-algo", body)
	if err != nil {
		return nil, err
	}
	return &exchange.Order{
		ID:           res.AlgoID,
		ClientID:     body["algoClOrdId"].(string),
		Symbol:       instID,
		Kind:         req.Kind,
		Side:         closeSide,
		Status:       exchange.OrderOpen,
		TriggerPrice: trigger,
		Amount:       m.base(sz),
	}, nil
}

// fetchAlgo — состояние trigger-ордера; effective => сработал, цену берём из порождённого ордера.
func (a *Adapter) fetchAlgo(ctx context.Context, instID, algoID string, kind exchange.OrderKind) (*exchange.Order, error) {
	var data []algoData
	err := a.c.do(ctx, "fetch_algo", http.MethodGet, "/api/v5/trade/order-algo", url.Values{"algoId": {algoID}}, nil, &data)
	if err != nil {
		if isNotFound(err) {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, exchange.ErrOrderNotFound
	}
	d := data[0]
	m, err := a.c.instrument(ctx, a.market, instID)
	if err != nil {
		return nil, err
	}
	o := &exchange.Order{
		ID:           d.AlgoID,
		ClientID:     d.AlgoClOrdID,
		Symbol:       d.InstID,
		Kind:         kind,
		Side:         d.Side,
		Status:       algoStatus(d.State),
		TriggerPrice: helper.ParseFloat(d.TriggerPx),
		Amount:       m.base(helper.ParseFloat(d.Sz)),
	}
	if o.Status != exchange.OrderClosed {
		return o, nil
	}

	o.Filled = o.Amount
	if sz := helper.ParseFloat(d.ActualSz); sz > 0 {
		o.Filled = m.base(sz)
	}
	if px := helper.ParseFloat(d.ActualPx); px > 0 {
		o.Average = px
	}
	if d.OrdID != "" {
		o.FillOrderID = d.OrdID
		if child, err := a.fetchPlain(ctx, instID, d.OrdID, kind); err == nil && child.Average > 0 {
			o.Average = child.Average
			o.Filled = child.Filled
		}
	}
	if o.Average <= 0 {
		o.Average = o.TriggerPrice
	}
	return o, nil
}

func algoStatus(state string) exchange.OrderStatus {
	switch state {
	case "effective":
		return exchange.OrderClosed
	case "canceled", "order_failed":
		return exchange.OrderCanceled
	}
	return exchange.OrderOpen
}
