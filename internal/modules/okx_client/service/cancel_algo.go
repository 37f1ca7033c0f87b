package service

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/models"
	"signal_trader/pkg/logger"
)

// коды OKX: ордер не существует / уже исполнен или отменён
var goneCodes = map[string]bool{
	"51400": true,
	"51401": true,
	"51402": true,
	"51503": true,
	"51603": true,
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && goneCodes[apiErr.Code]
}

func errSizeTooSmall(instID string, qty float64) error {
	return fmt.Errorf("okx %s: qty %s below lot size", instID, helper.FormatNum(qty))
}

func (a *Adapter) CancelOrder(ctx context.Context, ticker, id string, kind exchange.OrderKind) error {
	instID := a.instID(ticker)
	var err error
	if kind.Trigger() {
		_, err = a.c.doItem(ctx, "cancel_algo", "/api/v5/trade/cancel-algos",
			[]map[string]string{{"instId": instID, "algoId": id}})
	} else {
		_, err = a.c.doItem(ctx, "cancel_order", "/api/v5/trade/cancel-order",
			map[string]string{"instId": instID, "ordId": id})
	}
	if err != nil && isNotFound(err) {
		return exchange.ErrOrderNotFound
	}
	return err
}

// CloseMarket — рыночное закрытие; для деривативов reduceOnly.
func (a *Adapter) CloseMarket(ctx context.Context, ticker string, side models.Side, qty float64) (*exchange.Order, error) {
	if err := a.spotLongOnly(side); err != nil {
		return nil, err
	}
	instID := a.instID(ticker)
	m, err := a.c.instrument(ctx, a.market, instID)
	if err != nil {
		return nil, err
	}
	sz := m.contracts(qty)
	if sz <= 0 {
		return nil, errSizeTooSmall(instID, qty)
	}
	body := map[string]any{
		"instId":  instID,
		"tdMode":  a.tdMode(),
		"side":    side.CloseSide(),
		"ordType": "market",
		"sz":      helper.FormatNum(sz),
		"clOrdId": clientOrderID(exchange.KindClose),
	}
	if a.derivatives() {
		body["reduceOnly"] = true
	}
	res, err := a.c.doItem(ctx, "close_market", "/api/v5/trade/order", body)
	if err != nil {
		return nil, err
	}

	o, err := a.fetchPlain(ctx, instID, res.OrdID, exchange.KindClose)
	if err != nil {
		logger.Warn("[OKX] %s close order %s placed, fetch failed: %v", instID, res.OrdID, err)
		return &exchange.Order{
			ID:     res.OrdID,
			Symbol: instID,
			Kind:   exchange.KindClose,
			Side:   side.CloseSide(),
			Status: exchange.OrderOpen,
			Amount: m.base(sz),
		}, nil
	}
	return o, nil
}
