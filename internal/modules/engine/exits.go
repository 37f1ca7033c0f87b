package engine

import (
	"context"

	"github.com/pkg/errors"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/models"
	"signal_trader/pkg/logger"
)

// placeExits ставит SL, затем TP. Если не встал хоть один — аварийное закрытие.
// false => сделка ушла в терминальный статус.
func (e *Engine) placeExits(ctx context.Context, ad exchange.Adapter, t *models.Trade) bool {
	unlock := e.recon.lock(t.ID)
	defer unlock()

	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	tag := helper.MakeTag(t.Channel, t.Exchange)
	qty := t.OpenQty()
	tp := takeProfitPrice(*t, e.opts.TakeProfitTarget)

	if t.SLOrderID == "" {
		sl, err := ad.CreateExitOrder(ctx, exchange.ExitRequest{
			Ticker: t.Ticker, Side: t.Side, Kind: exchange.KindSL, Qty: qty, TriggerPrice: t.SL,
		})
		if err != nil {
			e.emergencyClose(ctx, ad, *t, errors.Wrap(err, "stop-loss"))
			return false
		}
		t.SLOrderID = sl.ID
		if err = e.store.UpdateTrade(ctx, t.ID, models.TradePatch{SLOrderID: &sl.ID}); err != nil {
			logger.Error("%s save sl order id: %v", prefix, err)
		}
	}

	if t.TPOrderID == "" {
		o, err := ad.CreateExitOrder(ctx, exchange.ExitRequest{
			Ticker: t.Ticker, Side: t.Side, Kind: exchange.KindTP, Qty: qty, TriggerPrice: tp,
		})
		if err != nil {
			// без TP не оставляем одностороннюю защиту
			if cerr := ad.CancelOrder(ctx, t.Ticker, t.SLOrderID, exchange.KindSL); cerr != nil && !errors.Is(cerr, exchange.ErrOrderNotFound) {
				logger.Error("%s cancel sl after tp failure: %v", prefix, cerr)
			}
			e.emergencyClose(ctx, ad, *t, errors.Wrap(err, "take-profit"))
			return false
		}
		t.TPOrderID = o.ID
		if err = e.store.UpdateTrade(ctx, t.ID, models.TradePatch{TPOrderID: &o.ID}); err != nil {
			logger.Error("%s save tp order id: %v", prefix, err)
		}
	}

	logger.Info("%s SL %s @ %s, TP %s @ %s", prefix, t.SLOrderID, helper.FormatNum(t.SL), t.TPOrderID, helper.FormatNum(tp))
	e.notifier.Sendf("%s🎯 %s %s exits placed: SL %s | TP %s", tag, t.Ticker, t.Side, helper.FormatNum(t.SL), helper.FormatNum(tp))
	return true
}

// emergencyClose — защиту поставить не удалось: закрываем рынком и фиксируем PnL по факту.
func (e *Engine) emergencyClose(ctx context.Context, ad exchange.Adapter, t models.Trade, cause error) {
	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	tag := helper.MakeTag(t.Channel, t.Exchange)
	logger.Error("%s exit placement failed, emergency close: %v", prefix, cause)

	o, err := ad.CloseMarket(ctx, t.Ticker, t.Side, t.OpenQty())
	if err != nil {
		e.fail(ctx, t, errors.Wrapf(err, "EMERGENCY CLOSE FAILED (%v), manual action required", cause))
		e.notifier.Sendf("%s🚨 %s %s: emergency close FAILED. Position is open without protection. Close it manually!",
			tag, t.Ticker, t.Side)
		return
	}

	exit := o.FillPrice(0)
	if exit <= 0 {
		if px, perr := ad.LastPrice(ctx, t.Ticker); perr == nil {
			exit = px
		} else {
			exit = t.EntryFill()
		}
	}
	qty := o.Filled
	if qty <= 0 {
		qty = t.OpenQty()
	}
	if _, err = e.recon.finish(ctx, t, models.ResultSLTPFailed, exit, qty, o.ID); err != nil {
		logger.Error("%s record emergency close: %v", prefix, err)
	}
	e.notifier.Sendf("%s🚨 %s %s: exit orders failed (%v), position closed at market", tag, t.Ticker, t.Side, cause)
}
