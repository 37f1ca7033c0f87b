package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/metrics"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/risk"
	"signal_trader/pkg/logger"
	"signal_trader/pkg/tracing"
)

const maxResultLen = 200

func (e *Engine) execute(reservation *risk.Reservation, ad exchange.Adapter, s models.Signal, amount float64, timeout time.Duration) {
	defer e.wg.Done()
	defer e.gate.Release(reservation)

	span, ctx := tracing.StartSpan(e.root, "engine.execute", map[string]any{
		"ticker":   s.Ticker,
		"side":     string(s.Side),
		"exchange": s.Exchange,
		"market":   string(ad.Market()),
	})
	defer span.Finish()

	t, err := e.placeEntry(ctx, ad, s, amount)
	if err != nil {
		tracing.MarkError(span, err)
		return
	}
	e.drive(ctx, ad, *t, timeout)
}

// drive ведёт сделку из её текущего статуса до терминального.
func (e *Engine) drive(ctx context.Context, ad exchange.Adapter, t models.Trade, timeout time.Duration) {
	if t.Status == models.StatusPending {
		if t.EntryOrderID == "" {
			// упали между вставкой строки и отправкой ордера
			e.fail(ctx, t, errors.New("entry order was never submitted"))
			return
		}
		filled, ok := e.awaitFill(ctx, ad, t, timeout)
		if !ok {
			return
		}
		t = filled
	}
	if t.Status != models.StatusOpen {
		return
	}
	if t.SLOrderID == "" || t.TPOrderID == "" {
		if !e.placeExits(ctx, ad, &t) {
			return
		}
	}
	e.monitor(ctx, ad, t)
}

// placeEntry: размер по эффективному плечу, строка pending до отправки ордера.
func (e *Engine) placeEntry(ctx context.Context, ad exchange.Adapter, s models.Signal, amount float64) (*models.Trade, error) {
	prefix := helper.LogPrefix(string(ad.Market()), string(s.Side), s.Ticker)
	tag := helper.MakeTag(s.Channel, s.Exchange)

	lev := 1
	if ad.Market() == models.MarketFutures {
		if err := ad.SetLeverageAndMargin(ctx, s.Ticker, s.Leverage); err != nil {
			logger.Warn("%s set leverage %dx: %v", prefix, s.Leverage, err)
		}
		eff, err := ad.FetchEffectiveLeverage(ctx, s.Ticker, s.Leverage)
		if err != nil {
			logger.Warn("%s read back leverage: %v, sizing with 1x", prefix, err)
			eff = 1
		}
		if eff != s.Leverage {
			logger.Info("%s leverage requested %dx, effective %dx", prefix, s.Leverage, eff)
		}
		lev = eff
	}

	qty, err := ad.AmountToPrecision(ctx, s.Ticker, amount*float64(lev)/s.Entry)
	if err == nil && qty <= 0 {
		err = errors.Errorf("trade amount %.2f USDT is below the minimum order size", amount)
	}
	if err != nil {
		logger.Error("%s sizing failed: %v", prefix, err)
		e.notifier.Sendf("%s⚠️ %s %s: %v", tag, s.Ticker, s.Side, err)
		return nil, err
	}

	t := &models.Trade{
		Ticker:     s.Ticker,
		Side:       s.Side,
		EntryPrice: s.Entry,
		Qty:        qty,
		AmountUSDT: amount,
		TP1:        s.TP1,
		TP2:        s.TP2,
		TP3:        s.TP3,
		TP4:        s.TP4,
		SL:         s.SL,
		SLInitial:  s.SL,
		Channel:    s.Channel,
		Exchange:   s.Exchange,
		MarketType: ad.Market(),
		Leverage:   lev,
		Source:     models.SourceSignal,
		Status:     models.StatusPending,
		CreatedAt:  e.now(),
	}
	if _, err = e.store.InsertTrade(ctx, t); err != nil {
		logger.Error("%s persist trade: %v", prefix, err)
		e.notifier.Sendf("%s⚠️ %s %s: trade not recorded, entry skipped: %v", tag, s.Ticker, s.Side, err)
		return nil, err
	}

	req := exchange.EntryRequest{Ticker: s.Ticker, Side: s.Side, Qty: qty, Price: s.Entry}
	if s.MarketOrder {
		req.Price = 0
	}
	o, err := ad.CreateEntryOrder(ctx, req)
	if err != nil {
		e.fail(ctx, *t, errors.Wrap(err, "entry order"))
		return nil, err
	}
	if err = e.store.UpdateTrade(ctx, t.ID, models.TradePatch{EntryOrderID: &o.ID}); err != nil {
		logger.Error("%s save entry order id: %v", prefix, err)
	}
	t.EntryOrderID = o.ID

	kind := "limit @ " + helper.FormatNum(s.Entry)
	if req.Price == 0 {
		kind = "market"
	}
	logger.Info("%s entry order %s %s qty=%s lev=%dx", prefix, o.ID, kind, helper.FormatNum(qty), lev)
	e.notifier.Sendf("%s✅ %s %s order placed (%s)\nentry: %s | SL: %s | TP: %s\nqty: %s | amount: ~%.2f USDT | %dx",
		tag, s.Ticker, s.Side, kind, helper.FormatNum(s.Entry), helper.FormatNum(s.SL),
		helper.FormatNum(takeProfitPrice(*t, e.opts.TakeProfitTarget)), helper.FormatNum(qty), amount, lev)
	return t, nil
}

// awaitFill — единственное состояние с дедлайном. Частичное исполнение при отмене идёт дальше.
func (e *Engine) awaitFill(ctx context.Context, ad exchange.Adapter, t models.Trade, timeout time.Duration) (models.Trade, bool) {
	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	tag := helper.MakeTag(t.Channel, t.Exchange)
	deadline := t.CreatedAt.Add(timeout)

	tick := time.NewTicker(e.opts.FillPollInterval)
	defer tick.Stop()

	for {
		o, err := ad.FetchOrder(ctx, t.Ticker, t.EntryOrderID, exchange.KindEntry)
		switch {
		case err != nil:
			logger.Warn("%s fetch entry: %v", prefix, err)
		case o.Status == exchange.OrderClosed:
			return e.markFilled(ctx, t, o)
		case o.Status == exchange.OrderCanceled:
			if o.Filled > 0 {
				logger.Info("%s entry canceled after partial fill %s", prefix, helper.FormatNum(o.Filled))
				return e.markFilled(ctx, t, o)
			}
			e.finishEntry(ctx, t, models.StatusCancelled, models.ResultCancelled)
			logger.Info("%s entry canceled", prefix)
			e.notifier.Sendf("%s❌ %s %s entry order canceled", tag, t.Ticker, t.Side)
			return t, false
		}

		if e.now().After(deadline) {
			if err := ad.CancelOrder(ctx, t.Ticker, t.EntryOrderID, exchange.KindEntry); err != nil {
				logger.Warn("%s cancel entry on timeout: %v", prefix, err)
			}
			if o, err := ad.FetchOrder(ctx, t.Ticker, t.EntryOrderID, exchange.KindEntry); err == nil && o.Filled > 0 {
				logger.Info("%s entry timeout with partial fill %s", prefix, helper.FormatNum(o.Filled))
				return e.markFilled(ctx, t, o)
			}
			e.finishEntry(ctx, t, models.StatusTimeout, models.ResultTimeout)
			logger.Info("%s entry TIMEOUT (%s)", prefix, timeout)
			e.notifier.Sendf("%s⏰ %s %s entry not filled in %s, order canceled", tag, t.Ticker, t.Side, timeout)
			return t, false
		}

		select {
		case <-ctx.Done():
			return t, false
		case <-tick.C:
		}
	}
}

func (e *Engine) markFilled(ctx context.Context, t models.Trade, o *exchange.Order) (models.Trade, bool) {
	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	price := o.FillPrice(t.EntryPrice)
	qty := o.Filled
	if qty <= 0 {
		qty = t.Qty
	}
	now := e.now()
	won, err := e.store.FinishTrade(ctx, t.ID, models.TradePatch{
		Status:       ptr(models.StatusOpen),
		FilledPrice:  &price,
		FilledQty:    &qty,
		RemainingQty: &qty,
		FilledAt:     &now,
	}, models.StatusPending)
	if err != nil {
		logger.Error("%s mark filled: %v", prefix, err)
		return t, false
	}
	if !won {
		return t, false
	}
	t.Status = models.StatusOpen
	t.FilledPrice, t.FilledQty, t.RemainingQty, t.FilledAt = &price, &qty, &qty, &now

	logger.Info("%s FILLED %s @ %s", prefix, helper.FormatNum(qty), helper.FormatNum(price))
	e.notifier.Sendf("%s📥 %s %s filled: %s @ %s", helper.MakeTag(t.Channel, t.Exchange),
		t.Ticker, t.Side, helper.FormatNum(qty), helper.FormatNum(price))
	return t, true
}

func (e *Engine) finishEntry(ctx context.Context, t models.Trade, status models.TradeStatus, result string) {
	won, err := e.store.FinishTrade(ctx, t.ID, models.TradePatch{
		Status:   &status,
		Result:   &result,
		ClosedAt: ptr(e.now()),
	}, models.StatusPending)
	if err != nil {
		logger.Error("trade %d -> %s: %v", t.ID, status, err)
		return
	}
	if won {
		metrics.TradesClosed.WithLabelValues(t.Exchange, result).Inc()
	}
}

// fail — сделка в error; дальше только ручное вмешательство.
func (e *Engine) fail(ctx context.Context, t models.Trade, cause error) {
	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	msg := cause.Error()
	if len(msg) > maxResultLen {
		msg = msg[:maxResultLen]
	}
	won, err := e.store.FinishTrade(ctx, t.ID, models.TradePatch{
		Status:   ptr(models.StatusError),
		Result:   &msg,
		ClosedAt: ptr(e.now()),
	})
	if err != nil {
		logger.Error("%s mark error: %v", prefix, err)
	}
	if err == nil && !won {
		return
	}
	metrics.TradesClosed.WithLabelValues(t.Exchange, string(models.StatusError)).Inc()
	logger.Error("%s error: %v", prefix, cause)
	e.notifier.Sendf("%s⚠️ %s %s error: %v", helper.MakeTag(t.Channel, t.Exchange), t.Ticker, t.Side, cause)
}

// monitor — шаги a-d каждые MonitorInterval до терминального статуса.
func (e *Engine) monitor(ctx context.Context, ad exchange.Adapter, t models.Trade) {
	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	tick := time.NewTicker(e.opts.MonitorInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		done, err := e.recon.Check(ctx, t, ad)
		if err != nil {
			logger.Warn("%s monitor: %v", prefix, err)
		}
		if done {
			return
		}
	}
}
