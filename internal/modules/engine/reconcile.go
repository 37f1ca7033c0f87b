package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/metrics"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/ledger"
	"signal_trader/internal/modules/risk"
	"signal_trader/internal/notify"
	"signal_trader/pkg/logger"
)

// Reconciler сверяет открытую сделку с биржей. Его зовут и цикл сделки, и вотчер;
// действия по одной сделке сериализованы, строка перечитывается под замком.
type Reconciler struct {
	store     *ledger.Store
	gate      *risk.Gatekeeper
	notifier  notify.Notifier
	tolerance float64
	now       func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewReconciler(store *ledger.Store, gate *risk.Gatekeeper, n notify.Notifier, tolerance float64) *Reconciler {
	if tolerance <= 0 || tolerance > 1 {
		tolerance = 0.95
	}
	return &Reconciler{
		store:     store,
		gate:      gate,
		notifier:  n,
		tolerance: tolerance,
		now:       time.Now,
		locks:     make(map[int64]*sync.Mutex),
	}
}

func (r *Reconciler) lock(id int64) func() {
	r.mu.Lock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (r *Reconciler) forget(id int64) {
	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()
}

// Check — проверки a-d в фиксированном порядке. true => сделка в терминальном статусе.
// Ошибки сети не терминальны: вернутся вместе с false, следующий тик повторит.
func (r *Reconciler) Check(ctx context.Context, trade models.Trade, ad exchange.Adapter) (bool, error) {
	unlock := r.lock(trade.ID)
	defer unlock()

	t, err := r.store.GetTrade(ctx, trade.ID)
	if err != nil {
		return false, err
	}
	if t.Status.Terminal() {
		return true, nil
	}
	if t.Status != models.StatusOpen {
		return false, nil
	}

	// a) позиция/баланс на месте?
	gone, err := r.positionGone(ctx, *t, ad)
	if err != nil {
		return false, errors.Wrap(err, "position check")
	}
	if gone {
		return r.closeGone(ctx, *t, ad)
	}

	var errs error

	// b) перевод SL в безубыток
	if !t.SLMoved && t.SLOrderID != "" && t.TP1 > 0 {
		px, err := ad.LastPrice(ctx, t.Ticker)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "last price"))
		} else if err = r.breakevenLocked(ctx, t, ad, px); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	// c) TP исполнен?
	if t.TPOrderID != "" {
		o, err := ad.FetchOrder(ctx, t.Ticker, t.TPOrderID, exchange.KindTP)
		switch {
		case err != nil && !errors.Is(err, exchange.ErrOrderNotFound):
			errs = multierr.Append(errs, errors.Wrap(err, "fetch tp"))
		case o != nil && o.Status == exchange.OrderClosed:
			return r.finalize(ctx, *t, ad, models.ResultTPHit, o)
		}
	}

	// d) SL исполнен?
	if t.SLOrderID != "" {
		o, err := ad.FetchOrder(ctx, t.Ticker, t.SLOrderID, exchange.KindSL)
		switch {
		case err != nil && !errors.Is(err, exchange.ErrOrderNotFound):
			errs = multierr.Append(errs, errors.Wrap(err, "fetch sl"))
		case o != nil && o.Status == exchange.OrderClosed:
			return r.finalize(ctx, *t, ad, models.ResultSLHit, o)
		}
	}

	return false, errs
}

// Breakeven — только проверка b) по цене из ws.
func (r *Reconciler) Breakeven(ctx context.Context, trade models.Trade, ad exchange.Adapter, price float64) error {
	unlock := r.lock(trade.ID)
	defer unlock()

	t, err := r.store.GetTrade(ctx, trade.ID)
	if err != nil {
		return err
	}
	return r.breakevenLocked(ctx, t, ad, price)
}

// TP1Reached — цена дошла до первой цели в сторону сделки.
func TP1Reached(t *models.Trade, price float64) bool {
	if t.TP1 <= 0 || price <= 0 {
		return false
	}
	if t.Side == models.SideShort {
		return price <= t.TP1
	}
	return price >= t.TP1
}

// breakevenLocked: снять старый SL, поставить новый по цене входа. Если новый не встал,
// пытаемся вернуть старый; sl_moved остаётся false и следующий тик повторит.
func (r *Reconciler) breakevenLocked(ctx context.Context, t *models.Trade, ad exchange.Adapter, price float64) error {
	if t.Status != models.StatusOpen || t.SLMoved || t.SLOrderID == "" || !TP1Reached(t, price) {
		return nil
	}
	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	tag := helper.MakeTag(t.Channel, t.Exchange)
	entry := t.EntryFill()
	qty := t.OpenQty()

	if err := ad.CancelOrder(ctx, t.Ticker, t.SLOrderID, exchange.KindSL); err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// старого SL нет: либо уже сработал, это решат шаги c/d
			return nil
		}
		return errors.Wrap(err, "breakeven: cancel sl")
	}

	o, err := ad.CreateExitOrder(ctx, exchange.ExitRequest{
		Ticker: t.Ticker, Side: t.Side, Kind: exchange.KindSL, Qty: qty, TriggerPrice: entry,
	})
	if err != nil {
		logger.Error("%s breakeven SL failed: %v", prefix, err)
		restored, rerr := ad.CreateExitOrder(ctx, exchange.ExitRequest{
			Ticker: t.Ticker, Side: t.Side, Kind: exchange.KindSL, Qty: qty, TriggerPrice: t.SL,
		})
		if rerr != nil {
			r.notifier.Sendf("%s🚨 %s %s: breakeven failed and old SL could not be restored. Position is UNPROTECTED: %v",
				tag, t.Ticker, t.Side, multierr.Combine(err, rerr))
			if uerr := r.store.UpdateTrade(ctx, t.ID, models.TradePatch{SLOrderID: ptr("")}); uerr != nil {
				logger.Error("%s clear sl order id: %v", prefix, uerr)
			}
			t.SLOrderID = ""
			return errors.Wrap(err, "breakeven: place sl")
		}
		if uerr := r.store.UpdateTrade(ctx, t.ID, models.TradePatch{SLOrderID: &restored.ID}); uerr != nil {
			logger.Error("%s save restored sl: %v", prefix, uerr)
		}
		t.SLOrderID = restored.ID
		r.notifier.Sendf("%s⚠️ %s %s: breakeven SL failed, original SL %s restored", tag, t.Ticker, t.Side, helper.FormatNum(t.SL))
		return errors.Wrap(err, "breakeven: place sl")
	}

	moved, err := r.store.MarkBreakeven(ctx, t.ID, entry, o.ID)
	if err != nil {
		return errors.Wrap(err, "breakeven: mark")
	}
	if !moved {
		return nil
	}
	t.SLMoved, t.TP1Hit, t.SL, t.SLOrderID = true, true, entry, o.ID
	logger.Info("%s TP1 %s reached at %s, SL moved to entry %s", prefix,
		helper.FormatNum(t.TP1), helper.FormatNum(price), helper.FormatNum(entry))
	r.notifier.Sendf("%s🛡 %s %s: TP1 hit, SL moved to breakeven %s", tag, t.Ticker, t.Side, helper.FormatNum(entry))
	return nil
}

// positionGone — спот: баланс ниже tolerance от ожидаемого; деривативы: нет позиции нашей стороны.
func (r *Reconciler) positionGone(ctx context.Context, t models.Trade, ad exchange.Adapter) (bool, error) {
	qty := t.OpenQty()
	if ad.Market() == models.MarketSpot {
		bal, err := ad.FetchBalance(ctx, t.Ticker)
		if err != nil {
			return false, err
		}
		return bal.Total < qty*r.tolerance, nil
	}
	positions, err := ad.FetchPositions(ctx, t.Ticker)
	if err != nil {
		return false, err
	}
	for _, p := range positions {
		if p.Side == t.Side && p.Qty > 0 {
			return false, nil
		}
	}
	return true, nil
}

// closeGone — объёма нет. Сначала смотрим, не исполнился ли наш TP/SL; иначе закрыто извне.
func (r *Reconciler) closeGone(ctx context.Context, t models.Trade, ad exchange.Adapter) (bool, error) {
	for _, leg := range []struct {
		id     string
		kind   exchange.OrderKind
		result string
	}{
		{t.TPOrderID, exchange.KindTP, models.ResultTPHit},
		{t.SLOrderID, exchange.KindSL, models.ResultSLHit},
	} {
		if leg.id == "" {
			continue
		}
		o, err := ad.FetchOrder(ctx, t.Ticker, leg.id, leg.kind)
		if err == nil && o.Status == exchange.OrderClosed {
			return r.finalize(ctx, t, ad, leg.result, o)
		}
	}

	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	if err := r.cancelExits(ctx, t, ad); err != nil {
		logger.Warn("%s cancel exits after external close: %v", prefix, err)
	}
	r.sweepGhost(ctx, t, ad)

	exit := t.EntryFill()
	if px, err := ad.LastPrice(ctx, t.Ticker); err == nil && px > 0 {
		exit = px
	}
	return r.finish(ctx, t, models.ResultExternal, exit, t.OpenQty(), "")
}

// finalize — исполнился TP или SL: снять вторую ногу, зафиксировать PnL по факту.
func (r *Reconciler) finalize(ctx context.Context, t models.Trade, ad exchange.Adapter, result string, filled *exchange.Order) (bool, error) {
	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	sibling, siblingID := exchange.KindSL, t.SLOrderID
	fallback := t.SL
	if result == models.ResultSLHit {
		sibling, siblingID = exchange.KindTP, t.TPOrderID
	} else {
		fallback = filled.TriggerPrice
	}
	if siblingID != "" {
		if err := ad.CancelOrder(ctx, t.Ticker, siblingID, sibling); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			logger.Warn("%s cancel %s after %s: %v", prefix, sibling, result, err)
			r.sweepGhost(ctx, t, ad)
		}
	}

	if fallback <= 0 {
		fallback = t.EntryFill()
	}
	exit := filled.FillPrice(fallback)
	qty := filled.Filled
	if qty <= 0 {
		qty = t.OpenQty()
	}
	return r.finish(ctx, t, result, exit, qty, filled.FillOrderID)
}

// finish — условный переход в closed; PnL в дневной счётчик и уведомление только у победителя.
func (r *Reconciler) finish(ctx context.Context, t models.Trade, result string, exit, qty float64, closeOrderID string) (bool, error) {
	entry := t.EntryFill()
	usd, pct := PnL(t.Side, entry, exit, qty)
	patch := models.TradePatch{
		Status:       ptr(models.StatusClosed),
		Result:       ptr(result),
		ExitPrice:    ptr(exit),
		PnLUSDT:      ptr(usd),
		PnLPct:       ptr(pct),
		RemainingQty: ptr(0.0),
		ClosedAt:     ptr(r.now()),
	}
	if closeOrderID != "" {
		patch.CloseOrderID = ptr(closeOrderID)
	}
	won, err := r.store.FinishTrade(ctx, t.ID, patch, models.StatusOpen)
	if err != nil {
		return false, err
	}
	if !won {
		return true, nil
	}
	r.forget(t.ID)
	r.gate.RecordPnL(usd)
	metrics.TradesClosed.WithLabelValues(t.Exchange, result).Inc()

	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	logger.Info("%s closed: %s exit=%s pnl=%.4f USDT (%.2f%%)", prefix, result, helper.FormatNum(exit), usd, pct)
	r.notifier.Sendf("%s%s %s %s closed: %s\nentry %s -> exit %s\nPnL: %+.2f USDT (%+.2f%%)",
		helper.MakeTag(t.Channel, t.Exchange), resultIcon(result, usd), t.Ticker, t.Side, result,
		helper.FormatNum(entry), helper.FormatNum(exit), usd, pct)
	return true, nil
}

func (r *Reconciler) cancelExits(ctx context.Context, t models.Trade, ad exchange.Adapter) error {
	var errs error
	if t.SLOrderID != "" {
		if err := ad.CancelOrder(ctx, t.Ticker, t.SLOrderID, exchange.KindSL); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			errs = multierr.Append(errs, errors.Wrap(err, "cancel sl"))
		}
	}
	if t.TPOrderID != "" {
		if err := ad.CancelOrder(ctx, t.Ticker, t.TPOrderID, exchange.KindTP); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			errs = multierr.Append(errs, errors.Wrap(err, "cancel tp"))
		}
	}
	return errs
}

// sweepGhost закрывает встречную позицию, которую мог открыть сработавший «осиротевший» триггер.
// Встречную сторону не трогаем, если по ней есть живая сделка в леджере.
func (r *Reconciler) sweepGhost(ctx context.Context, t models.Trade, ad exchange.Adapter) {
	if ad.Market() != models.MarketFutures {
		return
	}
	prefix := helper.LogPrefix(string(t.MarketType), string(t.Side), t.Ticker)
	opposite := models.SideShort
	if t.Side == models.SideShort {
		opposite = models.SideLong
	}

	active, err := r.store.ActiveTrades(ctx)
	if err != nil {
		logger.Warn("%s ghost sweep: %v", prefix, err)
		return
	}
	for _, a := range active {
		if a.Ticker == t.Ticker && a.Side == opposite && a.Exchange == t.Exchange && a.MarketType == t.MarketType {
			return
		}
	}

	positions, err := ad.FetchPositions(ctx, t.Ticker)
	if err != nil {
		logger.Warn("%s ghost sweep: %v", prefix, err)
		return
	}
	var errs error
	for _, p := range positions {
		if p.Side != opposite || p.Qty <= 0 {
			continue
		}
		if _, err := ad.CloseMarket(ctx, t.Ticker, p.Side, p.Qty); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		logger.Warn("%s ghost %s position %s closed", prefix, p.Side, helper.FormatNum(p.Qty))
		r.notifier.Sendf("%s👻 %s: ghost %s position %s closed", helper.MakeTag(t.Channel, t.Exchange), t.Ticker, p.Side, helper.FormatNum(p.Qty))
	}
	if errs != nil {
		logger.Error("%s ghost sweep failed: %v", prefix, errs)
		r.notifier.Sendf("%s🚨 %s: ghost position close failed: %v", helper.MakeTag(t.Channel, t.Exchange), t.Ticker, errs)
	}
}

func resultIcon(result string, usd float64) string {
	switch {
	case result == models.ResultSLTPFailed:
		return "🚨"
	case usd >= 0:
		return "✅"
	}
	return "🔻"
}
