package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"signal_trader/internal/models"
)

const tradeCols = `id, ticker, side, status, entry_price, qty, amount_usdt,
	tp1, tp2, tp3, tp4, sl, sl_initial, channel, exchange_name, market_type, leverage, source,
	filled_price, filled_qty, remaining_qty, exit_price, result, pnl_usdt, pnl_pct,
	tp1_hit, sl_moved, exchange_order_id, sl_order_id, tp_order_id, close_order_id,
	created_at, filled_at, closed_at`

func scanTrade(r rowScanner) (models.Trade, error) {
	var (
		t                    models.Trade
		side, status, market string
		createdAt            int64
		filledAt, closedAt   *int64
	)
	err := r.Scan(
		&t.ID, &t.Ticker, &side, &status, &t.EntryPrice, &t.Qty, &t.AmountUSDT,
		&t.TP1, &t.TP2, &t.TP3, &t.TP4, &t.SL, &t.SLInitial, &t.Channel, &t.Exchange, &market, &t.Leverage, &t.Source,
		&t.FilledPrice, &t.FilledQty, &t.RemainingQty, &t.ExitPrice, &t.Result, &t.PnLUSDT, &t.PnLPct,
		&t.TP1Hit, &t.SLMoved, &t.EntryOrderID, &t.SLOrderID, &t.TPOrderID, &t.CloseOrderID,
		&createdAt, &filledAt, &closedAt,
	)
	if err != nil {
		return t, err
	}
	t.Side = models.Side(side)
	t.Status = models.TradeStatus(status)
	t.MarketType = models.MarketType(market)
	t.CreatedAt = fromMs(createdAt)
	t.FilledAt = fromMsPtr(filledAt)
	t.ClosedAt = fromMsPtr(closedAt)
	return t, nil
}

const insertTradeSQL = `INSERT INTO trades (
	ticker, side, status, entry_price, qty, amount_usdt,
	tp1, tp2, tp3, tp4, sl, sl_initial, channel, exchange_name, market_type, leverage, source,
	filled_price, filled_qty, remaining_qty, exit_price, result, pnl_usdt, pnl_pct,
	tp1_hit, sl_moved, exchange_order_id, sl_order_id, tp_order_id, close_order_id,
	created_at, filled_at, closed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func insertArgs(t *models.Trade) []any {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Source == "" {
		t.Source = models.SourceSignal
	}
	if t.Status == "" {
		t.Status = models.StatusPending
	}
	if t.Leverage < 1 {
		t.Leverage = 1
	}
	return []any{
		t.Ticker, string(t.Side), string(t.Status), t.EntryPrice, t.Qty, t.AmountUSDT,
		t.TP1, t.TP2, t.TP3, t.TP4, t.SL, t.SLInitial, t.Channel, t.Exchange, string(t.MarketType), t.Leverage, t.Source,
		t.FilledPrice, t.FilledQty, t.RemainingQty, t.ExitPrice, t.Result, t.PnLUSDT, t.PnLPct,
		t.TP1Hit, t.SLMoved, t.EntryOrderID, t.SLOrderID, t.TPOrderID, t.CloseOrderID,
		toMs(t.CreatedAt), toMsPtr(t.FilledAt), toMsPtr(t.ClosedAt),
	}
}

// InsertTrade пишет новую строку и проставляет t.ID.
func (s *Store) InsertTrade(ctx context.Context, t *models.Trade) (int64, error) {
	args := insertArgs(t)
	if err := s.b.queryRow(ctx, insertTradeSQL+" RETURNING id", args...).Scan(&t.ID); err != nil {
		return 0, errors.Wrap(err, "insert trade")
	}
	return t.ID, nil
}

// InsertSyncedTrade вставляет импортированную с биржи сделку.
// false — такой ордер уже есть (ключ exchange_name + exchange_order_id).
func (s *Store) InsertSyncedTrade(ctx context.Context, t *models.Trade) (bool, error) {
	t.Source = models.SourceExchange
	args := insertArgs(t)
	err := s.b.queryRow(ctx, insertTradeSQL+" ON CONFLICT DO NOTHING RETURNING id", args...).Scan(&t.ID)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "insert synced trade")
	}
	return true, nil
}

func patchSets(p models.TradePatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.SL != nil {
		add("sl", *p.SL)
	}
	if p.FilledPrice != nil {
		add("filled_price", *p.FilledPrice)
	}
	if p.FilledQty != nil {
		add("filled_qty", *p.FilledQty)
	}
	if p.RemainingQty != nil {
		add("remaining_qty", *p.RemainingQty)
	}
	if p.ExitPrice != nil {
		add("exit_price", *p.ExitPrice)
	}
	if p.Result != nil {
		add("result", *p.Result)
	}
	if p.PnLUSDT != nil {
		add("pnl_usdt", *p.PnLUSDT)
	}
	if p.PnLPct != nil {
		add("pnl_pct", *p.PnLPct)
	}
	if p.TP1Hit != nil {
		add("tp1_hit", *p.TP1Hit)
	}
	if p.SLMoved != nil {
		add("sl_moved", *p.SLMoved)
	}
	if p.EntryOrderID != nil {
		add("exchange_order_id", *p.EntryOrderID)
	}
	if p.SLOrderID != nil {
		add("sl_order_id", *p.SLOrderID)
	}
	if p.TPOrderID != nil {
		add("tp_order_id", *p.TPOrderID)
	}
	if p.CloseOrderID != nil {
		add("close_order_id", *p.CloseOrderID)
	}
	if p.FilledAt != nil {
		add("filled_at", p.FilledAt.UnixMilli())
	}
	if p.ClosedAt != nil {
		add("closed_at", p.ClosedAt.UnixMilli())
	}
	return sets, args
}

func (s *Store) UpdateTrade(ctx context.Context, id int64, p models.TradePatch) error {
	sets, args := patchSets(p)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	n, err := s.b.exec(ctx, "UPDATE trades SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return errors.Wrapf(err, "update trade %d", id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishTrade применяет patch, только если текущий статус входит в from.
// true — этот вызов выиграл переход; второй финализатор получит false.
func (s *Store) FinishTrade(ctx context.Context, id int64, p models.TradePatch, from ...models.TradeStatus) (bool, error) {
	sets, args := patchSets(p)
	if len(sets) == 0 {
		return false, nil
	}
	if len(from) == 0 {
		from = []models.TradeStatus{models.StatusPending, models.StatusOpen}
	}
	args = append(args, id)
	ph := make([]string, len(from))
	for i, st := range from {
		ph[i] = "?"
		args = append(args, string(st))
	}
	q := "UPDATE trades SET " + strings.Join(sets, ", ") +
		" WHERE id = ? AND status IN (" + strings.Join(ph, ", ") + ")"
	n, err := s.b.exec(ctx, q, args...)
	if err != nil {
		return false, errors.Wrapf(err, "finish trade %d", id)
	}
	return n > 0, nil
}

// MarkBreakeven фиксирует перенос стопа один раз: повторный вызов вернёт false.
func (s *Store) MarkBreakeven(ctx context.Context, id int64, sl float64, slOrderID string) (bool, error) {
	n, err := s.b.exec(ctx,
		`UPDATE trades SET sl = ?, sl_order_id = ?, tp1_hit = ?, sl_moved = ?
		 WHERE id = ? AND sl_moved = ? AND status = ?`,
		sl, slOrderID, true, true, id, false, string(models.StatusOpen))
	if err != nil {
		return false, errors.Wrapf(err, "mark breakeven %d", id)
	}
	return n > 0, nil
}

func (s *Store) GetTrade(ctx context.Context, id int64) (*models.Trade, error) {
	t, err := scanTrade(s.b.queryRow(ctx, "SELECT "+tradeCols+" FROM trades WHERE id = ?", id))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get trade %d", id)
	}
	return &t, nil
}

func (s *Store) ListTrades(ctx context.Context, f models.TradeFilter) ([]models.Trade, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" && f.Status != "all" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, f.Channel)
	}
	q := "SELECT " + tradeCols + " FROM trades"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	return s.collectTrades(ctx, q, args)
}

// ActiveTrades — сделки в pending/open; по умолчанию оба статуса.
func (s *Store) ActiveTrades(ctx context.Context, statuses ...models.TradeStatus) ([]models.Trade, error) {
	if len(statuses) == 0 {
		statuses = []models.TradeStatus{models.StatusPending, models.StatusOpen}
	}
	ph := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		ph[i] = "?"
		args[i] = string(st)
	}
	q := "SELECT " + tradeCols + " FROM trades WHERE status IN (" + strings.Join(ph, ", ") + ") ORDER BY id"
	return s.collectTrades(ctx, q, args)
}

// KnownExchangeOrderIDs — все id ордеров, которые мы уже знаем по бирже:
// входы, стопы, тейки, аварийные закрытия и ранее импортированные.
func (s *Store) KnownExchangeOrderIDs(ctx context.Context, exchange string) (map[string]bool, error) {
	out := make(map[string]bool)
	err := s.b.query(ctx,
		`SELECT exchange_order_id, sl_order_id, tp_order_id, close_order_id FROM trades WHERE exchange_name = ?`,
		[]any{exchange},
		func(r rowScanner) error {
			var a, b, c, d string
			if err := r.Scan(&a, &b, &c, &d); err != nil {
				return err
			}
			for _, id := range []string{a, b, c, d} {
				if id != "" {
					out[id] = true
				}
			}
			return nil
		})
	if err != nil {
		return nil, errors.Wrap(err, "known order ids")
	}
	return out, nil
}

func (s *Store) collectTrades(ctx context.Context, q string, args []any) ([]models.Trade, error) {
	var out []models.Trade
	err := s.b.query(ctx, q, args, func(r rowScanner) error {
		t, err := scanTrade(r)
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list trades")
	}
	return out, nil
}
