package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"signal_trader/internal/helper"
	"signal_trader/internal/models"
)

// Stats — агрегаты по периоду (фильтр по created_at) и каналу.
// today_* и open_count от периода не зависят.
func (s *Store) Stats(ctx context.Context, period models.Period, channel string) (models.Stats, error) {
	now := time.Now()
	since := toMs(period.Since(now))
	today := toMs(models.PeriodToday.Since(now))

	var st models.Stats
	err := s.b.queryRow(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'closed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' AND pnl_usdt > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' THEN COALESCE(pnl_usdt, 0) ELSE 0 END), 0)
		 FROM trades WHERE created_at >= ? AND (? = '' OR channel = ?)`,
		since, channel, channel,
	).Scan(&st.TotalTrades, &st.ClosedTrades, &st.Wins, &st.TotalPnL)
	if err != nil {
		return st, errors.Wrap(err, "stats totals")
	}

	err = s.b.queryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN status = 'closed' AND closed_at >= ? THEN COALESCE(pnl_usdt, 0) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('pending', 'open') THEN 1 ELSE 0 END), 0)
		 FROM trades WHERE (? = '' OR channel = ?)`,
		today, today, channel, channel,
	).Scan(&st.TodayPnL, &st.TodayCount, &st.OpenCount)
	if err != nil {
		return st, errors.Wrap(err, "stats today")
	}

	if st.ClosedTrades > 0 {
		st.WinRate = helper.RoundPlaces(float64(st.Wins)/float64(st.ClosedTrades)*100, 1)
	}
	st.TotalPnL = helper.RoundPlaces(st.TotalPnL, 2)
	st.TodayPnL = helper.RoundPlaces(st.TodayPnL, 2)
	return st, nil
}

// ChannelBreakdown — таблица результатов по каналам за период.
func (s *Store) ChannelBreakdown(ctx context.Context, period models.Period) ([]models.ChannelStats, error) {
	since := toMs(period.Since(time.Now()))
	var out []models.ChannelStats
	err := s.b.query(ctx,
		`SELECT channel, COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'closed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' AND pnl_usdt > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'closed' THEN COALESCE(pnl_usdt, 0) ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN status = 'closed' THEN pnl_pct END), 0)
		 FROM trades WHERE created_at >= ?
		 GROUP BY channel ORDER BY channel`,
		[]any{since},
		func(r rowScanner) error {
			var c models.ChannelStats
			if err := r.Scan(&c.Channel, &c.Trades, &c.Closed, &c.Wins, &c.TotalPnL, &c.AvgPnL); err != nil {
				return err
			}
			if c.Closed > 0 {
				c.WinRate = helper.RoundPlaces(float64(c.Wins)/float64(c.Closed)*100, 1)
			}
			c.TotalPnL = helper.RoundPlaces(c.TotalPnL, 2)
			c.AvgPnL = helper.RoundPlaces(c.AvgPnL, 2)
			out = append(out, c)
			return nil
		})
	if err != nil {
		return nil, errors.Wrap(err, "channel breakdown")
	}
	return out, nil
}

// TodayPnL — реализованный PnL по закрытым сегодня (локальная дата) сделкам, всех источников.
func (s *Store) TodayPnL(ctx context.Context) (float64, error) {
	var v float64
	err := s.b.queryRow(ctx,
		`SELECT COALESCE(SUM(pnl_usdt), 0) FROM trades WHERE status = 'closed' AND closed_at >= ?`,
		toMs(models.PeriodToday.Since(time.Now())),
	).Scan(&v)
	if err != nil {
		return 0, errors.Wrap(err, "today pnl")
	}
	return v, nil
}
