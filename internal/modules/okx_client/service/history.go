package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
)

const (
	fillsPageLimit = 100
	fillsMaxPages  = 10
)

// FetchMyTrades — fills-history от новых к старым, страницы по billId до since.
func (a *Adapter) FetchMyTrades(ctx context.Context, ticker string, since time.Time) ([]exchange.Fill, error) {
	instID := a.instID(ticker)
	m, err := a.c.instrument(ctx, a.market, instID)
	if err != nil {
		return nil, err
	}
	sinceMs := since.UnixMilli()

	var (
		out   []exchange.Fill
		after string
	)
	for page := 0; page < fillsMaxPages; page++ {
		q := url.Values{
			"instType": {instType(a.market)},
			"instId":   {instID},
			"begin":    {strconv.FormatInt(sinceMs, 10)},
			"limit":    {strconv.Itoa(fillsPageLimit)},
		}
		if after != "" {
			q.Set("after", after)
		}
		var data []fillData
		if err := a.c.do(ctx, "fills_history", http.MethodGet, "/api/v5/trade/fills-history", q, nil, &data); err != nil {
			return nil, err
		}
		for _, f := range data {
			ms, _ := strconv.ParseInt(f.Ts, 10, 64)
			if ms < sinceMs {
				continue
			}
			out = append(out, exchange.Fill{
				OrderID:     f.OrdID,
				Ticker:      TickerOf(f.InstID),
				Side:        f.Side,
				Price:       helper.ParseFloat(f.FillPx),
				Qty:         m.base(helper.ParseFloat(f.FillSz)),
				RealizedPnL: helper.ParseFloat(f.FillPnl),
				Time:        time.UnixMilli(ms),
			})
		}
		if len(data) < fillsPageLimit {
			break
		}
		after = data[len(data)-1].BillID
	}
	return out, nil
}
