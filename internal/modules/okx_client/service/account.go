package service

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/models"
)

// SetNetMode — one-way режим позиций на аккаунте.
func (c *Client) SetNetMode(ctx context.Context) error {
	return c.do(ctx, "set_position_mode", http.MethodPost, "/api/v5/account/set-position-mode", nil,
		map[string]string{"posMode": "net_mode"}, nil)
}

func (a *Adapter) positions(ctx context.Context, instID string) ([]positionData, error) {
	q := url.Values{"instType": {"SWAP"}}
	if instID != "" {
		q.Set("instId", instID)
	}
	var data []positionData
	if err := a.c.do(ctx, "positions", http.MethodGet, "/api/v5/account/positions", q, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (a *Adapter) FetchPositions(ctx context.Context, ticker string) ([]exchange.Position, error) {
	if !a.derivatives() {
		return nil, exchange.ErrNotSupported
	}
	instID := ""
	if ticker != "" {
		instID = a.instID(ticker)
	}
	data, err := a.positions(ctx, instID)
	if err != nil {
		return nil, err
	}
	var out []exchange.Position
	for _, p := range data {
		pos := helper.ParseFloat(p.Pos)
		if pos == 0 {
			continue
		}
		m, err := a.c.instrument(ctx, a.market, p.InstID)
		if err != nil {
			return nil, err
		}
		side := models.SideLong
		if pos < 0 || p.PosSide == "short" {
			side = models.SideShort
		}
		lev, _ := strconv.Atoi(p.Lever)
		out = append(out, exchange.Position{
			Symbol:     p.InstID,
			Side:       side,
			Qty:        m.base(math.Abs(pos)),
			EntryPrice: helper.ParseFloat(p.AvgPx),
			Leverage:   lev,
		})
	}
	return out, nil
}

func (a *Adapter) balances(ctx context.Context, ccy string) (balanceData, error) {
	var q url.Values
	if ccy != "" {
		q = url.Values{"ccy": {ccy}}
	}
	var data []balanceData
	if err := a.c.do(ctx, "balance", http.MethodGet, "/api/v5/account/balance", q, nil, &data); err != nil {
		return balanceData{}, err
	}
	if len(data) == 0 {
		return balanceData{}, nil
	}
	return data[0], nil
}

func (a *Adapter) FetchBalance(ctx context.Context, asset string) (exchange.Balance, error) {
	asset = strings.ToUpper(asset)
	data, err := a.balances(ctx, asset)
	if err != nil {
		return exchange.Balance{}, err
	}
	for _, d := range data.Details {
		if d.Ccy == asset {
			return exchange.Balance{
				Asset: asset,
				Free:  helper.ParseFloat(d.AvailBal),
				Total: helper.ParseFloat(d.CashBal),
			}, nil
		}
	}
	return exchange.Balance{Asset: asset}, nil
}

// SetLeverageAndMargin — isolated с плечом; биржа может молча урезать, читать назад через FetchEffectiveLeverage.
func (a *Adapter) SetLeverageAndMargin(ctx context.Context, ticker string, leverage int) error {
	if !a.derivatives() {
		return nil
	}
	return a.c.do(ctx, "set_leverage", http.MethodPost, "/api/v5/account/set-leverage", nil, map[string]string{
		"instId":  a.instID(ticker),
		"lever":   strconv.Itoa(leverage),
		"mgnMode": "isolated",
	}, nil)
}

func (a *Adapter) FetchEffectiveLeverage(ctx context.Context, ticker string, fallback int) (int, error) {
	if !a.derivatives() {
		return 1, nil
	}
	var data []leverageData
	q := url.Values{"instId": {a.instID(ticker)}, "mgnMode": {"isolated"}}
	if err := a.c.do(ctx, "leverage_info", http.MethodGet, "/api/v5/account/leverage-info", q, nil, &data); err != nil {
		return fallback, err
	}
	for _, d := range data {
		if lev, err := strconv.ParseFloat(d.Lever, 64); err == nil && lev >= 1 {
			return int(lev), nil
		}
	}
	return fallback, nil
}

// DiscoverSymbols — SWAP: открытые позиции и закрытые с since; SPOT: ненулевые балансы.
func (a *Adapter) DiscoverSymbols(ctx context.Context, since time.Time) ([]string, error) {
	seen := make(map[string]bool)
	if a.derivatives() {
		open, err := a.positions(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, p := range open {
			if helper.ParseFloat(p.Pos) != 0 {
				seen[TickerOf(p.InstID)] = true
			}
		}
		var hist []positionHistoryData
		q := url.Values{"instType": {"SWAP"}, "limit": {"100"}}
		if err := a.c.do(ctx, "positions_history", http.MethodGet, "/api/v5/account/positions-history", q, nil, &hist); err != nil {
			return nil, err
		}
		for _, h := range hist {
			if ms, err := strconv.ParseInt(h.UTime, 10, 64); err == nil && ms >= since.UnixMilli() {
				seen[TickerOf(h.InstID)] = true
			}
		}
	} else {
		data, err := a.balances(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, d := range data.Details {
			if d.Ccy != "USDT" && helper.ParseFloat(d.CashBal) > 0 {
				seen[d.Ccy] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
