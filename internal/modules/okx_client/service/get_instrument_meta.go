package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/models"
)

// InstID — "BTC" -> "BTC-USDT" (spot) / "BTC-USDT-SWAP".
func InstID(ticker string, market models.MarketType) string {
	id := strings.ToUpper(ticker) + "-USDT"
	if market == models.MarketFutures {
		id += "-SWAP"
	}
	return id
}

// TickerOf — обратное к InstID.
func TickerOf(instID string) string {
	return strings.SplitN(strings.ToUpper(instID), "-", 2)[0]
}

func instType(market models.MarketType) string {
	if market == models.MarketFutures {
		return "SWAP"
	}
	return "SPOT"
}

// meta — разобранные шаги инструмента. Для SWAP размер в контрактах, ctVal — базовой монеты в контракте.
type meta struct {
	lot   float64
	min   float64
	tick  float64
	ctVal float64
}

func (c *Client) instrument(ctx context.Context, market models.MarketType, instID string) (meta, error) {
	c.instMu.RLock()
	inst, ok := c.insts[instID]
	c.instMu.RUnlock()
	if !ok {
		q := url.Values{"instType": {instType(market)}, "instId": {instID}}
		var data []Instrument
		if err := c.do(ctx, "instruments", http.MethodGet, "/api/v5/public/instruments", q, nil, &data); err != nil {
			return meta{}, err
		}
		if len(data) == 0 {
			return meta{}, exchange.UnknownSymbol(instID)
		}
		inst = data[0]
		if inst.State != "" && inst.State != "live" {
			return meta{}, fmt.Errorf("instrument %s not live: state=%s", instID, inst.State)
		}
		c.instMu.Lock()
		c.insts[instID] = inst
		c.instMu.Unlock()
	}

	m := meta{
		lot:   helper.ParseFloat(inst.LotSz),
		min:   helper.ParseFloat(inst.MinSz),
		tick:  helper.ParseFloat(inst.TickSz),
		ctVal: 1,
	}
	if market == models.MarketFutures {
		if v := helper.ParseFloat(inst.CtVal); v > 0 {
			m.ctVal = v
		}
		if mult := helper.ParseFloat(inst.CtMult); mult > 0 {
			m.ctVal *= mult
		}
	}
	return m, nil
}

// contracts — базовое количество в размер ордера (контракты для SWAP), вниз до lotSz.
func (m meta) contracts(qty float64) float64 {
	sz, _ := decimal.NewFromFloat(qty).Div(decimal.NewFromFloat(m.ctVal)).Float64()
	return helper.RoundDownToStep(sz, m.lot)
}

func (m meta) base(sz float64) float64 {
	f, _ := decimal.NewFromFloat(sz).Mul(decimal.NewFromFloat(m.ctVal)).Float64()
	return f
}

func (c *Client) lastPrice(ctx context.Context, instID string) (float64, error) {
	var data []tickerData
	if err := c.do(ctx, "ticker", http.MethodGet, "/api/v5/market/ticker", url.Values{"instId": {instID}}, nil, &data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, exchange.UnknownSymbol(instID)
	}
	px := helper.ParseFloat(data[0].Last)
	if px <= 0 {
		return 0, fmt.Errorf("okx ticker %s: last <= 0", instID)
	}
	return px, nil
}
