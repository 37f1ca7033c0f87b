package engine

import (
	"signal_trader/internal/helper"
	"signal_trader/internal/models"
)

// PnL считается только от фактических цен обеих ног.
func PnL(side models.Side, entry, exit, qty float64) (usd, pct float64) {
	if entry <= 0 || qty <= 0 {
		return 0, 0
	}
	diff := exit - entry
	if side == models.SideShort {
		diff = entry - exit
	}
	usd = diff * qty
	pct = usd / (entry * qty) * 100
	return helper.RoundPlaces(usd, 4), helper.RoundPlaces(pct, 2)
}

// takeProfitPrice — целевой уровень TP: tp3 по умолчанию, tp4 если так настроено и он задан.
func takeProfitPrice(t models.Trade, target string) float64 {
	if target == "tp4" && t.TP4 > 0 {
		return t.TP4
	}
	if t.TP3 > 0 {
		return t.TP3
	}
	return t.TP4
}

func ptr[T any](v T) *T { return &v }
