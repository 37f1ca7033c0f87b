package models

import (
	"sort"
	"strings"
)

// Settings — runtime-настройки риска; правятся из дашборда, живут в таблице settings.
type Settings struct {
	TradeAmount    float64         `json:"TRADE_AMOUNT"`
	SellBlocked    map[string]bool `json:"-"`
	TradeBlocked   map[string]bool `json:"-"`
	MaxConcurrent  int             `json:"MAX_CONCURRENT"`
	DailyLossLimit float64         `json:"DAILY_LOSS_LIMIT"`
	EntryTimeout   int             `json:"ENTRY_TIMEOUT"` // секунды
	MaxLeverage    int             `json:"MAX_LEVERAGE"`
}

func (s Settings) Clone() Settings {
	c := s
	c.SellBlocked = cloneSet(s.SellBlocked)
	c.TradeBlocked = cloneSet(s.TradeBlocked)
	return c
}

// ParseTickerSet — "btc, eth" -> {BTC, ETH}.
func ParseTickerSet(raw string) map[string]bool {
	out := make(map[string]bool)
	for _, p := range strings.Split(raw, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out[p] = true
		}
	}
	return out
}

func JoinTickerSet(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func cloneSet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
