package models

import "strings"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideLong:
		return SideLong, true
	case SideShort:
		return SideShort, true
	}
	return "", false
}

// CloseSide — сторона ордера, закрывающего позицию.
func (s Side) CloseSide() string {
	if s == SideShort {
		return "buy"
	}
	return "sell"
}

// OpenSide — сторона ордера, открывающего позицию.
func (s Side) OpenSide() string {
	if s == SideShort {
		return "sell"
	}
	return "buy"
}

type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// Signal — нормализованный сигнал. Нулевая цена = поле отсутствует.
type Signal struct {
	Ticker      string     `json:"ticker"`
	Side        Side       `json:"side"`
	Entry       float64    `json:"entry"`
	TP1         float64    `json:"tp1"`
	TP2         float64    `json:"tp2"`
	TP3         float64    `json:"tp3"`
	TP4         float64    `json:"tp4"`
	SL          float64    `json:"sl"`
	Leverage    int        `json:"leverage"`
	TradeAmount float64    `json:"trade_amount,omitempty"`
	MarketHint  MarketType `json:"market_hint,omitempty"`
	MarketOrder bool       `json:"market_order"`
	Exchange    string     `json:"exchange"`
	Channel     string     `json:"channel"`
}

func (s Signal) Key() string { return TradeKey(s.Ticker, s.Side) }

func (s Signal) EffectiveLeverage() int {
	if s.Leverage < 1 {
		return 1
	}
	return s.Leverage
}

func TradeKey(ticker string, side Side) string { return ticker + "_" + string(side) }

// SourceMessage — событие от источника сигналов (канал + сырой текст).
type SourceMessage struct {
	ChannelID   string
	ChannelName string
	Text        string
}
