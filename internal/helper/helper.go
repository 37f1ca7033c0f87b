package helper

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MakeTag — префикс уведомлений "[channel | EXCHANGE] ".
func MakeTag(channel, exchange string) string {
	channel = strings.TrimSpace(channel)
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	switch {
	case channel != "" && exchange != "":
		return "[" + channel + " | " + exchange + "] "
	case channel != "":
		return "[" + channel + "] "
	case exchange != "":
		return "[" + exchange + "] "
	}
	return ""
}

// LogPrefix — "[FUTURES SHORT] BTC".
func LogPrefix(market, side, ticker string) string {
	return "[" + strings.ToUpper(market) + " " + strings.ToUpper(side) + "] " + ticker
}

// RoundDownToStep округляет количество вниз до шага лота.
func RoundDownToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	f, _ := q.Div(s).Floor().Mul(s).Float64()
	return f
}

// RoundDownToTick — то же для цены.
func RoundDownToTick(px, tick float64) float64 { return RoundDownToStep(px, tick) }

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	p := decimal.NewFromFloat(px)
	t := decimal.NewFromFloat(tick)
	f, _ := p.Div(t).Ceil().Mul(t).Float64()
	return f
}

// RoundPlaces — half-up до places знаков.
func RoundPlaces(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// FormatNum — строка без экспоненты и лишних нулей, для REST-параметров.
func FormatNum(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// StepDecimals — число знаков после запятой у шага ("0.00100000" -> 3).
func StepDecimals(step string) int32 {
	d, err := decimal.NewFromString(strings.TrimSpace(step))
	if err != nil || d.Sign() <= 0 {
		return 8
	}
	for e := int32(0); e < 18; e++ {
		if d.Shift(e).IsInteger() {
			return e
		}
	}
	return 18
}

func ParseFloat(s string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
