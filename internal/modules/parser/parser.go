package parser

import (
	"regexp"
	"strconv"
	"strings"

	"signal_trader/internal/helper"
	"signal_trader/internal/models"
)

// Формат по умолчанию: "#BTC – LONG ... 진입 포인트: 66400 ... 목표 수익: 68000, 70000, 72000 ... 손절가: 63000".
var defaultPattern = regexp.MustCompile(
	`(?is)#(\w+)\s*[–—-]\s*(LONG|SHORT)\s*` +
		`.*?진입\s*포인트[:\s]*([\d.]+)\s*` +
		`.*?목표\s*수익[:\s]*([\d.,\s]+)\s*` +
		`.*?손절가[:\s]*([\d.]+)`,
)

// Parse разбирает сообщение шаблоном по умолчанию. Меньше трёх целей — не сигнал.
func Parse(text string) (*models.Signal, bool) {
	m := defaultPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	side, ok := models.ParseSide(m[2])
	if !ok {
		return nil, false
	}
	entry, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, false
	}
	sl, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return nil, false
	}

	var targets []float64
	for _, raw := range strings.Split(m[4], ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		targets = append(targets, v)
	}
	if len(targets) < 3 {
		return nil, false
	}

	s := &models.Signal{
		Ticker: strings.ToUpper(m[1]),
		Side:   side,
		Entry:  entry,
		TP1:    targets[0],
		TP2:    targets[1],
		TP3:    targets[2],
		TP4:    targets[2],
		SL:     sl,
	}
	if len(targets) > 3 {
		s.TP4 = targets[3]
	}
	return s, true
}

// FillDefaults дозаполняет отсутствующие SL/TP от цены входа.
// Уже заданные поля не трогает; без входа ничего не делает.
func FillDefaults(s *models.Signal) {
	if s == nil || s.Entry <= 0 {
		return
	}
	e := s.Entry
	mul := func(k float64) float64 { return helper.RoundPlaces(e*k, 8) }

	if s.Side == models.SideShort {
		setDefault(&s.SL, mul(1.05))
		setDefault(&s.TP1, mul(0.985))
		setDefault(&s.TP2, mul(0.965))
		setDefault(&s.TP3, mul(0.90))
	} else {
		setDefault(&s.SL, mul(0.95))
		setDefault(&s.TP1, mul(1.015))
		setDefault(&s.TP2, mul(1.035))
		setDefault(&s.TP3, mul(1.10))
	}
	setDefault(&s.TP4, s.TP3)
}

func setDefault(dst *float64, v float64) {
	if *dst == 0 {
		*dst = v
	}
}
