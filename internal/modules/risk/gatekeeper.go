package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"signal_trader/internal/metrics"
	"signal_trader/internal/models"
)

const (
	CodeTradeBlocked  = "trade_blocked"
	CodeSellBlocked   = "sell_blocked"
	CodeDailyLoss     = "daily_loss"
	CodeMaxConcurrent = "max_concurrent"
	CodeDuplicate     = "duplicate"
)

// RejectError — сигнал отклонён политикой риска; это не сбой.
type RejectError struct {
	Code    string
	Message string
}

func (e *RejectError) Error() string { return e.Message }

func reject(code, format string, args ...any) error {
	return &RejectError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Reservation — занятый ключ ticker_side. Release идемпотентен.
type Reservation struct {
	Key  string
	once sync.Once
}

// Gatekeeper — проверки перед входом и общие счётчики (активные ключи, дневной PnL).
// Проверка и резервирование идут под одним мьютексом.
type Gatekeeper struct {
	settings *SettingsStore
	now      func() time.Time

	mu        sync.Mutex
	active    map[string]struct{}
	dailyPnL  float64
	resetDate string
}

func NewGatekeeper(settings *SettingsStore) *Gatekeeper {
	return &Gatekeeper{
		settings:  settings,
		now:       time.Now,
		active:    make(map[string]struct{}),
		resetDate: time.Now().Format(time.DateOnly),
	}
}

// CapLeverage молча режет плечо до MAX_LEVERAGE.
func (g *Gatekeeper) CapLeverage(lev int) int {
	if lev < 1 {
		lev = 1
	}
	if ceiling := g.settings.Snapshot().MaxLeverage; ceiling >= 1 && lev > ceiling {
		return ceiling
	}
	return lev
}

// Admit проверяет сигнал в фиксированном порядке и резервирует ключ.
func (g *Gatekeeper) Admit(ticker string, side models.Side) (*Reservation, error) {
	st := g.settings.Snapshot()

	if st.TradeBlocked[ticker] {
		return nil, reject(CodeTradeBlocked, "%s is trade-blocked (all directions)", ticker)
	}
	if st.SellBlocked[ticker] && side == models.SideShort {
		return nil, reject(CodeSellBlocked, "%s SHORT is prohibited (sell-blocked)", ticker)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.checkDailyResetLocked()
	if g.dailyPnL <= -st.DailyLossLimit {
		return nil, reject(CodeDailyLoss, "daily loss limit reached (%.2f/%.2f USDT)", g.dailyPnL, -st.DailyLossLimit)
	}
	if len(g.active) >= st.MaxConcurrent {
		return nil, reject(CodeMaxConcurrent, "max concurrent positions reached (%d/%d)", len(g.active), st.MaxConcurrent)
	}
	key := models.TradeKey(ticker, side)
	if _, busy := g.active[key]; busy {
		return nil, reject(CodeDuplicate, "%s %s already in progress", ticker, side)
	}

	g.active[key] = struct{}{}
	metrics.ActiveTrades.Set(float64(len(g.active)))
	return &Reservation{Key: key}, nil
}

// Hold резервирует ключ без проверок политики: сделки, пережившие рестарт.
func (g *Gatekeeper) Hold(ticker string, side models.Side) *Reservation {
	key := models.TradeKey(ticker, side)
	g.mu.Lock()
	g.active[key] = struct{}{}
	n := len(g.active)
	g.mu.Unlock()
	metrics.ActiveTrades.Set(float64(n))
	return &Reservation{Key: key}
}

func (g *Gatekeeper) Release(r *Reservation) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		g.mu.Lock()
		delete(g.active, r.Key)
		n := len(g.active)
		g.mu.Unlock()
		metrics.ActiveTrades.Set(float64(n))
	})
}

// RecordPnL добавляет реализованный PnL закрытой сделки в дневной счётчик.
func (g *Gatekeeper) RecordPnL(usd float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDailyResetLocked()
	g.dailyPnL += usd
}

// SeedDailyPnL — стартовое значение из леджера (сумма закрытых сегодня).
func (g *Gatekeeper) SeedDailyPnL(usd float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDate = g.now().Format(time.DateOnly)
	g.dailyPnL = usd
}

func (g *Gatekeeper) DailyPnL() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkDailyResetLocked()
	return g.dailyPnL
}

func (g *Gatekeeper) ActiveKeys() []string {
	g.mu.Lock()
	keys := make([]string, 0, len(g.active))
	for k := range g.active {
		keys = append(keys, k)
	}
	g.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func (g *Gatekeeper) checkDailyResetLocked() {
	today := g.now().Format(time.DateOnly)
	if today != g.resetDate {
		g.dailyPnL = 0
		g.resetDate = today
	}
}
