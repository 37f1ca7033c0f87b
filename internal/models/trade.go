package models

import "time"

type TradeStatus string

const (
	StatusPending   TradeStatus = "pending"
	StatusOpen      TradeStatus = "open"
	StatusClosed    TradeStatus = "closed"
	StatusTimeout   TradeStatus = "timeout"
	StatusCancelled TradeStatus = "cancelled"
	StatusError     TradeStatus = "error"
)

func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusClosed, StatusTimeout, StatusCancelled, StatusError:
		return true
	}
	return false
}

const (
	ResultTPHit        = "tp_hit"
	ResultSLHit        = "sl_hit"
	ResultExternal     = "external"
	ResultSLTPFailed   = "sl_tp_failed"
	ResultTimeout      = "timeout"
	ResultCancelled    = "cancelled"
	ResultExchangeSync = "exchange_sync"
)

const (
	SourceSignal   = "signal"
	SourceExchange = "exchange"
)

type Trade struct {
	ID int64 `json:"id"`

	Ticker     string     `json:"ticker"`
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	Qty        float64    `json:"qty"`
	AmountUSDT float64    `json:"amount_usdt"`
	TP1        float64    `json:"tp1"`
	TP2        float64    `json:"tp2"`
	TP3        float64    `json:"tp3"`
	TP4        float64    `json:"tp4"`
	SLInitial  float64    `json:"sl_initial"`
	Channel    string     `json:"channel"`
	Exchange   string     `json:"exchange"`
	MarketType MarketType `json:"market_type"`
	Leverage   int        `json:"leverage"`
	Source     string     `json:"source"`

	Status       TradeStatus `json:"status"`
	SL           float64     `json:"sl"`
	FilledPrice  *float64    `json:"filled_price"`
	FilledQty    *float64    `json:"filled_qty"`
	RemainingQty *float64    `json:"remaining_qty"`
	ExitPrice    *float64    `json:"exit_price"`
	Result       string      `json:"result"`
	PnLUSDT      *float64    `json:"pnl_usdt"`
	PnLPct       *float64    `json:"pnl_pct"`
	TP1Hit       bool        `json:"tp1_hit"`
	SLMoved      bool        `json:"sl_moved"`

	EntryOrderID string `json:"exchange_order_id"`
	SLOrderID    string `json:"sl_order_id"`
	TPOrderID    string `json:"tp_order_id"`
	CloseOrderID string `json:"close_order_id"`

	CreatedAt time.Time  `json:"created_at"`
	FilledAt  *time.Time `json:"filled_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}

func (t Trade) Key() string { return TradeKey(t.Ticker, t.Side) }

// EntryFill — фактическая цена входа, иначе запрошенная.
func (t Trade) EntryFill() float64 {
	if t.FilledPrice != nil && *t.FilledPrice > 0 {
		return *t.FilledPrice
	}
	return t.EntryPrice
}

// OpenQty — объём, который сейчас под защитой SL/TP.
func (t Trade) OpenQty() float64 {
	if t.RemainingQty != nil && *t.RemainingQty > 0 {
		return *t.RemainingQty
	}
	if t.FilledQty != nil && *t.FilledQty > 0 {
		return *t.FilledQty
	}
	return t.Qty
}

// TradePatch — частичное обновление строки; nil-поля не трогаются.
type TradePatch struct {
	Status       *TradeStatus
	SL           *float64
	FilledPrice  *float64
	FilledQty    *float64
	RemainingQty *float64
	ExitPrice    *float64
	Result       *string
	PnLUSDT      *float64
	PnLPct       *float64
	TP1Hit       *bool
	SLMoved      *bool
	EntryOrderID *string
	SLOrderID    *string
	TPOrderID    *string
	CloseOrderID *string
	FilledAt     *time.Time
	ClosedAt     *time.Time
}

type TradeFilter struct {
	Status  string
	Channel string
	Limit   int
}

type Period string

const (
	PeriodToday    Period = "today"
	PeriodWeek     Period = "week"
	PeriodMonth    Period = "month"
	PeriodLifetime Period = "lifetime"
)

// Since — начало периода в локальном времени; нулевое время для lifetime.
func (p Period) Since(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch p {
	case PeriodToday:
		return day
	case PeriodWeek:
		return day.AddDate(0, 0, -7)
	case PeriodMonth:
		return day.AddDate(0, -1, 0)
	}
	return time.Time{}
}

type Stats struct {
	TotalTrades  int64    `json:"total_trades"`
	ClosedTrades int64    `json:"closed_trades"`
	Wins         int64    `json:"wins"`
	WinRate      float64  `json:"win_rate"`
	TotalPnL     float64  `json:"total_pnl"`
	TodayPnL     float64  `json:"today_pnl"`
	TodayCount   int64    `json:"today_count"`
	OpenCount    int64    `json:"open_count"`
	ActiveTrades []string `json:"active_trades,omitempty"`
	DailyPnL     float64  `json:"daily_realized_pnl"`
}

type ChannelStats struct {
	Channel  string  `json:"channel"`
	Trades   int64   `json:"trades"`
	Closed   int64   `json:"closed"`
	Wins     int64   `json:"wins"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
	AvgPnL   float64 `json:"avg_pnl_pct"`
}
