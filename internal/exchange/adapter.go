package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signal_trader/internal/models"
)

var (
	ErrNotSupported    = errors.New("operation not supported by this market")
	ErrUnknownExchange = errors.New("unknown exchange")
	ErrOrderNotFound   = errors.New("order not found")
	ErrSymbolNotFound  = errors.New("symbol not found")
)

func UnknownSymbol(symbol string) error {
	return fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}

type OrderKind string

const (
	KindEntry OrderKind = "entry"
	KindSL    OrderKind = "sl"
	KindTP    OrderKind = "tp"
	KindClose OrderKind = "close"
)

// Trigger — SL/TP живут отдельными условными ордерами (у некоторых бирж другой endpoint).
func (k OrderKind) Trigger() bool { return k == KindSL || k == KindTP }

type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderClosed   OrderStatus = "closed"
	OrderCanceled OrderStatus = "canceled"
)

type Order struct {
	ID           string
	ClientID     string
	Symbol       string
	Kind         OrderKind
	Side         string // buy | sell
	Status       OrderStatus
	Price        float64
	TriggerPrice float64
	Average      float64
	Amount       float64
	Filled       float64
	FillOrderID  string // ордер, фактически исполнивший trigger (OKX algo -> ordId)
}

// FillPrice — средняя цена исполнения, иначе цена ордера, иначе fallback.
func (o *Order) FillPrice(fallback float64) float64 {
	switch {
	case o == nil:
		return fallback
	case o.Average > 0:
		return o.Average
	case o.Price > 0:
		return o.Price
	}
	return fallback
}

type EntryRequest struct {
	Ticker string
	Side   models.Side
	Qty    float64
	Price  float64 // 0 => market
}

type ExitRequest struct {
	Ticker       string
	Side         models.Side // сторона позиции, закрывающая сторона выводится
	Kind         OrderKind
	Qty          float64
	TriggerPrice float64
}

type Position struct {
	Symbol     string
	Side       models.Side
	Qty        float64 // в базовой монете, всегда > 0
	EntryPrice float64
	Leverage   int
}

type Balance struct {
	Asset string
	Free  float64
	Total float64
}

// Fill — одна сделка из истории аккаунта.
type Fill struct {
	OrderID     string
	Ticker      string
	Side        string // buy | sell
	Price       float64
	Qty         float64
	RealizedPnL float64
	Time        time.Time
}

// Adapter — одна пара (биржа, рынок). Безопасен для конкурентного использования.
type Adapter interface {
	Name() string
	Market() models.MarketType

	LastPrice(ctx context.Context, ticker string) (float64, error)
	AmountToPrecision(ctx context.Context, ticker string, qty float64) (float64, error)

	CreateEntryOrder(ctx context.Context, req EntryRequest) (*Order, error)
	CreateExitOrder(ctx context.Context, req ExitRequest) (*Order, error)
	CloseMarket(ctx context.Context, ticker string, side models.Side, qty float64) (*Order, error)
	FetchOrder(ctx context.Context, ticker, id string, kind OrderKind) (*Order, error)
	CancelOrder(ctx context.Context, ticker, id string, kind OrderKind) error

	// FetchPositions — только деривативы; спот отдаёт ErrNotSupported.
	FetchPositions(ctx context.Context, ticker string) ([]Position, error)
	FetchBalance(ctx context.Context, asset string) (Balance, error)
	SetLeverageAndMargin(ctx context.Context, ticker string, leverage int) error
	// FetchEffectiveLeverage читает плечо, которое биржа реально выставила.
	FetchEffectiveLeverage(ctx context.Context, ticker string, fallback int) (int, error)

	DiscoverSymbols(ctx context.Context, since time.Time) ([]string, error)
	FetchMyTrades(ctx context.Context, ticker string, since time.Time) ([]Fill, error)
}

// Tick — последняя цена тикера из ws.
type Tick struct {
	Ticker string
	Price  float64
}

// PriceStreamer — опционально: адаптер умеет публичный ws-поток цен.
type PriceStreamer interface {
	StreamURL(tickers []string) string
	SubscribeMessages(tickers []string) [][]byte
	ParseTick(msg []byte) ([]Tick, bool)
}

// Pinger — поток требует прикладной ping текстом вместо ws control frame.
type Pinger interface {
	PingMessage() []byte
}
