package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/metrics"
)

const (
	exchangeName = "binance"
	quoteAsset   = "USDT"

	errMarginTypeNoChange int64 = -4046
	errUnknownOrder       int64 = -2013
	errCancelRejected     int64 = -2011
)

// Symbol — "BTC" -> "BTCUSDT".
func Symbol(ticker string) string {
	return strings.ToUpper(ticker) + quoteAsset
}

// Ticker — обратное к Symbol.
func Ticker(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), quoteAsset)
}

type filters struct {
	step float64
	tick float64
}

// filterCache — stepSize/tickSize из exchangeInfo, грузятся лениво по символу.
type filterCache struct {
	mu   sync.RWMutex
	data map[string]filters
	load func(ctx context.Context, symbol string) (filters, error)
}

func newFilterCache(load func(ctx context.Context, symbol string) (filters, error)) *filterCache {
	return &filterCache{data: make(map[string]filters), load: load}
}

func (c *filterCache) get(ctx context.Context, symbol string) (filters, error) {
	c.mu.RLock()
	f, ok := c.data[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}
	f, err := c.load(ctx, symbol)
	if err != nil {
		return filters{}, err
	}
	c.mu.Lock()
	c.data[symbol] = f
	c.mu.Unlock()
	return f, nil
}

// base — общее для spot и futures: лимитер, кэш фильтров, учёт ошибок.
type base struct {
	market  string
	limiter *rate.Limiter
	filters *filterCache
}

func newBase(market string, rps float64) base {
	if rps <= 0 {
		rps = 10
	}
	return base{market: market, limiter: rate.NewLimiter(rate.Limit(rps), int(rps))}
}

func (b *base) wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

func (b *base) fail(op string, err error) error {
	metrics.ExchangeErrors.WithLabelValues(exchangeName, op).Inc()
	return errors.Wrapf(err, "binance %s %s", b.market, op)
}

func (b *base) amountToPrecision(ctx context.Context, ticker string, qty float64) (float64, error) {
	f, err := b.filters.get(ctx, Symbol(ticker))
	if err != nil {
		return 0, err
	}
	if f.step <= 0 {
		return qty, nil
	}
	return helper.RoundDownToStep(qty, f.step), nil
}

// priceToPrecision — цена триггера к шагу цены; для продажи вниз, для покупки вверх.
func (b *base) priceToPrecision(ctx context.Context, ticker string, px float64, up bool) (string, error) {
	f, err := b.filters.get(ctx, Symbol(ticker))
	if err != nil {
		return "", err
	}
	if f.tick > 0 {
		if up {
			px = helper.RoundUpToTick(px, f.tick)
		} else {
			px = helper.RoundDownToTick(px, f.tick)
		}
	}
	return helper.FormatNum(px), nil
}

func clientOrderID(kind exchange.OrderKind) string {
	return fmt.Sprintf("st%s%s", kind, strings.ReplaceAll(uuid.NewString(), "-", "")[:20])
}

func apiCode(err error) (int64, bool) {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}

func isOrderGone(err error) bool {
	code, ok := apiCode(err)
	return ok && (code == errUnknownOrder || code == errCancelRejected)
}
