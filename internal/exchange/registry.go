package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"signal_trader/internal/models"
)

type key struct {
	name   string
	market models.MarketType
}

// Registry — долгоживущие адаптеры по (биржа, рынок).
type Registry struct {
	mu         sync.RWMutex
	adapters   map[key]Adapter
	longMarket map[string]models.MarketType
}

func NewRegistry() *Registry {
	return &Registry{
		adapters:   make(map[key]Adapter),
		longMarket: make(map[string]models.MarketType),
	}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[key{strings.ToLower(a.Name()), a.Market()}] = a
	r.mu.Unlock()
}

// SetLongMarket — где исполнять LONG без плеча (binance: spot, okx: futures).
func (r *Registry) SetLongMarket(exchange string, m models.MarketType) {
	r.mu.Lock()
	r.longMarket[strings.ToLower(exchange)] = m
	r.mu.Unlock()
}

func (r *Registry) Get(exchange string, market models.MarketType) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[key{strings.ToLower(exchange), market}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownExchange, exchange, market)
	}
	return a, nil
}

// MarketFor — SHORT и LONG с плечом > 1 идут в деривативы, иначе политика биржи.
func (r *Registry) MarketFor(exchange string, side models.Side, leverage int) models.MarketType {
	if side == models.SideShort || leverage > 1 {
		return models.MarketFutures
	}
	r.mu.RLock()
	m, ok := r.longMarket[strings.ToLower(exchange)]
	r.mu.RUnlock()
	if !ok {
		return models.MarketSpot
	}
	return m
}

func (r *Registry) ForSignal(exchange string, side models.Side, leverage int) (Adapter, error) {
	return r.Get(exchange, r.MarketFor(exchange, side, leverage))
}

// Default — адаптер для запросов цены без привязки к рынку (spot, затем futures).
func (r *Registry) Default(exchange string) (Adapter, error) {
	if a, err := r.Get(exchange, models.MarketSpot); err == nil {
		return a, nil
	}
	return r.Get(exchange, models.MarketFutures)
}

func (r *Registry) All() []Adapter {
	r.mu.RLock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].Market() < out[j].Market()
	})
	return out
}

// Names — уникальные имена зарегистрированных бирж.
func (r *Registry) Names() []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range r.All() {
		if !seen[a.Name()] {
			seen[a.Name()] = true
			out = append(out, a.Name())
		}
	}
	return out
}
