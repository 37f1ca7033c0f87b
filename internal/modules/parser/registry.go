package parser

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"signal_trader/internal/models"
	"signal_trader/pkg/logger"
)

// Entry — формат канала вместе с его скомпилированным шаблоном.
type Entry struct {
	Format   models.ChannelFormat
	Template *Template
}

// Match — шаблон канала плюс его переопределения (биржа, сумма, имя).
func (e *Entry) Match(text string) (*models.Signal, bool) {
	s, ok := e.Template.Parse(text, e.Format.DefaultSide)
	if !ok {
		return nil, false
	}
	s.Exchange = e.Format.Exchange
	s.Channel = e.Format.ChannelName
	if s.Channel == "" {
		s.Channel = e.Format.ChannelID
	}
	if e.Format.TradeAmount > 0 {
		s.TradeAmount = e.Format.TradeAmount
	}
	return s, true
}

// Noise — сообщение содержит одно из стоп-слов канала.
func (e *Entry) Noise(text string) bool {
	for _, kw := range e.Format.NoiseKeywords() {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Registry — скомпилированные форматы по channel_id.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Entry
	ordered []*Entry
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Entry)}
}

// Reload пересобирает реестр из включённых форматов. Битые шаблоны пропускаются,
// ошибки возвращаются одной пачкой.
func (r *Registry) Reload(formats []models.ChannelFormat) error {
	byID := make(map[string]*Entry, len(formats))
	ordered := make([]*Entry, 0, len(formats))
	var errs error

	for _, f := range formats {
		if !f.Enabled {
			continue
		}
		t, err := Compile(f.Template)
		if err != nil {
			errs = multierr.Append(errs, err)
			logger.Warn("channel format %d (%s) skipped: %v", f.ID, f.ChannelID, err)
			continue
		}
		e := &Entry{Format: f, Template: t}
		byID[f.ChannelID] = e
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Format.ID < ordered[j].Format.ID })

	r.mu.Lock()
	r.byID, r.ordered = byID, ordered
	r.mu.Unlock()
	return errs
}

// Lookup ищет по channel_id, затем по имени канала.
func (r *Registry) Lookup(channel string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byID[channel]; ok {
		return e, true
	}
	for _, e := range r.ordered {
		if e.Format.ChannelName != "" && e.Format.ChannelName == channel {
			return e, true
		}
	}
	return nil, false
}

func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Entry(nil), r.ordered...)
}
