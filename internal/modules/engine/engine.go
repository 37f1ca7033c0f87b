package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/metrics"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/ledger"
	"signal_trader/internal/modules/parser"
	"signal_trader/internal/modules/risk"
	"signal_trader/internal/notify"
	"signal_trader/pkg/logger"
)

const defaultExchange = "binance"

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeUnparsed = "unparsed"
	OutcomeFiltered = "filtered"
	OutcomeIgnored  = "ignored"
)

const (
	CodeUnsupported      = "unsupported"
	CodePriceUnavailable = "price_unavailable"
)

type Options struct {
	FillPollInterval time.Duration
	MonitorInterval  time.Duration
	TakeProfitTarget string
	// SourceChannels — каналы без формата, которые разбираются шаблоном по умолчанию.
	// Пусто => любой канал без формата.
	SourceChannels []string
}

// SimulateResult — что движок сделал с сообщением.
type SimulateResult struct {
	Status      string            `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	Code        string            `json:"code,omitempty"`
	Template    string            `json:"template_used,omitempty"`
	Signal      *models.Signal    `json:"signal,omitempty"`
	Market      models.MarketType `json:"market,omitempty"`
	TradeAmount float64           `json:"trade_amount,omitempty"`
}

// Engine — от сообщения до закрытой сделки. Каждая принятая сделка ведётся своей горутиной.
type Engine struct {
	store     *ledger.Store
	gate      *risk.Gatekeeper
	settings  *risk.SettingsStore
	exchanges *exchange.Registry
	formats   *parser.Registry
	notifier  notify.Notifier
	recon     *Reconciler
	opts      Options
	sources   map[string]bool
	now       func() time.Time

	syncMu      sync.RWMutex
	syncTrigger func()

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	store *ledger.Store,
	gate *risk.Gatekeeper,
	settings *risk.SettingsStore,
	exchanges *exchange.Registry,
	formats *parser.Registry,
	notifier notify.Notifier,
	recon *Reconciler,
	opts Options,
) *Engine {
	if opts.FillPollInterval <= 0 {
		opts.FillPollInterval = 5 * time.Second
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = 10 * time.Second
	}
	sources := make(map[string]bool, len(opts.SourceChannels))
	for _, c := range opts.SourceChannels {
		if c = strings.TrimSpace(c); c != "" {
			sources[c] = true
		}
	}
	root, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     store,
		gate:      gate,
		settings:  settings,
		exchanges: exchanges,
		formats:   formats,
		notifier:  notifier,
		recon:     recon,
		opts:      opts,
		sources:   sources,
		now:       time.Now,
		root:      root,
		cancel:    cancel,
	}
}

// SetSyncTrigger — колбэк фоновой синхронизации после каждого принятого сигнала.
func (e *Engine) SetSyncTrigger(fn func()) {
	e.syncMu.Lock()
	e.syncTrigger = fn
	e.syncMu.Unlock()
}

func (e *Engine) triggerSync() {
	e.syncMu.RLock()
	fn := e.syncTrigger
	e.syncMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Start загружает форматы и подхватывает сделки, пережившие рестарт.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.ReloadFormats(ctx); err != nil {
		logger.Warn("engine: some channel formats failed to compile: %v", err)
	}
	return e.resume(ctx)
}

// Stop останавливает все циклы сделок; незавершённые подхватятся при следующем старте.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) ReloadFormats(ctx context.Context) error {
	formats, err := e.store.ListChannelFormats(ctx)
	if err != nil {
		return err
	}
	err = e.formats.Reload(formats)
	logger.Info("engine: %d channel format(s) active", len(e.formats.All()))
	return err
}

func (e *Engine) ActiveKeys() []string { return e.gate.ActiveKeys() }

func (e *Engine) Stats(ctx context.Context, period models.Period, channel string) (models.Stats, error) {
	st, err := e.store.Stats(ctx, period, channel)
	if err != nil {
		return st, err
	}
	st.ActiveTrades = e.gate.ActiveKeys()
	st.DailyPnL = helper.RoundPlaces(e.gate.DailyPnL(), 2)
	return st, nil
}

// HandleMessage — живое сообщение из канала-источника.
func (e *Engine) HandleMessage(ctx context.Context, msg models.SourceMessage) {
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	res := e.process(ctx, msg, false)
	logger.Debug("engine: message from %s -> %s %s", channelLabel(msg), res.Status, res.Reason)
}

// Simulate прогоняет текст тем же путём, что и живое сообщение; сделка исполняется по-настоящему.
func (e *Engine) Simulate(ctx context.Context, text, channelID string) (SimulateResult, error) {
	if strings.TrimSpace(text) == "" {
		return SimulateResult{}, errors.New("message text is required")
	}
	return e.process(ctx, models.SourceMessage{ChannelID: channelID, ChannelName: channelID, Text: text}, true), nil
}

func channelLabel(msg models.SourceMessage) string {
	if msg.ChannelName != "" {
		return msg.ChannelName
	}
	return msg.ChannelID
}

type matched struct {
	signal   *models.Signal
	template string
	status   string
	reason   string
	tag      string
	preview  string
}

// match: формат канала, затем (для симуляции) любой формат, затем шаблон по умолчанию.
func (e *Engine) match(msg models.SourceMessage, simulate bool) matched {
	entry, ok := e.formats.Lookup(msg.ChannelID)
	if !ok && msg.ChannelName != "" {
		entry, ok = e.formats.Lookup(msg.ChannelName)
	}
	if ok {
		if entry.Noise(msg.Text) {
			return matched{status: OutcomeFiltered, reason: "noise filter"}
		}
		if s, hit := entry.Match(msg.Text); hit {
			return matched{signal: s, template: entry.Format.ChannelName}
		}
	}
	if simulate {
		for _, en := range e.formats.All() {
			if s, hit := en.Match(msg.Text); hit {
				return matched{signal: s, template: en.Format.ChannelName}
			}
		}
	}
	if !ok && !simulate && len(e.sources) > 0 && !e.sources[msg.ChannelID] && !e.sources[msg.ChannelName] {
		return matched{status: OutcomeIgnored, reason: "channel is not a signal source"}
	}
	if s, hit := parser.Parse(msg.Text); hit {
		if ok {
			s.Exchange = entry.Format.Exchange
			s.Channel = entry.Format.ChannelName
			if entry.Format.TradeAmount > 0 {
				s.TradeAmount = entry.Format.TradeAmount
			}
		} else {
			s.Channel = channelLabel(msg)
		}
		return matched{signal: s, template: "default"}
	}

	m := matched{status: OutcomeUnparsed, reason: "no template matched this message"}
	if ok {
		m.tag = helper.MakeTag(entry.Format.ChannelName, entry.Format.Exchange)
	} else {
		m.tag = helper.MakeTag(channelLabel(msg), "")
	}
	preview := []rune(strings.ReplaceAll(msg.Text, "\n", " "))
	if len(preview) > 80 {
		preview = append(preview[:80], '…')
	}
	m.preview = string(preview)
	return m
}

func (e *Engine) process(ctx context.Context, msg models.SourceMessage, simulate bool) SimulateResult {
	m := e.match(msg, simulate)
	if m.signal == nil {
		metrics.SignalsTotal.WithLabelValues(m.status).Inc()
		if m.status == OutcomeUnparsed {
			logger.Info("engine: non-signal message ignored: %s", m.preview)
			if !simulate {
				e.notifier.Sendf("%s💬 message received (not a signal, ignored)\n\n\"%s\"", m.tag, m.preview)
			}
		}
		return SimulateResult{Status: m.status, Reason: m.reason}
	}
	s, used := m.signal, m.template

	if s.Exchange == "" {
		s.Exchange = defaultExchange
	}
	s.Exchange = strings.ToLower(s.Exchange)
	tag := helper.MakeTag(s.Channel, s.Exchange)

	rejected := func(code, format string, args ...any) SimulateResult {
		r := SimulateResult{Status: OutcomeRejected, Code: code, Template: used, Signal: s}
		r.Reason = fmt.Sprintf(format, args...)
		metrics.SignalsTotal.WithLabelValues(OutcomeRejected).Inc()
		logger.Info("engine: %s %s rejected: %s", s.Ticker, s.Side, r.Reason)
		if !simulate {
			e.notifier.Sendf("%s⛔ %s %s: %s", tag, s.Ticker, s.Side, r.Reason)
		}
		return r
	}

	if s.Entry <= 0 {
		s.MarketOrder = true
		ad, err := e.exchanges.Default(s.Exchange)
		if err != nil {
			return rejected(CodeUnsupported, "%v", err)
		}
		px, err := ad.LastPrice(ctx, s.Ticker)
		if err != nil {
			return rejected(CodePriceUnavailable, "failed to fetch price for %s: %v", s.Ticker, err)
		}
		s.Entry = px
		logger.Info("engine: no entry in signal, using market price %s", helper.FormatNum(px))
	}
	parser.FillDefaults(s)

	requested := s.EffectiveLeverage()
	s.Leverage = e.gate.CapLeverage(requested)
	if s.Leverage != requested {
		logger.Info("engine: leverage capped %dx -> %dx (MAX_LEVERAGE)", requested, s.Leverage)
	}

	ad, err := e.exchanges.ForSignal(s.Exchange, s.Side, s.Leverage)
	if err != nil {
		return rejected(CodeUnsupported, "%v", err)
	}

	reservation, err := e.gate.Admit(s.Ticker, s.Side)
	if err != nil {
		var re *risk.RejectError
		if errors.As(err, &re) {
			return rejected(re.Code, "%s", re.Message)
		}
		return rejected(CodeUnsupported, "%v", err)
	}

	st := e.settings.Snapshot()
	amount := st.TradeAmount
	if s.TradeAmount > 0 {
		amount = s.TradeAmount
	}
	timeout := time.Duration(st.EntryTimeout) * time.Second

	logger.Info("engine: signal #%s %s accepted (%s/%s, template %s)", s.Ticker, s.Side, s.Exchange, ad.Market(), used)
	metrics.SignalsTotal.WithLabelValues(OutcomeAccepted).Inc()

	sig := *s
	e.wg.Add(1)
	go e.execute(reservation, ad, sig, amount, timeout)
	e.triggerSync()

	return SimulateResult{
		Status:      OutcomeAccepted,
		Template:    used,
		Signal:      s,
		Market:      ad.Market(),
		TradeAmount: amount,
	}
}

// resume подхватывает pending/open сделки из леджера.
func (e *Engine) resume(ctx context.Context) error {
	trades, err := e.store.ActiveTrades(ctx)
	if err != nil {
		return errors.Wrap(err, "load active trades")
	}
	timeout := time.Duration(e.settings.Snapshot().EntryTimeout) * time.Second
	for _, t := range trades {
		if t.Source == models.SourceExchange {
			continue
		}
		ad, err := e.exchanges.Get(t.Exchange, t.MarketType)
		if err != nil {
			logger.Warn("engine: trade %d (%s %s) not resumed: %v", t.ID, t.Ticker, t.Side, err)
			continue
		}
		reservation := e.gate.Hold(t.Ticker, t.Side)
		logger.Info("engine: resuming trade %d %s %s (%s)", t.ID, t.Ticker, t.Side, t.Status)
		e.wg.Add(1)
		go func(t models.Trade) {
			defer e.wg.Done()
			defer e.gate.Release(reservation)
			e.drive(e.root, ad, t, timeout)
		}(t)
	}
	return nil
}
