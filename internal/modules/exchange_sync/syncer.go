package exchange_sync

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"signal_trader/internal/exchange"
	"signal_trader/internal/helper"
	"signal_trader/internal/metrics"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/ledger"
	"signal_trader/pkg/logger"
	"signal_trader/pkg/tracing"
)

const lastRunKey = "last_sync_run"

var ErrRunning = errors.New("exchange sync already running")

type Config struct {
	Cooldown        time.Duration
	DefaultLookback time.Duration
}

type Options struct {
	Exchange string // пусто => все зарегистрированные
	Force    bool   // мимо cooldown
}

// PnLRecorder — дневной счётчик, куда идут импортированные сегодняшние закрытия.
type PnLRecorder interface {
	RecordPnL(usd float64)
}

// Syncer импортирует сделки с биржи, которых нет в леджере. Ключ — id ордера биржи.
type Syncer struct {
	store     *ledger.Store
	exchanges *exchange.Registry
	pnl       PnLRecorder
	cfg       Config
	now       func() time.Time

	running sync.Mutex
}

func New(store *ledger.Store, exchanges *exchange.Registry, pnl PnLRecorder, cfg Config) *Syncer {
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = 7 * 24 * time.Hour
	}
	return &Syncer{store: store, exchanges: exchanges, pnl: pnl, cfg: cfg, now: time.Now}
}

// Run — один проход. Возвращает число новых строк; ошибки рынков собираются вместе.
func (s *Syncer) Run(ctx context.Context, opts Options) (int, error) {
	if !s.running.TryLock() {
		return 0, ErrRunning
	}
	defer s.running.Unlock()

	span, ctx := tracing.StartSpan(ctx, "exchange_sync.run", map[string]any{"exchange": opts.Exchange, "force": opts.Force})
	defer span.Finish()

	if !opts.Force && s.cfg.Cooldown > 0 {
		raw, ok, err := s.store.GetSyncState(ctx, lastRunKey)
		if err != nil {
			return 0, err
		}
		if ok {
			if last, err := parseMs(raw); err == nil {
				if left := s.cfg.Cooldown - s.now().Sub(last); left > 0 {
					logger.Debug("[SYNC] skipped, cooldown %s left", left.Round(time.Second))
					return 0, nil
				}
			}
		}
	}
	if err := s.store.SetSyncState(ctx, lastRunKey, formatMs(s.now())); err != nil {
		return 0, err
	}

	var (
		total int
		errs  error
	)
	for _, ad := range s.exchanges.All() {
		if opts.Exchange != "" && !strings.EqualFold(opts.Exchange, ad.Name()) {
			continue
		}
		n, err := s.syncMarket(ctx, ad)
		total += n
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "%s/%s", ad.Name(), ad.Market()))
		}
	}
	if errs != nil {
		tracing.MarkError(span, errs)
		logger.Warn("[SYNC] finished with errors: %v", errs)
	}
	return total, errs
}

func cursorKey(ad exchange.Adapter) string {
	return "last_sync_" + ad.Name() + "_" + string(ad.Market())
}

// syncMarket — курсор двигается только если все символы рынка прочитаны.
func (s *Syncer) syncMarket(ctx context.Context, ad exchange.Adapter) (int, error) {
	started := s.now()
	since := started.Add(-s.cfg.DefaultLookback)
	raw, ok, err := s.store.GetSyncState(ctx, cursorKey(ad))
	if err != nil {
		return 0, err
	}
	if ok {
		if ts, err := parseMs(raw); err == nil {
			since = ts
		}
	}

	symbols, err := ad.DiscoverSymbols(ctx, since)
	if err != nil {
		return 0, errors.Wrap(err, "discover symbols")
	}
	known, err := s.store.KnownExchangeOrderIDs(ctx, ad.Name())
	if err != nil {
		return 0, err
	}

	var (
		inserted int
		errs     error
	)
	for _, sym := range symbols {
		fills, err := ad.FetchMyTrades(ctx, sym, since)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "fetch fills %s", sym))
			continue
		}
		for _, of := range groupByOrder(fills) {
			if known[of.OrderID] {
				continue
			}
			t := s.toTrade(ad, of)
			ok, err := s.store.InsertSyncedTrade(ctx, &t)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			known[of.OrderID] = true
			if !ok {
				continue
			}
			inserted++
			metrics.SyncInserted.WithLabelValues(ad.Name()).Inc()
			if t.PnLUSDT != nil && sameDay(t.CreatedAt, s.now()) {
				s.pnl.RecordPnL(*t.PnLUSDT)
			}
			pnl := "n/a"
			if t.PnLUSDT != nil {
				pnl = helper.FormatNum(*t.PnLUSDT)
			}
			logger.Info("[SYNC] %s %s %s @ %s (PnL: %s) [%s/%s]", t.Ticker, t.Side,
				helper.FormatNum(t.Qty), helper.FormatNum(of.AvgPrice), pnl, ad.Name(), ad.Market())
		}
	}
	if errs != nil {
		return inserted, errs
	}

	if err = s.store.SetSyncState(ctx, cursorKey(ad), formatMs(started)); err != nil {
		return inserted, err
	}
	if len(symbols) > 0 {
		logger.Info("[SYNC] %s %s: %d new trades from %d symbols", ad.Name(), ad.Market(), inserted, len(symbols))
	}
	return inserted, nil
}

// toTrade: buy => LONG, sell => SHORT; PnL только если биржа его отдала.
func (s *Syncer) toTrade(ad exchange.Adapter, of orderFill) models.Trade {
	side := models.SideLong
	if strings.EqualFold(of.Side, "sell") {
		side = models.SideShort
	}
	at := of.Time
	if at.IsZero() {
		at = s.now()
	}
	avg := of.AvgPrice
	qty := of.Qty
	t := models.Trade{
		Ticker:       of.Ticker,
		Side:         side,
		EntryPrice:   avg,
		Qty:          qty,
		AmountUSDT:   helper.RoundPlaces(of.Cost, 2),
		Exchange:     ad.Name(),
		MarketType:   ad.Market(),
		Leverage:     1,
		Source:       models.SourceExchange,
		Status:       models.StatusClosed,
		Result:       models.ResultExchangeSync,
		FilledPrice:  &avg,
		FilledQty:    &qty,
		EntryOrderID: of.OrderID,
		CreatedAt:    at,
		FilledAt:     &at,
		ClosedAt:     &at,
	}
	if math.Abs(of.RealizedPnL) > 0.001 {
		usd := helper.RoundPlaces(of.RealizedPnL, 2)
		t.PnLUSDT = &usd
		t.ExitPrice = &avg
		if of.Cost > 0 {
			pct := helper.RoundPlaces(of.RealizedPnL/of.Cost*100, 2)
			t.PnLPct = &pct
		}
	}
	return t
}

func sameDay(a, b time.Time) bool {
	a, b = a.Local(), b.Local()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func formatMs(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func parseMs(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
