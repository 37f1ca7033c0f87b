package risk

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"signal_trader/internal/models"
	"signal_trader/pkg/logger"
)

const (
	KeyTradeAmount    = "TRADE_AMOUNT"
	KeySellBlocked    = "SELL_BLOCKED"
	KeyTradeBlocked   = "TRADE_BLOCKED"
	KeyMaxConcurrent  = "MAX_CONCURRENT"
	KeyDailyLossLimit = "DAILY_LOSS_LIMIT"
	KeyEntryTimeout   = "ENTRY_TIMEOUT"
	KeyMaxLeverage    = "MAX_LEVERAGE"
)

var ErrInvalidSettings = errors.New("invalid settings")

type SettingsRepo interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSettings(ctx context.Context, kv map[string]string) error
}

// SettingsStore держит текущий снапшот настроек и пишет изменения в репозиторий.
type SettingsStore struct {
	repo     SettingsRepo
	defaults models.Settings

	// writeMu сериализует чтение-проверку-запись-применение целиком
	writeMu sync.Mutex

	mu  sync.RWMutex
	cur models.Settings
}

func NewSettingsStore(repo SettingsRepo, defaults models.Settings) *SettingsStore {
	return &SettingsStore{repo: repo, defaults: defaults.Clone(), cur: defaults.Clone()}
}

// Load читает настройки; пустая таблица засевается дефолтами.
func (s *SettingsStore) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	kv, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return err
	}
	if len(kv) == 0 {
		if err = s.repo.SaveSettings(ctx, encode(s.defaults)); err != nil {
			return errors.Wrap(err, "seed settings")
		}
		s.set(s.defaults.Clone())
		logger.Info("settings seeded with defaults")
		return nil
	}
	s.set(decode(kv, s.defaults))
	return nil
}

func (s *SettingsStore) Reload(ctx context.Context) error { return s.Load(ctx) }

func (s *SettingsStore) Snapshot() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Clone()
}

// Update валидирует все переданные ключи и применяет их только целиком.
func (s *SettingsStore) Update(ctx context.Context, data map[string]any) (models.Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Snapshot()
	changed := make(map[string]string)

	for key, raw := range data {
		switch strings.ToUpper(key) {
		case KeyTradeAmount:
			v, err := cast.ToFloat64E(raw)
			if err != nil || v <= 0 {
				return s.Snapshot(), errors.Wrap(ErrInvalidSettings, "TRADE_AMOUNT must be > 0")
			}
			next.TradeAmount = v
			changed[KeyTradeAmount] = formatFloat(v)
		case KeySellBlocked:
			set := models.ParseTickerSet(cast.ToString(raw))
			next.SellBlocked = set
			changed[KeySellBlocked] = models.JoinTickerSet(set)
		case KeyTradeBlocked:
			set := models.ParseTickerSet(cast.ToString(raw))
			next.TradeBlocked = set
			changed[KeyTradeBlocked] = models.JoinTickerSet(set)
		case KeyMaxConcurrent:
			v, err := cast.ToIntE(raw)
			if err != nil || v < 1 {
				return s.Snapshot(), errors.Wrap(ErrInvalidSettings, "MAX_CONCURRENT must be >= 1")
			}
			next.MaxConcurrent = v
			changed[KeyMaxConcurrent] = strconv.Itoa(v)
		case KeyDailyLossLimit:
			v, err := cast.ToFloat64E(raw)
			if err != nil || v <= 0 {
				return s.Snapshot(), errors.Wrap(ErrInvalidSettings, "DAILY_LOSS_LIMIT must be > 0")
			}
			next.DailyLossLimit = v
			changed[KeyDailyLossLimit] = formatFloat(v)
		case KeyEntryTimeout:
			v, err := cast.ToIntE(raw)
			if err != nil || v < 10 {
				return s.Snapshot(), errors.Wrap(ErrInvalidSettings, "ENTRY_TIMEOUT must be >= 10")
			}
			next.EntryTimeout = v
			changed[KeyEntryTimeout] = strconv.Itoa(v)
		case KeyMaxLeverage:
			v, err := cast.ToIntE(raw)
			if err != nil || v < 1 {
				return s.Snapshot(), errors.Wrap(ErrInvalidSettings, "MAX_LEVERAGE must be >= 1")
			}
			next.MaxLeverage = v
			changed[KeyMaxLeverage] = strconv.Itoa(v)
		}
	}

	if len(changed) == 0 {
		return next, nil
	}
	if err := s.repo.SaveSettings(ctx, changed); err != nil {
		return s.Snapshot(), err
	}
	s.set(next)
	logger.Info("settings updated: %v", changed)
	return next.Clone(), nil
}

// AsMap — представление для дашборда (списки тикеров строкой через запятую).
func AsMap(st models.Settings) map[string]any {
	return map[string]any{
		KeyTradeAmount:    st.TradeAmount,
		KeySellBlocked:    models.JoinTickerSet(st.SellBlocked),
		KeyTradeBlocked:   models.JoinTickerSet(st.TradeBlocked),
		KeyMaxConcurrent:  st.MaxConcurrent,
		KeyDailyLossLimit: st.DailyLossLimit,
		KeyEntryTimeout:   st.EntryTimeout,
		KeyMaxLeverage:    st.MaxLeverage,
	}
}

func (s *SettingsStore) set(st models.Settings) {
	s.mu.Lock()
	s.cur = st
	s.mu.Unlock()
}

func encode(st models.Settings) map[string]string {
	return map[string]string{
		KeyTradeAmount:    formatFloat(st.TradeAmount),
		KeySellBlocked:    models.JoinTickerSet(st.SellBlocked),
		KeyTradeBlocked:   models.JoinTickerSet(st.TradeBlocked),
		KeyMaxConcurrent:  strconv.Itoa(st.MaxConcurrent),
		KeyDailyLossLimit: formatFloat(st.DailyLossLimit),
		KeyEntryTimeout:   strconv.Itoa(st.EntryTimeout),
		KeyMaxLeverage:    strconv.Itoa(st.MaxLeverage),
	}
}

// decode — битое значение в таблице откатывается к дефолту.
func decode(kv map[string]string, def models.Settings) models.Settings {
	st := def.Clone()
	if v, ok := kv[KeyTradeAmount]; ok {
		if f, err := cast.ToFloat64E(v); err == nil && f > 0 {
			st.TradeAmount = f
		}
	}
	if v, ok := kv[KeySellBlocked]; ok {
		st.SellBlocked = models.ParseTickerSet(v)
	}
	if v, ok := kv[KeyTradeBlocked]; ok {
		st.TradeBlocked = models.ParseTickerSet(v)
	}
	if v, ok := kv[KeyMaxConcurrent]; ok {
		if n, err := cast.ToIntE(v); err == nil && n >= 1 {
			st.MaxConcurrent = n
		}
	}
	if v, ok := kv[KeyDailyLossLimit]; ok {
		if f, err := cast.ToFloat64E(v); err == nil && f > 0 {
			st.DailyLossLimit = f
		}
	}
	if v, ok := kv[KeyEntryTimeout]; ok {
		if n, err := cast.ToIntE(v); err == nil && n >= 10 {
			st.EntryTimeout = n
		}
	}
	if v, ok := kv[KeyMaxLeverage]; ok {
		if n, err := cast.ToIntE(v); err == nil && n >= 1 {
			st.MaxLeverage = n
		}
	}
	return st
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
