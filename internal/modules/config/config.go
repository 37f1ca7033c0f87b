package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"signal_trader/pkg/logger"
	"signal_trader/pkg/tracing"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

type Telegram struct {
	Token          string   `yaml:"token"`
	OwnerChatID    int64    `yaml:"owner_chat_id"`
	SourceChannels []string `yaml:"source_channels"`
	PollTimeout    int      `yaml:"poll_timeout"`
}

type Storage struct {
	Driver     string `yaml:"driver"` // postgres | sqlite
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlite_path"`
	MaxConns   int32  `yaml:"max_conns"`
}

type Exchange struct {
	Enabled    bool    `yaml:"enabled"`
	APIKey     string  `yaml:"api_key"`
	Secret     string  `yaml:"secret"`
	Passphrase string  `yaml:"passphrase"`
	BaseURL    string  `yaml:"base_url"`
	Testnet    bool    `yaml:"testnet"`
	RateLimit  float64 `yaml:"rate_limit"` // запросов в секунду
	LongMarket string  `yaml:"long_market"`
}

// Trading — дефолты runtime-настроек, сеются в таблицу settings при первом запуске.
type Trading struct {
	TradeAmount    float64  `yaml:"trade_amount"`
	SellBlocked    []string `yaml:"sell_blocked"`
	TradeBlocked   []string `yaml:"trade_blocked"`
	MaxConcurrent  int      `yaml:"max_concurrent"`
	DailyLossLimit float64  `yaml:"daily_loss_limit"`
	EntryTimeout   int      `yaml:"entry_timeout"`
	MaxLeverage    int      `yaml:"max_leverage"`
}

type Engine struct {
	FillPollInterval time.Duration `yaml:"fill_poll_interval"`
	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	BalanceTolerance float64       `yaml:"balance_tolerance"`
	TakeProfitTarget string        `yaml:"take_profit_target"` // tp3 | tp4
}

type Watcher struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	SymbolRefresh     time.Duration `yaml:"symbol_refresh"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	SettingsReload    time.Duration `yaml:"settings_reload"`
}

type Sync struct {
	Enabled         bool          `yaml:"enabled"`
	Cooldown        time.Duration `yaml:"cooldown"`
	DefaultLookback time.Duration `yaml:"default_lookback"`
	Interval        time.Duration `yaml:"interval"`
}

type Service struct {
	Host       string   `yaml:"host"`
	PublicPort int      `yaml:"public_port"`
	AdminPort  int      `yaml:"admin_port"`
	CORSOrigin []string `yaml:"cors_origins"`
}

// Config ...
type Config struct {
	Telegram Telegram       `yaml:"telegram"`
	Storage  Storage        `yaml:"storage"`
	Binance  Exchange       `yaml:"binance"`
	OKX      Exchange       `yaml:"okx"`
	Trading  Trading        `yaml:"trading"`
	Engine   Engine         `yaml:"engine"`
	Watcher  Watcher        `yaml:"watcher"`
	Sync     Sync           `yaml:"sync"`
	Service  Service        `yaml:"service"`
	Log      logger.Config  `yaml:"log"`
	Tracing  tracing.Config `yaml:"tracing"`
}

// Default — значения, поверх которых декодируется yaml.
func Default() Config {
	return Config{
		Telegram: Telegram{PollTimeout: 30},
		Storage: Storage{
			Driver:     getenvDefault("STORAGE_DRIVER", "sqlite"),
			SQLitePath: getenvDefault("SQLITE_PATH", "data/trader.db"),
			MaxConns:   int32(intFromEnv("DB_MAX_CONNS", 10)),
		},
		Binance: Exchange{
			Enabled:    boolFromEnv("BINANCE_ENABLED", true),
			RateLimit:  10,
			LongMarket: "spot",
		},
		OKX: Exchange{
			Enabled:    boolFromEnv("OKX_ENABLED", false),
			BaseURL:    "https://www.okx.com",
			RateLimit:  8,
			LongMarket: "futures",
		},
		Trading: Trading{
			TradeAmount:    floatFromEnv("TRADE_AMOUNT", 100),
			MaxConcurrent:  intFromEnv("MAX_CONCURRENT", 3),
			DailyLossLimit: floatFromEnv("DAILY_LOSS_LIMIT", 500),
			EntryTimeout:   intFromEnv("ENTRY_TIMEOUT", 600),
			MaxLeverage:    intFromEnv("MAX_LEVERAGE", 20),
		},
		Engine: Engine{
			FillPollInterval: durationFromEnv("FILL_POLL_INTERVAL", "5s"),
			MonitorInterval:  durationFromEnv("MONITOR_INTERVAL", "10s"),
			BalanceTolerance: floatFromEnv("BALANCE_TOLERANCE", 0.95),
			TakeProfitTarget: getenvDefault("TAKE_PROFIT_TARGET", "tp3"),
		},
		Watcher: Watcher{
			ReconcileInterval: 30 * time.Second,
			SymbolRefresh:     300 * time.Second,
			ReconnectDelay:    5 * time.Second,
			PingInterval:      20 * time.Second,
			SettingsReload:    60 * time.Second,
		},
		Sync: Sync{
			Enabled:         true,
			Cooldown:        300 * time.Second,
			DefaultLookback: 7 * 24 * time.Hour,
			Interval:        15 * time.Minute,
		},
		Service: Service{
			Host:       "0.0.0.0",
			PublicPort: 8080,
			AdminPort:  8081,
		},
		Log: logger.Config{Level: "info", Format: "console"},
	}
}

func NewConfig() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	path := strings.TrimRight(getenvDefault(configDirENV, "configs"), "/") + "/" + configFileName

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load читает yaml по пути и накладывает env-переопределения секретов.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer func() {
		_ = file.Close()
	}()

	config := Default()
	if err = yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrap(err, "failed to decode config file")
	}
	applyEnv(&config)

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyEnv(c *Config) {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		c.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		c.Storage.DSN = dsn
	}
	c.Binance.APIKey = getenvDefault("BINANCE_API_KEY", c.Binance.APIKey)
	c.Binance.Secret = getenvDefault("BINANCE_SECRET", c.Binance.Secret)
	c.OKX.APIKey = getenvDefault("OKX_API_KEY", c.OKX.APIKey)
	c.OKX.Secret = getenvDefault("OKX_SECRET", c.OKX.Secret)
	c.OKX.Passphrase = getenvDefault("OKX_PASSPHRASE", c.OKX.Passphrase)
	c.Telegram.OwnerChatID = int64(intFromEnv("TELEGRAM_OWNER_CHAT_ID", int(c.Telegram.OwnerChatID)))
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres driver")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Engine.TakeProfitTarget {
	case "tp3", "tp4":
	default:
		return fmt.Errorf("engine.take_profit_target must be tp3 or tp4, got %q", c.Engine.TakeProfitTarget)
	}
	if c.Engine.BalanceTolerance <= 0 || c.Engine.BalanceTolerance > 1 {
		return fmt.Errorf("engine.balance_tolerance must be in (0,1], got %v", c.Engine.BalanceTolerance)
	}
	return nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
