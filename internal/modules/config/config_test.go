package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadLocalValues(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("BINANCE_API_KEY", "")

	cfg, err := Load("../../../configs/values_local.yaml")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 100.0, cfg.Trading.TradeAmount)
	assert.Equal(t, 600, cfg.Trading.EntryTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Watcher.SymbolRefresh)
	assert.Equal(t, 168*time.Hour, cfg.Sync.DefaultLookback)
	assert.Equal(t, "tp3", cfg.Engine.TakeProfitTarget)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Service.CORSOrigin)
}

func TestLoadKeepsDefaultsAndAppliesEnv(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "tkn")
	t.Setenv("OKX_PASSPHRASE", "pp")
	t.Setenv("TELEGRAM_OWNER_CHAT_ID", "42")

	cfg, err := Load(writeYAML(t, "trading:\n  trade_amount: 25\n"))
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.Trading.TradeAmount)
	assert.Equal(t, 3, cfg.Trading.MaxConcurrent)
	assert.Equal(t, 0.95, cfg.Engine.BalanceTolerance)
	assert.Equal(t, 30*time.Second, cfg.Watcher.ReconcileInterval)
	assert.Equal(t, "tkn", cfg.Telegram.Token)
	assert.Equal(t, "pp", cfg.OKX.Passphrase)
	assert.EqualValues(t, 42, cfg.Telegram.OwnerChatID)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"postgres without dsn": "storage:\n  driver: postgres\n",
		"unknown driver":       "storage:\n  driver: mysql\n",
		"bad tp target":        "engine:\n  take_profit_target: tp2\n",
		"bad tolerance":        "engine:\n  balance_tolerance: 1.5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DATABASE_DSN", "")
			_, err := Load(writeYAML(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
