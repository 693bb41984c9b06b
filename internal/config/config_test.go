package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Lottery.Owner = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	cfg.Oracle.PrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	return cfg
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drawsettle.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsNeedOwnerAndKey(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lottery: owner is required")
	assert.Contains(t, err.Error(), "oracle: private_key or key_file is required")

	cfg = validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := writeFile(t, `
mode = "server"

[lottery]
owner = "0xowner"
interval = "2h"
percentage_per_match = [10, 10, 10, 10, 10, 10]

[storage]
backend = "leveldb"
leveldb_path = "/var/lib/drawsettle"

[keeper]
close_spec = "*/5 * * * *"
`)
	t.Setenv("DRAWSETTLE_SERVER_PORT", "9090")
	t.Setenv("DRAWSETTLE_ORACLE_PRIVATE_KEY", "0xabc")
	t.Setenv("DRAWSETTLE_LOTTERY_REQUEST_TIMEOUT", "90s")
	t.Setenv("DRAWSETTLE_NOTIFY_EVENTS", "draw.settled, prize.claimed,")
	t.Setenv("DRAWSETTLE_SERVER_PORT_TYPO", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "0xowner", cfg.Lottery.Owner)
	assert.Equal(t, 2*time.Hour, cfg.Lottery.Interval.Duration)
	assert.Equal(t, 90*time.Second, cfg.Lottery.RequestTimeout.Duration)
	assert.Equal(t, []int{10, 10, 10, 10, 10, 10}, cfg.Lottery.PercentagePerMatch)
	assert.Equal(t, "/var/lib/drawsettle", cfg.Storage.LevelDBPath)
	assert.Equal(t, "*/5 * * * *", cfg.Keeper.CloseSpec)
	assert.Equal(t, "@every 1m", cfg.Keeper.RetrySpec, "untouched default")
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0xabc", cfg.Oracle.PrivateKey)
	assert.Equal(t, []string{"draw.settled", "prize.claimed"}, cfg.Notify.Events)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, `
[lottery]
ownr = "0xowner"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lottery.ownr")

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEnvIgnoresUnparsable(t *testing.T) {
	t.Setenv("DRAWSETTLE_SERVER_PORT", "eighty")
	t.Setenv("DRAWSETTLE_LOTTERY_PERCENTAGE_PER_MATCH", "1,2,x")
	t.Setenv("DRAWSETTLE_LOTTERY_INTERVAL", "forever")
	cfg := Defaults()
	applyEnvOverrides(&cfg)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []int{5, 5, 10, 15, 25, 40}, cfg.Lottery.PercentagePerMatch)
	assert.Equal(t, 24*time.Hour, cfg.Lottery.Interval.Duration)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Lottery.TicketPrice = "ten"
	cfg.Lottery.TreasuryFeePercent = 120
	cfg.Lottery.PercentagePerMatch = []int{50, 50, 50, 0, 0, 0}
	cfg.Storage.Backend = "sqlite"
	cfg.Oracle.Mode = "proxy"
	cfg.Notify.Events = []string{"draw.exploded"}
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		"lottery: ticket_price",
		"treasury_fee_percent must be 0-100",
		"sums to 150",
		`unknown backend "sqlite"`,
		"proxy_url is required",
		"callback_url is required",
		"address is required",
		`unknown event "draw.exploded"`,
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateKeeperSpecs(t *testing.T) {
	cfg := validConfig()
	cfg.Keeper.CloseSpec = "every now and then"
	cfg.Keeper.ArchiveSpec = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeper: close_spec")

	// Keeper specs are not checked when no keeper runs.
	cfg.Mode = "server"
	assert.NoError(t, cfg.Validate())
}

func TestValidatePostgresForJournalLedger(t *testing.T) {
	cfg := validConfig()
	cfg.Lottery.Ledger = "journal"
	cfg.Postgres.Host = ""
	cfg.Postgres.PoolMinConns = 20
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host must not be empty")
	assert.Contains(t, err.Error(), "pool_min_conns")

	cfg.Postgres.DSN = "postgres://u:p@db/drawsettle"
	cfg.Postgres.PoolMinConns = 1
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Server.APIKey = "k"
	cfg.Oracle.APISecret = "s"
	cfg.Postgres.Password = "pw"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Oracle.PrivateKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Oracle.APISecret)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, cfg.Lottery.Owner, out.Lottery.Owner)

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
	assert.NotEqual(t, "***", cfg.Oracle.PrivateKey)
}
