package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every override variable.
const envPrefix = "DRAWSETTLE_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DRAWSETTLE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate().
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// A missing .env file is fine; a malformed one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from DRAWSETTLE_* variables
// that are set and non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Lottery ──
	setBool(&cfg.Lottery.AutoInstantiate, "LOTTERY_AUTO_INSTANTIATE")
	setStr(&cfg.Lottery.Owner, "LOTTERY_OWNER")
	setStr(&cfg.Lottery.TicketDenom, "LOTTERY_TICKET_DENOM")
	setStr(&cfg.Lottery.TicketPrice, "LOTTERY_TICKET_PRICE")
	setDuration(&cfg.Lottery.Interval, "LOTTERY_INTERVAL")
	setInt(&cfg.Lottery.TreasuryFeePercent, "LOTTERY_TREASURY_FEE_PERCENT")
	setIntSlice(&cfg.Lottery.PercentagePerMatch, "LOTTERY_PERCENTAGE_PER_MATCH")
	setInt(&cfg.Lottery.MaxTicketsPerUser, "LOTTERY_MAX_TICKETS_PER_USER")
	setDuration(&cfg.Lottery.RequestTimeout, "LOTTERY_REQUEST_TIMEOUT")
	setStr(&cfg.Lottery.Ledger, "LOTTERY_LEDGER")
	setDuration(&cfg.Lottery.LockTTL, "LOTTERY_LOCK_TTL")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setStr(&cfg.Storage.LevelDBPath, "STORAGE_LEVELDB_PATH")
	setInt(&cfg.Storage.CacheMB, "STORAGE_CACHE_MB")
	setBool(&cfg.Storage.SyncCommits, "STORAGE_SYNC_COMMITS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.KeyPrefix, "S3_KEY_PREFIX")

	// ── Oracle ──
	setStr(&cfg.Oracle.Mode, "ORACLE_MODE")
	setInt64(&cfg.Oracle.ChainID, "ORACLE_CHAIN_ID")
	setStr(&cfg.Oracle.PrivateKey, "ORACLE_PRIVATE_KEY")
	setStr(&cfg.Oracle.KeyFile, "ORACLE_KEY_FILE")
	setStr(&cfg.Oracle.KeyPassword, "ORACLE_KEY_PASSWORD")
	setDuration(&cfg.Oracle.LocalDelay, "ORACLE_LOCAL_DELAY")
	setStr(&cfg.Oracle.Address, "ORACLE_ADDRESS")
	setStr(&cfg.Oracle.ProxyURL, "ORACLE_PROXY_URL")
	setStr(&cfg.Oracle.CallbackURL, "ORACLE_CALLBACK_URL")
	setStr(&cfg.Oracle.APIKey, "ORACLE_API_KEY")
	setStr(&cfg.Oracle.APISecret, "ORACLE_API_SECRET")
	setBool(&cfg.Oracle.CallbackHMAC, "ORACLE_CALLBACK_HMAC")
	setDuration(&cfg.Oracle.Timeout, "ORACLE_TIMEOUT")
	setStr(&cfg.Oracle.FeeDenom, "ORACLE_FEE_DENOM")
	setStr(&cfg.Oracle.FeeAmount, "ORACLE_FEE_AMOUNT")

	// ── Keeper ──
	setStr(&cfg.Keeper.CloseSpec, "KEEPER_CLOSE_SPEC")
	setStr(&cfg.Keeper.RetrySpec, "KEEPER_RETRY_SPEC")
	setStr(&cfg.Keeper.PayoutSpec, "KEEPER_PAYOUT_SPEC")
	setStr(&cfg.Keeper.ArchiveSpec, "KEEPER_ARCHIVE_SPEC")
	setInt(&cfg.Keeper.ArchiveWindow, "KEEPER_ARCHIVE_WINDOW")
	setDuration(&cfg.Keeper.JobTimeout, "KEEPER_JOB_TIMEOUT")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setBool(&cfg.Server.OpenReads, "SERVER_OPEN_READS")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")

	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the prefixed
// variable is present and parses.

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}

func setStringSlice(dst *[]string, key string) {
	if v, ok := lookup(key); ok {
		if cleaned := splitCSV(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setIntSlice replaces dst only when every element parses.
func setIntSlice(dst *[]int, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	parts := splitCSV(v)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	if len(out) > 0 {
		*dst = out
	}
}
