// Package config defines the top-level configuration for the draw
// settlement service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DRAWSETTLE_* environment variables.
type Config struct {
	Lottery  LotteryConfig  `toml:"lottery"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Server   ServerConfig   `toml:"server"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LotteryConfig seeds the engine on first start. Once the store holds a
// configuration these values are ignored; changes go through PUT /api/config.
type LotteryConfig struct {
	AutoInstantiate    bool     `toml:"auto_instantiate"`
	Owner              string   `toml:"owner"`
	TicketDenom        string   `toml:"ticket_denom"`
	TicketPrice        string   `toml:"ticket_price"`
	Interval           duration `toml:"interval"`
	TreasuryFeePercent int      `toml:"treasury_fee_percent"`
	PercentagePerMatch []int    `toml:"percentage_per_match"`
	MaxTicketsPerUser  int      `toml:"max_tickets_per_user"`
	RequestTimeout     duration `toml:"request_timeout"`
	// Ledger selects where payouts go: "memory" or "journal" (postgres).
	Ledger string `toml:"ledger"`
	// LockTTL bounds the cross-process engine lock when redis is enabled.
	LockTTL duration `toml:"lock_ttl"`
}

// StorageConfig selects the engine state backend.
type StorageConfig struct {
	Backend     string `toml:"backend"`
	LevelDBPath string `toml:"leveldb_path"`
	CacheMB     int    `toml:"cache_mb"`
	SyncCommits bool   `toml:"sync_commits"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters for draw archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	KeyPrefix      string `toml:"key_prefix"`
}

// OracleConfig selects and configures the randomness provider.
type OracleConfig struct {
	// Mode is "local" (in-process signer) or "proxy" (remote HTTP proxy).
	Mode    string `toml:"mode"`
	ChainID int64  `toml:"chain_id"`

	PrivateKey  string   `toml:"private_key"`
	KeyFile     string   `toml:"key_file"`
	KeyPassword string   `toml:"key_password"`
	LocalDelay  duration `toml:"local_delay"`

	// Address is the proxy's signing address, used as the oracle identity
	// when the engine is instantiated in proxy mode.
	Address      string   `toml:"address"`
	ProxyURL     string   `toml:"proxy_url"`
	CallbackURL  string   `toml:"callback_url"`
	APIKey       string   `toml:"api_key"`
	APISecret    string   `toml:"api_secret"`
	CallbackHMAC bool     `toml:"callback_hmac"`
	Timeout      duration `toml:"timeout"`

	FeeDenom  string `toml:"fee_denom"`
	FeeAmount string `toml:"fee_amount"`
}

// KeeperConfig holds cron specs for the scheduled jobs. An empty spec
// disables that job.
type KeeperConfig struct {
	CloseSpec     string   `toml:"close_spec"`
	RetrySpec     string   `toml:"retry_spec"`
	PayoutSpec    string   `toml:"payout_spec"`
	ArchiveSpec   string   `toml:"archive_spec"`
	ArchiveWindow int      `toml:"archive_window"`
	JobTimeout    duration `toml:"job_timeout"`
}

// duration wraps time.Duration so it can be decoded from a TOML string such
// as "30s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	OpenReads   bool     `toml:"open_reads"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config suitable for a single-node development run.
func Defaults() Config {
	return Config{
		Lottery: LotteryConfig{
			AutoInstantiate:    true,
			TicketDenom:        "uusd",
			TicketPrice:        "1000000",
			Interval:           duration{24 * time.Hour},
			TreasuryFeePercent: 10,
			PercentagePerMatch: []int{5, 5, 10, 15, 25, 40},
			MaxTicketsPerUser:  100,
			RequestTimeout:     duration{10 * time.Minute},
			Ledger:             "memory",
			LockTTL:            duration{10 * time.Second},
		},
		Storage: StorageConfig{
			Backend:     "leveldb",
			LevelDBPath: "data/drawsettle",
			CacheMB:     64,
			SyncCommits: true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "drawsettle",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "drawsettle",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "drawsettle-archive",
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			Mode:       "local",
			ChainID:    1,
			LocalDelay: duration{2 * time.Second},
			Timeout:    duration{10 * time.Second},
		},
		Keeper: KeeperConfig{
			CloseSpec:     "@every 30s",
			RetrySpec:     "@every 1m",
			PayoutSpec:    "@every 5m",
			ArchiveSpec:   "0 3 * * *",
			ArchiveWindow: 20,
			JobTimeout:    duration{time.Minute},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			OpenReads:   true,
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Metrics: MetricsConfig{Enabled: true},
		Notify: NotifyConfig{
			Events: []string{
				string(domain.EventDrawSettled),
				string(domain.EventPrizeClaimed),
				string(domain.EventTreasuryPaid),
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var knownEvents = map[domain.EventType]bool{
	domain.EventDrawOpened:          true,
	domain.EventTicketsPurchased:    true,
	domain.EventDrawClosed:          true,
	domain.EventRandomnessRequested: true,
	domain.EventDrawSettled:         true,
	domain.EventPrizeClaimed:        true,
	domain.EventTreasuryPaid:        true,
	domain.EventConfigUpdated:       true,
}

// Validate checks the configuration for logical errors and returns a single
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: server, keeper, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	c.validateLottery(add)

	switch c.Storage.Backend {
	case "leveldb":
		if strings.TrimSpace(c.Storage.LevelDBPath) == "" {
			add("storage: leveldb_path must not be empty")
		}
	case "postgres":
	default:
		add("storage: unknown backend %q (valid: leveldb, postgres)", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" || c.Lottery.Ledger == "journal" {
		c.validatePostgres(add)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	c.validateOracle(add)

	if mode == "keeper" || mode == "full" {
		for name, spec := range map[string]string{
			"close_spec":   c.Keeper.CloseSpec,
			"retry_spec":   c.Keeper.RetrySpec,
			"payout_spec":  c.Keeper.PayoutSpec,
			"archive_spec": c.Keeper.ArchiveSpec,
		} {
			if spec == "" {
				continue
			}
			if _, err := cron.ParseStandard(spec); err != nil {
				add("keeper: %s %q: %v", name, spec, err)
			}
		}
		if c.Keeper.ArchiveWindow < 0 {
			add("keeper: archive_window must be >= 0")
		}
	}

	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be positive when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !knownEvents[domain.EventType(strings.TrimSpace(e))] {
			add("notify: unknown event %q", e)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateLottery(add func(string, ...any)) {
	l := c.Lottery
	switch l.Ledger {
	case "memory", "journal":
	default:
		add("lottery: unknown ledger %q (valid: memory, journal)", l.Ledger)
	}
	if !l.AutoInstantiate {
		return
	}
	if l.Owner == "" {
		add("lottery: owner is required when auto_instantiate is set")
	}
	if l.TicketDenom == "" {
		add("lottery: ticket_denom must not be empty")
	}
	if _, err := domain.ParseCoin(l.TicketPrice, l.TicketDenom); err != nil {
		add("lottery: ticket_price: %v", err)
	}
	if l.Interval.Duration <= 0 {
		add("lottery: interval must be positive")
	}
	if l.RequestTimeout.Duration <= 0 {
		add("lottery: request_timeout must be positive")
	}
	if l.TreasuryFeePercent < 0 || l.TreasuryFeePercent > 100 {
		add("lottery: treasury_fee_percent must be 0-100, got %d", l.TreasuryFeePercent)
	}
	if len(l.PercentagePerMatch) != domain.MatchTiers {
		add("lottery: percentage_per_match needs %d entries, got %d", domain.MatchTiers, len(l.PercentagePerMatch))
	} else {
		sum := 0
		for _, p := range l.PercentagePerMatch {
			if p < 0 {
				add("lottery: percentage_per_match entries must be >= 0")
			}
			sum += p
		}
		if sum > 100 {
			add("lottery: percentage_per_match sums to %d, max 100", sum)
		}
	}
	if l.MaxTicketsPerUser < 1 {
		add("lottery: max_tickets_per_user must be >= 1")
	}
}

func (c *Config) validatePostgres(add func(string, ...any)) {
	p := c.Postgres
	if strings.TrimSpace(p.DSN) == "" {
		if p.Host == "" {
			add("postgres: host must not be empty (or set postgres.dsn)")
		}
		if p.Port <= 0 || p.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", p.Port)
		}
		if p.Database == "" {
			add("postgres: database must not be empty")
		}
	}
	if p.PoolMaxConns < 1 {
		add("postgres: pool_max_conns must be >= 1")
	}
	if p.PoolMinConns < 0 || p.PoolMinConns > p.PoolMaxConns {
		add("postgres: pool_min_conns must be between 0 and pool_max_conns")
	}
}

func (c *Config) validateOracle(add func(string, ...any)) {
	o := c.Oracle
	if o.ChainID <= 0 {
		add("oracle: chain_id must be positive")
	}
	switch o.Mode {
	case "local":
		if o.PrivateKey == "" && o.KeyFile == "" {
			add("oracle: private_key or key_file is required in local mode")
		}
		if o.KeyFile != "" && o.KeyPassword == "" {
			add("oracle: key_password is required when key_file is set")
		}
	case "proxy":
		if o.ProxyURL == "" {
			add("oracle: proxy_url is required in proxy mode")
		}
		if o.CallbackURL == "" {
			add("oracle: callback_url is required in proxy mode")
		}
		if o.Address == "" && c.Lottery.AutoInstantiate {
			add("oracle: address is required in proxy mode")
		}
		if o.CallbackHMAC && (o.APIKey == "" || o.APISecret == "") {
			add("oracle: api_key and api_secret are required when callback_hmac is set")
		}
	default:
		add("oracle: unknown mode %q (valid: local, proxy)", o.Mode)
	}
	if o.FeeAmount != "" {
		if _, err := domain.ParseCoin(o.FeeAmount, o.FeeDenom); err != nil {
			add("oracle: fee_amount: %v", err)
		}
		if o.FeeDenom == "" {
			add("oracle: fee_denom is required with fee_amount")
		}
	}
}
