package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/drawsettle/internal/blob/s3"
	"github.com/alanyoungcy/drawsettle/internal/cache/redis"
	"github.com/alanyoungcy/drawsettle/internal/config"
	"github.com/alanyoungcy/drawsettle/internal/crypto"
	"github.com/alanyoungcy/drawsettle/internal/domain"
	"github.com/alanyoungcy/drawsettle/internal/identity"
	"github.com/alanyoungcy/drawsettle/internal/keeper"
	"github.com/alanyoungcy/drawsettle/internal/ledger"
	"github.com/alanyoungcy/drawsettle/internal/lottery"
	"github.com/alanyoungcy/drawsettle/internal/metrics"
	"github.com/alanyoungcy/drawsettle/internal/notify"
	"github.com/alanyoungcy/drawsettle/internal/oracle"
	"github.com/alanyoungcy/drawsettle/internal/server/handler"
	"github.com/alanyoungcy/drawsettle/internal/store/leveldb"
	"github.com/alanyoungcy/drawsettle/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store     domain.KVStore
	Engine    *lottery.Engine
	Validator domain.IdentityValidator
	Verifier  *oracle.Verifier
	Balances  ledger.Balances

	// Redis-backed; nil when redis is disabled.
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// S3-backed; nil when s3 is disabled.
	Archiver domain.DrawArchiver
	Blobs    domain.BlobReader

	Metrics   *metrics.Metrics
	Notifier  *notify.Notifier
	OracleFee domain.Funds
	Checks    map[string]handler.Pinger
}

// payoutLedger is a ledger that can also report balances.
type payoutLedger interface {
	domain.Ledger
	ledger.Balances
}

// healthFunc adapts a Health-style method to handler.Pinger.
type healthFunc func(ctx context.Context) error

func (f healthFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs every concrete dependency from cfg and returns them with a
// cleanup function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Validator: identity.NewEthValidator(),
		Verifier:  oracle.NewVerifier(cfg.Oracle.ChainID),
		Checks:    make(map[string]handler.Pinger),
	}
	var engineOpts []lottery.Option

	// --- PostgreSQL (state backend, audit log, transfer journal) ---
	var pgClient *postgres.Client
	if strings.EqualFold(cfg.Storage.Backend, "postgres") || strings.EqualFold(cfg.Lottery.Ledger, "journal") {
		var err error
		pgClient, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Checks["postgres"] = pgClient
		engineOpts = append(engineOpts, lottery.WithAuditStore(postgres.NewAuditStore(pgClient.Pool())))
	}

	// --- Engine state ---
	switch strings.ToLower(cfg.Storage.Backend) {
	case "postgres":
		deps.Store = postgres.NewKVStore(pgClient.Pool())
	default:
		db, err := leveldb.Open(cfg.Storage.LevelDBPath, leveldb.Options{
			CacheMB:     cfg.Storage.CacheMB,
			SyncCommits: cfg.Storage.SyncCommits,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: leveldb: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Store = db
		deps.Checks["leveldb"] = db
	}

	// --- Redis (engine lock, event bus, rate limiter) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient
		engineOpts = append(engineOpts,
			lottery.WithSignalBus(deps.SignalBus),
			lottery.WithLockManager(redis.NewLockManager(redisClient, 0), cfg.Lottery.LockTTL.Duration),
		)
	}

	// --- Ledger ---
	var payouts payoutLedger
	switch strings.ToLower(cfg.Lottery.Ledger) {
	case "journal":
		payouts = ledger.NewJournal(postgres.NewTransferStore(pgClient.Pool()), logger)
	default:
		payouts = ledger.NewMemory(logger)
	}
	deps.Balances = payouts

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
		engineOpts = append(engineOpts, lottery.WithRecorder(deps.Metrics))
	}

	// --- Randomness oracle ---
	var (
		rng        domain.RandomnessOracle
		oracleAddr string
		local      *oracle.LocalOracle
	)
	switch strings.ToLower(cfg.Oracle.Mode) {
	case "proxy":
		proxy, err := oracle.NewProxyClient(oracle.ProxyConfig{
			BaseURL:     cfg.Oracle.ProxyURL,
			CallbackURL: cfg.Oracle.CallbackURL,
			APIKey:      cfg.Oracle.APIKey,
			APISecret:   cfg.Oracle.APISecret,
			Timeout:     cfg.Oracle.Timeout.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: oracle proxy: %w", err))
		}
		rng, oracleAddr = proxy, cfg.Oracle.Address
	default:
		pk, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey: cfg.Oracle.PrivateKey,
			KeyFile:       cfg.Oracle.KeyFile,
			KeyPassword:   cfg.Oracle.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: oracle key: %w", err))
		}
		local = oracle.NewLocalOracle(crypto.NewSigner(pk, cfg.Oracle.ChainID), deps.Verifier, cfg.Oracle.LocalDelay.Duration, logger)
		closers = append(closers, local.Close)
		rng, oracleAddr = local, string(local.Address())
	}

	fee, err := oracleFee(cfg.Oracle)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.OracleFee = fee

	// --- Engine ---
	deps.Engine = lottery.New(deps.Store, payouts, rng, deps.Validator, logger, engineOpts...)
	if local != nil {
		local.Bind(deps.Engine)
	}
	if cfg.Lottery.AutoInstantiate {
		if err := instantiate(ctx, deps.Engine, deps.Validator, cfg.Lottery, oracleAddr, logger); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
	}

	// --- S3 draw archives ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			KeyPrefix:      cfg.S3.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		var audit domain.AuditStore
		if pgClient != nil {
			audit = postgres.NewAuditStore(pgClient.Pool())
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Engine, audit)
		deps.Blobs = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = healthFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// instantiate seeds the engine from lc unless the store already holds a
// configuration.
func instantiate(ctx context.Context, eng *lottery.Engine, v domain.IdentityValidator, lc config.LotteryConfig, oracleAddr string, logger *slog.Logger) error {
	_, err := eng.GetConfig(ctx)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, domain.ErrNotInstantiated):
		return fmt.Errorf("read engine config: %w", err)
	}

	owner, err := v.Validate(lc.Owner)
	if err != nil {
		return fmt.Errorf("lottery owner: %w", err)
	}
	price, err := domain.ParseCoin(lc.TicketPrice, lc.TicketDenom)
	if err != nil {
		return fmt.Errorf("ticket price: %w", err)
	}
	var pct [domain.MatchTiers]uint8
	for i, p := range lc.PercentagePerMatch {
		if i < len(pct) {
			pct[i] = uint8(p)
		}
	}

	cfg, err := eng.Instantiate(ctx, owner, domain.InstantiateParams{
		Oracle:             oracleAddr,
		TicketPrice:        price,
		Interval:           lc.Interval.Duration,
		TreasuryFeePercent: uint8(lc.TreasuryFeePercent),
		PercentagePerMatch: pct,
		MaxTicketsPerUser:  uint32(lc.MaxTicketsPerUser),
		RequestTimeout:     lc.RequestTimeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("instantiate engine: %w", err)
	}
	logger.InfoContext(ctx, "app: engine instantiated",
		slog.String("owner", string(cfg.Owner)),
		slog.String("oracle", string(cfg.Oracle)),
		slog.String("ticket_price", cfg.TicketPrice.String()),
	)
	return nil
}

// oracleFee is the fee attached to keeper-initiated randomness requests.
// No amount means no fee.
func oracleFee(oc config.OracleConfig) (domain.Funds, error) {
	if oc.FeeAmount == "" {
		return nil, nil
	}
	c, err := domain.ParseCoin(oc.FeeAmount, oc.FeeDenom)
	if err != nil {
		return nil, fmt.Errorf("oracle fee: %w", err)
	}
	if c.IsZero() {
		return nil, nil
	}
	return domain.Funds{c}, nil
}

// keeperConfig maps the keeper section onto keeper.Config.
func keeperConfig(cfg *config.Config, fee domain.Funds) keeper.Config {
	return keeper.Config{
		CloseSpec:     cfg.Keeper.CloseSpec,
		RetrySpec:     cfg.Keeper.RetrySpec,
		PayoutSpec:    cfg.Keeper.PayoutSpec,
		ArchiveSpec:   cfg.Keeper.ArchiveSpec,
		OracleFee:     fee,
		ArchiveWindow: cfg.Keeper.ArchiveWindow,
		JobTimeout:    cfg.Keeper.JobTimeout.Duration,
	}
}
