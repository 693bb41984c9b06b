// Package lottery implements the draw settlement engine: ticket purchase,
// draw closing, randomness settlement with rollover, and one-shot claims.
//
// Every public operation runs under a single mutex per Engine, and every
// mutation is committed through one domain.KVStore transaction, so no caller
// ever observes a half-updated draw.
package lottery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// engineLockKey is the distributed lock guarding one engine's state when
// several processes share a store.
const engineLockKey = "lottery:engine"

// Recorder receives engine measurements. The metrics package provides the
// Prometheus implementation.
type Recorder interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
	TicketsSold(denom string, count int, amount float64)
	DrawSettled(winners domain.WinnerCounts)
	PrizeClaimed(denom string, amount float64)
	TransferFailed(kind string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error, time.Duration) {}
func (nopRecorder) TicketsSold(string, int, float64)              {}
func (nopRecorder) DrawSettled(domain.WinnerCounts)               {}
func (nopRecorder) PrizeClaimed(string, float64)                  {}
func (nopRecorder) TransferFailed(string)                         {}

// Engine is the settlement coordinator.
type Engine struct {
	mu sync.Mutex

	store     domain.KVStore
	ledger    domain.Ledger
	oracle    domain.RandomnessOracle
	validator domain.IdentityValidator

	bus     domain.SignalBus
	audit   domain.AuditStore
	locks   domain.LockManager
	lockTTL time.Duration
	metrics Recorder
	now     func() time.Time
	logger  *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithSignalBus publishes committed events to the bus.
func WithSignalBus(bus domain.SignalBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithAuditStore records settlement and payout events in the audit log.
func WithAuditStore(audit domain.AuditStore) Option {
	return func(e *Engine) { e.audit = audit }
}

// WithLockManager takes a distributed lock around every mutating operation.
func WithLockManager(locks domain.LockManager, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locks = locks
		e.lockTTL = ttl
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the given store and collaborators.
func New(
	store domain.KVStore,
	ledger domain.Ledger,
	oracle domain.RandomnessOracle,
	validator domain.IdentityValidator,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:     store,
		ledger:    ledger,
		oracle:    oracle,
		validator: validator,
		lockTTL:   10 * time.Second,
		metrics:   nopRecorder{},
		now:       time.Now,
		logger:    logger.With(slog.String("component", "lottery_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// acquire enters the single-writer section. The returned release must be
// called exactly once.
func (e *Engine) acquire(ctx context.Context, distributed bool) (func(), error) {
	e.mu.Lock()
	if !distributed || e.locks == nil {
		return e.mu.Unlock, nil
	}
	unlock, err := e.locks.Acquire(ctx, engineLockKey, e.lockTTL)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("lottery: acquire engine lock: %w", err)
	}
	return func() {
		unlock()
		e.mu.Unlock()
	}, nil
}

// observe records the outcome of op started at start.
func (e *Engine) observe(op string, start time.Time, err error) {
	e.metrics.ObserveOperation(op, err, time.Since(start))
}

// emit publishes ev on the bus. Failures are logged; the state change has
// already been committed.
func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	if e.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.WarnContext(ctx, "lottery_engine: marshal event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.bus.Publish(ctx, domain.ChannelDraws, payload); err != nil {
		e.logger.WarnContext(ctx, "lottery_engine: publish event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, domain.StreamDraws, payload); err != nil {
		e.logger.WarnContext(ctx, "lottery_engine: stream append failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "lottery_engine: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Instantiate stores the initial config with sender as owner and opens the
// first draw. It fails with domain.ErrAlreadyInstantiated on a second call.
func (e *Engine) Instantiate(ctx context.Context, sender domain.Identity, p domain.InstantiateParams) (cfg domain.Config, err error) {
	start := time.Now()
	defer func() { e.observe("instantiate", start, err) }()

	oracle, err := e.validator.Validate(p.Oracle)
	if err != nil {
		return cfg, fmt.Errorf("lottery: instantiate: oracle: %w", err)
	}
	cfg = domain.Config{
		Owner:              sender,
		Oracle:             oracle,
		TicketPrice:        p.TicketPrice,
		Interval:           p.Interval,
		TreasuryFeePercent: p.TreasuryFeePercent,
		PercentagePerMatch: p.PercentagePerMatch,
		MaxTicketsPerUser:  p.MaxTicketsPerUser,
		RequestTimeout:     p.RequestTimeout,
	}
	if err := ValidateConfig(cfg); err != nil {
		return cfg, fmt.Errorf("lottery: instantiate: %w", err)
	}

	release, err := e.acquire(ctx, true)
	if err != nil {
		return cfg, err
	}
	defer release()

	now := e.now()
	var first domain.Draw
	err = e.store.Update(ctx, func(t domain.KVTxn) error {
		if _, err := loadConfig(ctx, t); err == nil {
			return domain.ErrAlreadyInstantiated
		} else if !errors.Is(err, domain.ErrNotInstantiated) {
			return err
		}
		if err := putJSON(ctx, t, keyConfig, cfg); err != nil {
			return err
		}
		if err := putJSON(ctx, t, keyDrawIndex, uint64(0)); err != nil {
			return err
		}
		d, err := createNextDraw(ctx, t, cfg, now)
		first = d
		return err
	})
	if err != nil {
		return cfg, fmt.Errorf("lottery: instantiate: %w", err)
	}

	e.logger.InfoContext(ctx, "lottery_engine: instantiated",
		slog.String("owner", sender.String()),
		slog.String("oracle", oracle.String()),
		slog.String("ticket_price", cfg.TicketPrice.String()),
		slog.Uint64("first_draw", first.ID),
	)
	e.emit(ctx, domain.Event{Type: domain.EventDrawOpened, DrawID: first.ID, Actor: sender})
	return cfg, nil
}

// ValidateConfig checks the config invariants.
func ValidateConfig(cfg domain.Config) error {
	if cfg.TicketPrice.IsZero() {
		return fmt.Errorf("ticket price must be positive: %w", domain.ErrInvalidConfig)
	}
	if cfg.TicketPrice.Amount.BitLen() > domain.MaxAmountBits {
		return fmt.Errorf("ticket price exceeds %d bits: %w", domain.MaxAmountBits, domain.ErrInvalidConfig)
	}
	if cfg.TicketPrice.Denom == "" {
		return fmt.Errorf("ticket price denom must not be empty: %w", domain.ErrInvalidConfig)
	}
	if cfg.TreasuryFeePercent > 100 {
		return fmt.Errorf("treasury fee %d%% above 100: %w", cfg.TreasuryFeePercent, domain.ErrInvalidConfig)
	}
	var sum int
	for i, p := range cfg.PercentagePerMatch {
		if p > 100 {
			return fmt.Errorf("percentage for %d matches is %d: %w", i+1, p, domain.ErrInvalidConfig)
		}
		sum += int(p)
	}
	if sum > 100 {
		return fmt.Errorf("percentages sum to %d: %w", sum, domain.ErrInvalidConfig)
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive: %w", domain.ErrInvalidConfig)
	}
	if cfg.MaxTicketsPerUser == 0 {
		return fmt.Errorf("max tickets per user must be positive: %w", domain.ErrInvalidConfig)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive: %w", domain.ErrInvalidConfig)
	}
	if cfg.Owner == "" || cfg.Oracle == "" {
		return fmt.Errorf("owner and oracle must be set: %w", domain.ErrInvalidConfig)
	}
	return nil
}

// UpdateConfig applies the owner's changes. Open draws keep the ticket price
// they were created with.
func (e *Engine) UpdateConfig(ctx context.Context, sender domain.Identity, upd domain.ConfigUpdate) (cfg domain.Config, err error) {
	start := time.Now()
	defer func() { e.observe("update_config", start, err) }()

	release, err := e.acquire(ctx, true)
	if err != nil {
		return cfg, err
	}
	defer release()

	err = e.store.Update(ctx, func(t domain.KVTxn) error {
		cfg, err = loadConfig(ctx, t)
		if err != nil {
			return err
		}
		if sender != cfg.Owner {
			return domain.ErrUnauthorized
		}
		if upd.Owner != nil {
			owner, err := e.validator.Validate(*upd.Owner)
			if err != nil {
				return fmt.Errorf("owner: %w", err)
			}
			cfg.Owner = owner
		}
		if upd.Oracle != nil {
			oracle, err := e.validator.Validate(*upd.Oracle)
			if err != nil {
				return fmt.Errorf("oracle: %w", err)
			}
			cfg.Oracle = oracle
		}
		if upd.TicketPrice != nil {
			cfg.TicketPrice = *upd.TicketPrice
		}
		if upd.Interval != nil {
			cfg.Interval = *upd.Interval
		}
		if upd.TreasuryFeePercent != nil {
			cfg.TreasuryFeePercent = *upd.TreasuryFeePercent
		}
		if upd.PercentagePerMatch != nil {
			cfg.PercentagePerMatch = *upd.PercentagePerMatch
		}
		if upd.MaxTicketsPerUser != nil {
			cfg.MaxTicketsPerUser = *upd.MaxTicketsPerUser
		}
		if upd.RequestTimeout != nil {
			cfg.RequestTimeout = *upd.RequestTimeout
		}
		if err := ValidateConfig(cfg); err != nil {
			return err
		}
		return putJSON(ctx, t, keyConfig, cfg)
	})
	if err != nil {
		return domain.Config{}, fmt.Errorf("lottery: update config: %w", err)
	}

	e.logger.InfoContext(ctx, "lottery_engine: config updated", slog.String("owner", cfg.Owner.String()))
	e.auditLog(ctx, "lottery.config_updated", map[string]any{
		"sender":       sender.String(),
		"owner":        cfg.Owner.String(),
		"oracle":       cfg.Oracle.String(),
		"ticket_price": cfg.TicketPrice.String(),
	})
	e.emit(ctx, domain.Event{Type: domain.EventConfigUpdated, Actor: sender})
	return cfg, nil
}
