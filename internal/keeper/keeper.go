// Package keeper drives the engine on a schedule: it closes expired draws,
// re-requests randomness that never arrived, retries unpaid treasury
// payouts and archives settled draws.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	s3blob "github.com/alanyoungcy/drawsettle/internal/blob/s3"
	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Engine is the part of *lottery.Engine the keeper drives.
type Engine interface {
	GetCurrentDraw(ctx context.Context) (domain.Draw, error)
	ListDraws(ctx context.Context, opts domain.ListOpts) ([]domain.Draw, error)
	RequestSettlement(ctx context.Context, drawID uint64, fee domain.Funds) (domain.Draw, error)
	PendingRequests(ctx context.Context) ([]domain.PendingRequest, error)
	UnpaidTransfers(ctx context.Context) (domain.UnpaidTransfers, error)
	RetryTreasuryPayout(ctx context.Context, drawID uint64) error
}

// JobRecorder receives job timings; *metrics.Metrics implements it.
type JobRecorder interface {
	ObserveJob(job string, elapsed time.Duration, err error)
}

// Config holds cron specs (robfig syntax, including "@every 30s") for each
// job. An empty spec disables the job.
type Config struct {
	CloseSpec     string
	RetrySpec     string
	PayoutSpec    string
	ArchiveSpec   string
	OracleFee     domain.Funds
	ArchiveWindow int
	JobTimeout    time.Duration
}

// Job names used in logs and metrics.
const (
	JobCloseExpired  = "close_expired"
	JobRetryRequests = "retry_requests"
	JobRetryPayouts  = "retry_payouts"
	JobArchive       = "archive"
)

// Keeper owns the cron scheduler.
type Keeper struct {
	engine   Engine
	archiver domain.DrawArchiver
	blobs    domain.BlobReader
	cfg      Config
	metrics  JobRecorder
	now      func() time.Time
	logger   *slog.Logger
}

// Option customises a Keeper.
type Option func(*Keeper)

// WithArchive enables the archive job.
func WithArchive(archiver domain.DrawArchiver, blobs domain.BlobReader) Option {
	return func(k *Keeper) {
		k.archiver = archiver
		k.blobs = blobs
	}
}

// WithJobRecorder sets the metrics sink.
func WithJobRecorder(r JobRecorder) Option {
	return func(k *Keeper) { k.metrics = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) { k.now = now }
}

// New creates a Keeper.
func New(engine Engine, cfg Config, logger *slog.Logger, opts ...Option) *Keeper {
	if cfg.ArchiveWindow <= 0 {
		cfg.ArchiveWindow = 20
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	k := &Keeper{
		engine: engine,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "keeper")),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Run schedules the configured jobs and blocks until ctx is cancelled, then
// waits for running jobs to finish.
func (k *Keeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{k.logger}),
		cron.SkipIfStillRunning(cronLogger{k.logger}),
	))

	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{JobCloseExpired, k.cfg.CloseSpec, k.CloseExpired},
		{JobRetryRequests, k.cfg.RetrySpec, k.RetryRequests},
		{JobRetryPayouts, k.cfg.PayoutSpec, k.RetryPayouts},
		{JobArchive, k.cfg.ArchiveSpec, k.ArchiveSettled},
	}
	scheduled := 0
	for _, j := range jobs {
		if j.spec == "" || (j.name == JobArchive && k.archiver == nil) {
			continue
		}
		if _, err := c.AddFunc(j.spec, func() { k.runJob(ctx, j.name, j.fn) }); err != nil {
			return fmt.Errorf("keeper: schedule %s %q: %w", j.name, j.spec, err)
		}
		k.logger.Info("keeper: job scheduled", slog.String("job", j.name), slog.String("spec", j.spec))
		scheduled++
	}
	if scheduled == 0 {
		return errors.New("keeper: no jobs configured")
	}

	c.Start()
	<-ctx.Done()
	k.logger.Info("keeper: stopping")
	<-c.Stop().Done()
	return nil
}

func (k *Keeper) runJob(ctx context.Context, name string, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	jctx, cancel := context.WithTimeout(ctx, k.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := fn(jctx)
	if k.metrics != nil {
		k.metrics.ObserveJob(name, time.Since(start), err)
	}
	if err != nil {
		k.logger.ErrorContext(ctx, "keeper: job failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
	}
}

// CloseExpired requests settlement of the current draw once it has expired.
func (k *Keeper) CloseExpired(ctx context.Context) error {
	d, err := k.engine.GetCurrentDraw(ctx)
	if err != nil {
		return err
	}
	if d.Status != domain.DrawOpen || !d.IsExpired(k.now()) {
		return nil
	}
	if _, err := k.engine.RequestSettlement(ctx, d.ID, k.cfg.OracleFee); err != nil {
		// Another keeper or a user closed it first.
		if errors.Is(err, domain.ErrDrawNotOpen) || errors.Is(err, domain.ErrDrawStillOpen) ||
			errors.Is(err, domain.ErrRandomnessAlreadyRequested) {
			k.logger.DebugContext(ctx, "keeper: close skipped",
				slog.Uint64("draw_id", d.ID),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("close draw %d: %w", d.ID, err)
	}
	k.logger.InfoContext(ctx, "keeper: draw closed", slog.Uint64("draw_id", d.ID))
	return nil
}

// RetryRequests re-issues randomness requests whose timeout has passed.
func (k *Keeper) RetryRequests(ctx context.Context) error {
	pending, err := k.engine.PendingRequests(ctx)
	if err != nil {
		return err
	}
	now := k.now()
	var errs []error
	for _, p := range pending {
		if !p.Expired(now) {
			continue
		}
		_, err := k.engine.RequestSettlement(ctx, p.DrawID, k.cfg.OracleFee)
		switch {
		case err == nil:
			k.logger.WarnContext(ctx, "keeper: randomness re-requested",
				slog.Uint64("draw_id", p.DrawID),
				slog.Int("previous_attempts", p.Attempts),
			)
		case errors.Is(err, domain.ErrRandomnessAlreadyRequested), errors.Is(err, domain.ErrDrawNotOpen):
		default:
			errs = append(errs, fmt.Errorf("re-request draw %d: %w", p.DrawID, err))
		}
	}
	return errors.Join(errs...)
}

// RetryPayouts retries every unpaid treasury payout. Unpaid claims are only
// reported; re-sending a claim could pay a buyer twice.
func (k *Keeper) RetryPayouts(ctx context.Context) error {
	unpaid, err := k.engine.UnpaidTransfers(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range unpaid.Treasury {
		if err := k.engine.RetryTreasuryPayout(ctx, p.DrawID); err != nil {
			errs = append(errs, fmt.Errorf("treasury payout draw %d: %w", p.DrawID, err))
		}
	}
	if n := len(unpaid.Claims); n > 0 {
		k.logger.WarnContext(ctx, "keeper: unpaid claims need reconciliation", slog.Int("count", n))
	}
	return errors.Join(errs...)
}

// ArchiveSettled archives recent claimable draws that have no archive yet.
func (k *Keeper) ArchiveSettled(ctx context.Context) error {
	if k.archiver == nil {
		return nil
	}
	draws, err := k.engine.ListDraws(ctx, domain.ListOpts{Limit: k.cfg.ArchiveWindow})
	if err != nil {
		return err
	}
	var errs []error
	for _, d := range draws {
		if d.Status != domain.DrawClaimable {
			continue
		}
		if k.blobs != nil {
			exists, err := k.blobs.Exists(ctx, s3blob.DrawArchivePath(d.ID))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if exists {
				continue
			}
		}
		path, err := k.archiver.ArchiveDraw(ctx, d.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		k.logger.InfoContext(ctx, "keeper: draw archived",
			slog.Uint64("draw_id", d.ID),
			slog.String("path", path),
		)
	}
	return errors.Join(errs...)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("keeper: cron "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("keeper: cron "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
