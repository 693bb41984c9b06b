package oracle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/drawsettle/internal/crypto"
	"github.com/alanyoungcy/drawsettle/internal/domain"
)

const seedLen = 32

// LocalOracle answers randomness requests in process. Each request is
// answered once, after delay, with a fresh crypto/rand seed signed by the
// oracle key. Deliveries go through a Verifier exactly like remote ones.
type LocalOracle struct {
	signer   *crypto.Signer
	verifier *Verifier
	delay    time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	dst    Deliverer
	closed bool
	wg     sync.WaitGroup
}

// NewLocalOracle creates a LocalOracle. Call Bind before the first request.
func NewLocalOracle(signer *crypto.Signer, verifier *Verifier, delay time.Duration, logger *slog.Logger) *LocalOracle {
	return &LocalOracle{
		signer:   signer,
		verifier: verifier,
		delay:    delay,
		timeout:  30 * time.Second,
		logger:   logger.With(slog.String("component", "local_oracle")),
	}
}

// Address is the identity deliveries are attributed to; configure it as the
// engine's oracle.
func (o *LocalOracle) Address() domain.Identity {
	return domain.Identity(o.signer.Address().Hex())
}

// Bind sets where deliveries go.
func (o *LocalOracle) Bind(dst Deliverer) {
	o.mu.Lock()
	o.dst = dst
	o.mu.Unlock()
}

// RequestRandomness implements domain.RandomnessOracle. It never calls back
// synchronously: the engine holds its lock while requesting.
func (o *LocalOracle) RequestRandomness(ctx context.Context, jobID string, _ domain.Funds) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("oracle: local oracle closed")
	}
	if o.dst == nil {
		return errors.New("oracle: local oracle not bound")
	}

	seed := make([]byte, seedLen)
	if _, err := rand.Read(seed); err != nil {
		return fmt.Errorf("oracle: seed: %w", err)
	}
	d, err := Seal(o.signer, jobID, seed)
	if err != nil {
		return fmt.Errorf("oracle: seal job %s: %w", jobID, err)
	}

	dst := o.dst
	o.wg.Add(1)
	time.AfterFunc(o.delay, func() {
		defer o.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		draw, err := o.verifier.Deliver(dctx, dst, d)
		if err != nil {
			o.logger.WarnContext(dctx, "local_oracle: delivery rejected",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return
		}
		o.logger.InfoContext(dctx, "local_oracle: delivered",
			slog.String("job_id", jobID),
			slog.Uint64("draw_id", draw.ID),
		)
	})
	return nil
}

// Close refuses new requests and waits for scheduled deliveries.
func (o *LocalOracle) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
}

var _ domain.RandomnessOracle = (*LocalOracle)(nil)
