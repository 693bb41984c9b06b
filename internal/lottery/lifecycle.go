package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// JobID is the oracle job identifier of a draw.
func JobID(drawID uint64) string {
	return strconv.FormatUint(drawID, 10)
}

// RequestSettlement closes an expired draw: it moves to pending, the oracle
// is asked for randomness, and the successor draw opens. For a draw that is
// already pending it re-issues the oracle request once the previous request
// has timed out.
func (e *Engine) RequestSettlement(ctx context.Context, drawID uint64, fee domain.Funds) (draw domain.Draw, err error) {
	start := time.Now()
	defer func() { e.observe("request_settlement", start, err) }()

	release, err := e.acquire(ctx, true)
	if err != nil {
		return draw, err
	}
	defer release()

	now := e.now()
	var (
		successor domain.Draw
		pending   domain.PendingRequest
		retried   bool
	)
	err = e.store.Update(ctx, func(t domain.KVTxn) error {
		cfg, err := loadConfig(ctx, t)
		if err != nil {
			return err
		}
		d, err := loadDraw(ctx, t, drawID)
		if err != nil {
			return err
		}

		switch d.Status {
		case domain.DrawClaimable:
			return fmt.Errorf("draw %d already settled: %w", drawID, domain.ErrDrawNotOpen)

		case domain.DrawPending:
			prev, ok, err := getJSON[domain.PendingRequest](ctx, t, pendingKey(drawID))
			if err != nil {
				return err
			}
			if ok && !prev.Expired(now) {
				return fmt.Errorf("draw %d: request expires %s: %w",
					drawID, prev.ExpiresAt.Format(time.RFC3339), domain.ErrRandomnessAlreadyRequested)
			}
			pending = domain.PendingRequest{
				DrawID:      drawID,
				JobID:       JobID(drawID),
				RequestedAt: now,
				ExpiresAt:   now.Add(cfg.RequestTimeout),
				Attempts:    prev.Attempts + 1,
			}
			if err := putJSON(ctx, t, pendingKey(drawID), pending); err != nil {
				return err
			}
			retried = true

		case domain.DrawOpen:
			if !d.IsExpired(now) {
				return fmt.Errorf("draw %d expires %s: %w", drawID, d.Expiration.Format(time.RFC3339), domain.ErrDrawStillOpen)
			}
			d.Status = domain.DrawPending
			closedAt := now
			d.ClosedAt = &closedAt
			if err := saveDraw(ctx, t, d); err != nil {
				return err
			}
			successor, err = createNextDraw(ctx, t, cfg, now)
			if err != nil {
				return err
			}
			if successor.ID != drawID+1 {
				invariant("closing draw %d created successor %d", drawID, successor.ID)
			}
			pending = domain.PendingRequest{
				DrawID:      drawID,
				JobID:       JobID(drawID),
				RequestedAt: now,
				ExpiresAt:   now.Add(cfg.RequestTimeout),
				Attempts:    1,
			}
			if err := putJSON(ctx, t, pendingKey(drawID), pending); err != nil {
				return err
			}

		default:
			invariant("draw %d has unknown status %q", drawID, d.Status)
		}

		// An oracle error aborts the whole close. A commit that fails after
		// this call leaves the request issued while the draw stays open; a
		// delivery for it is rejected as not pending, and the next close
		// requests again under the same job id.
		if err := e.oracle.RequestRandomness(ctx, pending.JobID, fee); err != nil {
			return fmt.Errorf("request randomness for job %s: %w", pending.JobID, err)
		}
		draw = d
		return nil
	})
	if err != nil {
		return domain.Draw{}, fmt.Errorf("lottery: request settlement: %w", err)
	}

	if retried {
		e.logger.WarnContext(ctx, "lottery_engine: randomness re-requested",
			slog.Uint64("draw_id", drawID),
			slog.Int("attempt", pending.Attempts),
		)
	} else {
		e.logger.InfoContext(ctx, "lottery_engine: draw closed",
			slog.Uint64("draw_id", drawID),
			slog.Uint64("successor_id", successor.ID),
			slog.Uint64("total_tickets", draw.TotalTickets),
			slog.String("pot", orZero(draw.Pot).Dec()),
		)
		e.emit(ctx, domain.Event{Type: domain.EventDrawClosed, DrawID: drawID})
		e.emit(ctx, domain.Event{Type: domain.EventDrawOpened, DrawID: successor.ID})
	}
	e.emit(ctx, domain.Event{
		Type:   domain.EventRandomnessRequested,
		DrawID: drawID,
		Data: map[string]any{
			"job_id":     pending.JobID,
			"attempt":    pending.Attempts,
			"expires_at": pending.ExpiresAt,
		},
	})
	return draw, nil
}

// DeliverRandomness settles a pending draw from an oracle seed. Only the
// configured oracle identity may deliver, and a draw is settled at most
// once. Rollover into the open draw happens in the same transaction; the
// treasury fee transfer follows the commit.
func (e *Engine) DeliverRandomness(ctx context.Context, jobID string, sender domain.Identity, seed []byte) (draw domain.Draw, err error) {
	start := time.Now()
	defer func() { e.observe("deliver_randomness", start, err) }()

	release, err := e.acquire(ctx, true)
	if err != nil {
		return draw, err
	}
	defer release()

	now := e.now()
	var (
		target      domain.Draw
		payout      *domain.TreasuryPayout
		denomSwitch bool
	)
	err = e.store.Update(ctx, func(t domain.KVTxn) error {
		cfg, err := loadConfig(ctx, t)
		if err != nil {
			return err
		}
		if sender != cfg.Oracle {
			return fmt.Errorf("sender %s is not the oracle: %w", sender, domain.ErrUnauthorized)
		}
		drawID, err := strconv.ParseUint(jobID, 10, 64)
		if err != nil {
			return fmt.Errorf("job id %q: %w", jobID, domain.ErrInvalidRandomness)
		}
		winning, err := WinningNumber(seed)
		if err != nil {
			return err
		}
		d, err := loadDraw(ctx, t, drawID)
		if err != nil {
			return err
		}
		if d.Status != domain.DrawPending {
			return fmt.Errorf("draw %d is %s: %w", drawID, d.Status, domain.ErrDrawNotPending)
		}
		if d.IsSettled() {
			invariant("pending draw %d already has an outcome", drawID)
		}

		purchases, err := scanTickets(ctx, t, drawID)
		if err != nil {
			return err
		}
		winners := CountWinners(purchases, winning)
		buckets := bucketsOf(d, cfg.PercentagePerMatch)

		settledAt := now
		d.WinningNumber = &winning
		d.WinnersPerMatch = &winners
		d.PrizePerMatch = &buckets
		d.Status = domain.DrawClaimable
		d.SettledAt = &settledAt

		target, err = rolloverTarget(ctx, t, drawID)
		if err != nil {
			return err
		}
		carry, fee := splitRollover(RolloverBase(buckets, winners), cfg.TreasuryFeePercent)
		if target.TicketPrice.Denom != d.TicketPrice.Denom {
			// A pot only ever holds its own denomination; the whole
			// rollover goes to the treasury instead.
			fee = add(fee, carry)
			carry = zero()
			denomSwitch = true
		}
		d.Rollover = carry
		d.TreasuryFee = fee
		if err := saveDraw(ctx, t, d); err != nil {
			return err
		}

		target.Pot = add(target.Pot, carry)
		tb := Partition(target.Pot, cfg.PercentagePerMatch)
		target.PrizePerMatch = &tb
		if err := saveDraw(ctx, t, target); err != nil {
			return err
		}

		if !fee.IsZero() {
			payout = &domain.TreasuryPayout{
				DrawID:    drawID,
				Recipient: cfg.Owner,
				Amount:    domain.Coin{Denom: d.TicketPrice.Denom, Amount: fee},
				CreatedAt: now,
			}
			if err := putJSON(ctx, t, treasuryKey(drawID), payout); err != nil {
				return err
			}
		}
		if err := t.Delete(ctx, pendingKey(drawID)); err != nil {
			return err
		}
		draw = d
		return nil
	})
	if err != nil {
		return domain.Draw{}, fmt.Errorf("lottery: deliver randomness: %w", err)
	}

	e.logger.InfoContext(ctx, "lottery_engine: draw settled",
		slog.Uint64("draw_id", draw.ID),
		slog.String("winning_number", *draw.WinningNumber),
		slog.Any("winners_per_match", *draw.WinnersPerMatch),
		slog.String("rollover", draw.Rollover.Dec()),
		slog.Uint64("rollover_into", target.ID),
		slog.String("treasury_fee", draw.TreasuryFee.Dec()),
	)
	if denomSwitch {
		e.logger.WarnContext(ctx, "lottery_engine: successor uses another denomination, rollover sent to treasury",
			slog.Uint64("draw_id", draw.ID),
			slog.Uint64("rollover_into", target.ID),
			slog.String("from_denom", draw.TicketPrice.Denom),
			slog.String("to_denom", target.TicketPrice.Denom),
		)
	}
	e.metrics.DrawSettled(*draw.WinnersPerMatch)
	e.auditLog(ctx, "lottery.draw_settled", map[string]any{
		"draw_id":        draw.ID,
		"winning_number": *draw.WinningNumber,
		"winners":        draw.WinnersPerMatch[:],
		"pot":            orZero(draw.Pot).Dec(),
		"rollover":       draw.Rollover.Dec(),
		"rollover_into":  target.ID,
		"treasury_fee":   draw.TreasuryFee.Dec(),
	})
	e.emit(ctx, domain.Event{
		Type:   domain.EventDrawSettled,
		DrawID: draw.ID,
		Data: map[string]any{
			"winning_number":    *draw.WinningNumber,
			"winners_per_match": draw.WinnersPerMatch[:],
			"rollover":          draw.Rollover.Dec(),
			"rollover_into":     target.ID,
		},
	})

	if payout != nil {
		if err := e.payTreasury(ctx, *payout); err != nil {
			e.logger.ErrorContext(ctx, "lottery_engine: treasury transfer failed, left for reconciliation",
				slog.Uint64("draw_id", draw.ID),
				slog.String("amount", payout.Amount.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return draw, nil
}

// rolloverTarget returns the draw that receives drawID's rollover: its
// successor while that is still open, otherwise the newest draw, which is
// always the open one.
func rolloverTarget(ctx context.Context, t domain.KVTxn, drawID uint64) (domain.Draw, error) {
	next, err := loadDraw(ctx, t, drawID+1)
	if errors.Is(err, domain.ErrDrawNotFound) {
		invariant("pending draw %d has no successor", drawID)
	}
	if err != nil {
		return next, err
	}
	if next.Status == domain.DrawOpen {
		return next, nil
	}
	idx, err := loadDrawIndex(ctx, t)
	if err != nil {
		return domain.Draw{}, err
	}
	latest, err := loadDraw(ctx, t, idx)
	if err != nil {
		return latest, err
	}
	if latest.Status != domain.DrawOpen {
		invariant("newest draw %d is %s", latest.ID, latest.Status)
	}
	return latest, nil
}

// payTreasury transfers a recorded fee and marks it paid. Called with the
// engine lock held.
func (e *Engine) payTreasury(ctx context.Context, p domain.TreasuryPayout) error {
	if err := e.ledger.Transfer(ctx, p.Recipient, p.Amount); err != nil {
		e.metrics.TransferFailed("treasury")
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	err := e.store.Update(ctx, func(t domain.KVTxn) error {
		p.Paid = true
		return putJSON(ctx, t, treasuryKey(p.DrawID), p)
	})
	if err != nil {
		return fmt.Errorf("mark treasury payout %d paid: %w", p.DrawID, err)
	}
	e.auditLog(ctx, "lottery.treasury_paid", map[string]any{
		"draw_id":   p.DrawID,
		"recipient": p.Recipient.String(),
		"amount":    p.Amount.String(),
	})
	e.emit(ctx, domain.Event{
		Type:   domain.EventTreasuryPaid,
		DrawID: p.DrawID,
		Actor:  p.Recipient,
		Data:   map[string]any{"amount": p.Amount.Amount.Dec(), "denom": p.Amount.Denom},
	})
	return nil
}

// RetryTreasuryPayout re-attempts an unpaid treasury transfer for drawID.
// It is a no-op when the payout is already marked paid.
func (e *Engine) RetryTreasuryPayout(ctx context.Context, drawID uint64) (err error) {
	start := time.Now()
	defer func() { e.observe("retry_treasury_payout", start, err) }()

	release, err := e.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer release()

	var p domain.TreasuryPayout
	err = e.store.View(ctx, func(r domain.KVReader) error {
		var ok bool
		var err error
		p, ok, err = getJSON[domain.TreasuryPayout](ctx, r, treasuryKey(drawID))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("treasury payout for draw %d: %w", drawID, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("lottery: retry treasury payout: %w", err)
	}
	if p.Paid {
		return nil
	}
	if err := e.payTreasury(ctx, p); err != nil {
		return fmt.Errorf("lottery: retry treasury payout: %w", err)
	}
	return nil
}

// amountFloat is used for metrics only.
func amountFloat(x *uint256.Int) float64 {
	return orZero(x).Float64()
}
