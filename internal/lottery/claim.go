package lottery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Claim pays buyer's winnings for a settled draw, at most once per
// (draw, buyer).
//
// The claim record is committed before the ledger transfer. If the transfer
// fails, or the process dies before it completes, the record stays with
// Paid=false: the buyer can never be paid twice, but may be under-paid until
// an operator reconciles the entries listed by UnpaidTransfers.
func (e *Engine) Claim(ctx context.Context, drawID uint64, buyer domain.Identity) (amount domain.Coin, err error) {
	start := time.Now()
	defer func() { e.observe("claim", start, err) }()

	release, err := e.acquire(ctx, true)
	if err != nil {
		return amount, err
	}
	defer release()

	now := e.now()
	var record domain.ClaimRecord
	err = e.store.Update(ctx, func(t domain.KVTxn) error {
		if _, err := loadConfig(ctx, t); err != nil {
			return err
		}
		d, err := loadDraw(ctx, t, drawID)
		if err != nil {
			return err
		}
		if d.Status != domain.DrawClaimable {
			return fmt.Errorf("draw %d is %s: %w", drawID, d.Status, domain.ErrDrawNotClaimable)
		}
		if !d.IsSettled() || d.PrizePerMatch == nil {
			invariant("claimable draw %d has no outcome", drawID)
		}

		if _, claimed, err := getJSON[domain.ClaimRecord](ctx, t, claimKey(drawID, buyer)); err != nil {
			return err
		} else if claimed {
			return fmt.Errorf("draw %d buyer %s: %w", drawID, buyer, domain.ErrAlreadyClaimed)
		}

		tickets, err := loadTickets(ctx, t, drawID, buyer)
		if err != nil {
			return err
		}
		if len(tickets) == 0 {
			return fmt.Errorf("draw %d buyer %s: %w", drawID, buyer, domain.ErrNoTicketsFound)
		}

		won := Payout(tickets, *d.WinningNumber, *d.PrizePerMatch, *d.WinnersPerMatch)
		if won.IsZero() {
			return fmt.Errorf("draw %d buyer %s: %w", drawID, buyer, domain.ErrNoPrizeToClaim)
		}
		record = domain.ClaimRecord{
			DrawID:    drawID,
			Buyer:     buyer,
			Amount:    domain.Coin{Denom: d.TicketPrice.Denom, Amount: won},
			ClaimedAt: now,
		}
		return putJSON(ctx, t, claimKey(drawID, buyer), record)
	})
	if err != nil {
		return domain.Coin{}, fmt.Errorf("lottery: claim: %w", err)
	}

	if err := e.ledger.Transfer(ctx, buyer, record.Amount); err != nil {
		e.metrics.TransferFailed("claim")
		e.logger.ErrorContext(ctx, "lottery_engine: claim transfer failed, record left unpaid",
			slog.Uint64("draw_id", drawID),
			slog.String("buyer", buyer.String()),
			slog.String("amount", record.Amount.String()),
			slog.String("error", err.Error()),
		)
		return domain.Coin{}, fmt.Errorf("lottery: claim: %w: %w", domain.ErrTransferFailed, err)
	}

	err = e.store.Update(ctx, func(t domain.KVTxn) error {
		record.Paid = true
		return putJSON(ctx, t, claimKey(drawID, buyer), record)
	})
	if err != nil {
		// The transfer went through; only the paid flag is stale.
		e.logger.WarnContext(ctx, "lottery_engine: mark claim paid failed",
			slog.Uint64("draw_id", drawID),
			slog.String("buyer", buyer.String()),
			slog.String("error", err.Error()),
		)
	}

	e.logger.InfoContext(ctx, "lottery_engine: prize claimed",
		slog.Uint64("draw_id", drawID),
		slog.String("buyer", buyer.String()),
		slog.String("amount", record.Amount.String()),
	)
	e.metrics.PrizeClaimed(record.Amount.Denom, amountFloat(record.Amount.Amount))
	e.auditLog(ctx, "lottery.prize_claimed", map[string]any{
		"draw_id": drawID,
		"buyer":   buyer.String(),
		"amount":  record.Amount.String(),
	})
	e.emit(ctx, domain.Event{
		Type:   domain.EventPrizeClaimed,
		DrawID: drawID,
		Actor:  buyer,
		Data:   map[string]any{"amount": record.Amount.Amount.Dec(), "denom": record.Amount.Denom},
	})
	return record.Amount, nil
}
