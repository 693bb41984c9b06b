package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// BuyTickets records tickets for buyer in an open draw. Checks run in a
// fixed order: draw open, ticket format, per-buyer cap, then funds. Funds
// above the required amount are accepted without refund.
func (e *Engine) BuyTickets(ctx context.Context, drawID uint64, buyer domain.Identity, tickets []string, funds domain.Funds) (draw domain.Draw, err error) {
	start := time.Now()
	defer func() { e.observe("buy_tickets", start, err) }()

	release, err := e.acquire(ctx, true)
	if err != nil {
		return draw, err
	}
	defer release()

	now := e.now()
	var required, excess *uint256.Int
	err = e.store.Update(ctx, func(t domain.KVTxn) error {
		cfg, err := loadConfig(ctx, t)
		if err != nil {
			return err
		}
		d, err := loadDraw(ctx, t, drawID)
		if errors.Is(err, domain.ErrDrawNotFound) {
			return fmt.Errorf("draw %d does not exist: %w", drawID, domain.ErrDrawNotOpen)
		}
		if err != nil {
			return err
		}
		if d.Status != domain.DrawOpen || d.IsExpired(now) {
			return fmt.Errorf("draw %d is %s, expires %s: %w", drawID, d.Status, d.Expiration.Format(time.RFC3339), domain.ErrDrawNotOpen)
		}

		if len(tickets) == 0 {
			return fmt.Errorf("no tickets: %w", domain.ErrInvalidTicket)
		}
		for _, tk := range tickets {
			if err := ValidateTicket(tk); err != nil {
				return err
			}
		}

		existing, err := loadTickets(ctx, t, drawID, buyer)
		if err != nil {
			return err
		}
		if uint64(len(existing))+uint64(len(tickets)) > uint64(cfg.MaxTicketsPerUser) {
			return fmt.Errorf("holding %d, buying %d, cap %d: %w",
				len(existing), len(tickets), cfg.MaxTicketsPerUser, domain.ErrMaxTicketsExceeded)
		}

		required = mulUint64(d.TicketPrice.Amount, uint64(len(tickets)))
		sent, ok := funds.Find(d.TicketPrice.Denom)
		if !ok {
			return fmt.Errorf("want %s: %w", d.TicketPrice.Denom, domain.ErrWrongDenomination)
		}
		if orZero(sent.Amount).Lt(required) {
			return fmt.Errorf("sent %s, need %s%s: %w", sent, required.Dec(), d.TicketPrice.Denom, domain.ErrInsufficientFunds)
		}
		excess = sub(sent.Amount, required)

		all := make([]string, 0, len(existing)+len(tickets))
		all = append(all, existing...)
		all = append(all, tickets...)
		if err := putJSON(ctx, t, ticketsKey(drawID, buyer), all); err != nil {
			return err
		}

		d.TotalTickets = addUint64(d.TotalTickets, uint64(len(tickets)))
		d.Pot = add(d.Pot, required)
		buckets := Partition(d.Pot, cfg.PercentagePerMatch)
		d.PrizePerMatch = &buckets
		if err := saveDraw(ctx, t, d); err != nil {
			return err
		}
		draw = d
		return nil
	})
	if err != nil {
		return domain.Draw{}, fmt.Errorf("lottery: buy tickets: %w", err)
	}

	e.logger.InfoContext(ctx, "lottery_engine: tickets purchased",
		slog.Uint64("draw_id", drawID),
		slog.String("buyer", buyer.String()),
		slog.Int("count", len(tickets)),
		slog.String("paid", required.Dec()),
		slog.String("pot", draw.Pot.Dec()),
	)
	if !excess.IsZero() {
		e.logger.WarnContext(ctx, "lottery_engine: overpayment accepted",
			slog.Uint64("draw_id", drawID),
			slog.String("buyer", buyer.String()),
			slog.String("excess", excess.Dec()),
		)
	}
	e.metrics.TicketsSold(draw.TicketPrice.Denom, len(tickets), required.Float64())
	e.emit(ctx, domain.Event{
		Type:   domain.EventTicketsPurchased,
		DrawID: drawID,
		Actor:  buyer,
		Data: map[string]any{
			"count":  len(tickets),
			"paid":   required.Dec(),
			"excess": excess.Dec(),
			"pot":    draw.Pot.Dec(),
		},
	})
	return draw, nil
}
