package lottery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// view runs fn under the engine mutex against a read snapshot.
func (e *Engine) view(ctx context.Context, fn func(domain.KVReader) error) error {
	release, err := e.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer release()
	return e.store.View(ctx, fn)
}

// GetConfig returns the current configuration.
func (e *Engine) GetConfig(ctx context.Context) (cfg domain.Config, err error) {
	err = e.view(ctx, func(r domain.KVReader) error {
		cfg, err = loadConfig(ctx, r)
		return err
	})
	if err != nil {
		return domain.Config{}, fmt.Errorf("lottery: get config: %w", err)
	}
	return cfg, nil
}

// GetDraw returns a draw by id.
func (e *Engine) GetDraw(ctx context.Context, id uint64) (d domain.Draw, err error) {
	err = e.view(ctx, func(r domain.KVReader) error {
		d, err = loadDraw(ctx, r, id)
		return err
	})
	if err != nil {
		return domain.Draw{}, fmt.Errorf("lottery: get draw: %w", err)
	}
	return d, nil
}

// GetCurrentDraw returns the newest draw, which is the one accepting tickets.
func (e *Engine) GetCurrentDraw(ctx context.Context) (d domain.Draw, err error) {
	err = e.view(ctx, func(r domain.KVReader) error {
		if _, err := loadConfig(ctx, r); err != nil {
			return err
		}
		idx, err := loadDrawIndex(ctx, r)
		if err != nil {
			return err
		}
		d, err = loadDraw(ctx, r, idx)
		return err
	})
	if err != nil {
		return domain.Draw{}, fmt.Errorf("lottery: get current draw: %w", err)
	}
	return d, nil
}

// GetTickets returns the tickets rawBuyer holds in a draw, empty when none.
func (e *Engine) GetTickets(ctx context.Context, id uint64, rawBuyer string) ([]string, error) {
	buyer, err := e.validator.Validate(rawBuyer)
	if err != nil {
		return nil, fmt.Errorf("lottery: get tickets: %w", err)
	}
	var tickets []string
	err = e.view(ctx, func(r domain.KVReader) error {
		if _, err := loadDraw(ctx, r, id); err != nil {
			return err
		}
		tickets, err = loadTickets(ctx, r, id, buyer)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("lottery: get tickets: %w", err)
	}
	if tickets == nil {
		tickets = []string{}
	}
	return tickets, nil
}

// CheckWinner classifies rawBuyer's tickets against the draw's winning
// number. The result is empty until the draw is settled.
func (e *Engine) CheckWinner(ctx context.Context, id uint64, rawBuyer string) ([]domain.TicketResult, error) {
	buyer, err := e.validator.Validate(rawBuyer)
	if err != nil {
		return nil, fmt.Errorf("lottery: check winner: %w", err)
	}
	var (
		d       domain.Draw
		tickets []string
	)
	err = e.view(ctx, func(r domain.KVReader) error {
		d, err = loadDraw(ctx, r, id)
		if err != nil {
			return err
		}
		tickets, err = loadTickets(ctx, r, id, buyer)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("lottery: check winner: %w", err)
	}
	if d.WinningNumber == nil {
		return []domain.TicketResult{}, nil
	}
	return CheckTickets(tickets, *d.WinningNumber), nil
}

// ListDraws returns draws newest first.
func (e *Engine) ListDraws(ctx context.Context, opts domain.ListOpts) ([]domain.Draw, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []domain.Draw
	err := e.view(ctx, func(r domain.KVReader) error {
		idx, err := loadDrawIndex(ctx, r)
		if err != nil {
			return err
		}
		skip := uint64(max(opts.Offset, 0))
		if skip >= idx {
			return nil
		}
		for id := idx - skip; id >= 1 && len(out) < limit; id-- {
			d, err := loadDraw(ctx, r, id)
			if err != nil {
				return err
			}
			if opts.Since != nil && d.CreatedAt.Before(*opts.Since) {
				break
			}
			if opts.Until != nil && d.CreatedAt.After(*opts.Until) {
				continue
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lottery: list draws: %w", err)
	}
	return out, nil
}

// DrawTickets returns every buyer's tickets in a draw, ordered by buyer.
func (e *Engine) DrawTickets(ctx context.Context, id uint64) (purchases []domain.BuyerTickets, err error) {
	err = e.view(ctx, func(r domain.KVReader) error {
		if _, err := loadDraw(ctx, r, id); err != nil {
			return err
		}
		purchases, err = scanTickets(ctx, r, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("lottery: draw tickets: %w", err)
	}
	return purchases, nil
}

// PendingRequests lists outstanding randomness requests, oldest draw first.
func (e *Engine) PendingRequests(ctx context.Context) ([]domain.PendingRequest, error) {
	var out []domain.PendingRequest
	err := e.view(ctx, func(r domain.KVReader) error {
		return r.Iterate(ctx, prefixPending, func(key, value []byte) error {
			var p domain.PendingRequest
			if err := json.Unmarshal(value, &p); err != nil {
				return fmt.Errorf("decode %q: %w", key, err)
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("lottery: pending requests: %w", err)
	}
	return out, nil
}

// UnpaidTransfers lists claim and treasury records whose ledger transfer was
// never confirmed.
func (e *Engine) UnpaidTransfers(ctx context.Context) (domain.UnpaidTransfers, error) {
	out := domain.UnpaidTransfers{
		Claims:   []domain.ClaimRecord{},
		Treasury: []domain.TreasuryPayout{},
	}
	err := e.view(ctx, func(r domain.KVReader) error {
		err := r.Iterate(ctx, prefixClaims, func(key, value []byte) error {
			var c domain.ClaimRecord
			if err := json.Unmarshal(value, &c); err != nil {
				return fmt.Errorf("decode %q: %w", key, err)
			}
			if !c.Paid {
				out.Claims = append(out.Claims, c)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return r.Iterate(ctx, prefixTreasury, func(key, value []byte) error {
			var p domain.TreasuryPayout
			if err := json.Unmarshal(value, &p); err != nil {
				return fmt.Errorf("decode %q: %w", key, err)
			}
			if !p.Paid {
				out.Treasury = append(out.Treasury, p)
			}
			return nil
		})
	})
	if err != nil {
		return domain.UnpaidTransfers{}, fmt.Errorf("lottery: unpaid transfers: %w", err)
	}
	return out, nil
}
