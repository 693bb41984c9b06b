package handler

import (
	"context"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Engine is the subset of *lottery.Engine the HTTP API calls.
type Engine interface {
	GetConfig(ctx context.Context) (domain.Config, error)
	UpdateConfig(ctx context.Context, sender domain.Identity, upd domain.ConfigUpdate) (domain.Config, error)

	GetDraw(ctx context.Context, id uint64) (domain.Draw, error)
	GetCurrentDraw(ctx context.Context) (domain.Draw, error)
	ListDraws(ctx context.Context, opts domain.ListOpts) ([]domain.Draw, error)
	GetTickets(ctx context.Context, id uint64, buyer string) ([]string, error)
	CheckWinner(ctx context.Context, id uint64, buyer string) ([]domain.TicketResult, error)

	BuyTickets(ctx context.Context, drawID uint64, buyer domain.Identity, tickets []string, funds domain.Funds) (domain.Draw, error)
	RequestSettlement(ctx context.Context, drawID uint64, fee domain.Funds) (domain.Draw, error)
	DeliverRandomness(ctx context.Context, jobID string, sender domain.Identity, seed []byte) (domain.Draw, error)
	Claim(ctx context.Context, drawID uint64, buyer domain.Identity) (domain.Coin, error)

	UnpaidTransfers(ctx context.Context) (domain.UnpaidTransfers, error)
	RetryTreasuryPayout(ctx context.Context, drawID uint64) error
}
