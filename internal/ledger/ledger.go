// Package ledger implements domain.Ledger. Memory keeps balances in process
// for development and tests; Journal appends every transfer to a
// domain.TransferStore (the Postgres ledger_transfers table in production).
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Balances is implemented by ledgers that can report what a recipient holds.
type Balances interface {
	Balance(ctx context.Context, who domain.Identity, denom string) (domain.Coin, error)
}

// Memory is an in-process ledger.
type Memory struct {
	mu       sync.Mutex
	balances map[domain.Identity]map[string]*uint256.Int
	logger   *slog.Logger
}

// NewMemory creates an empty Memory ledger.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		balances: make(map[domain.Identity]map[string]*uint256.Int),
		logger:   logger.With(slog.String("component", "memory_ledger")),
	}
}

// Transfer credits amount to the recipient.
func (m *Memory) Transfer(ctx context.Context, to domain.Identity, amount domain.Coin) error {
	if to == "" {
		return fmt.Errorf("ledger: transfer: %w", domain.ErrInvalidAddress)
	}
	if amount.IsZero() {
		return fmt.Errorf("ledger: transfer to %s: zero amount", to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	byDenom, ok := m.balances[to]
	if !ok {
		byDenom = make(map[string]*uint256.Int)
		m.balances[to] = byDenom
	}
	cur, ok := byDenom[amount.Denom]
	if !ok {
		cur = new(uint256.Int)
	}
	next, overflow := new(uint256.Int).AddOverflow(cur, amount.Amount)
	if overflow {
		return fmt.Errorf("ledger: transfer to %s: %w", to, domain.ErrArithmeticOverflow)
	}
	byDenom[amount.Denom] = next

	m.logger.DebugContext(ctx, "memory_ledger: transfer",
		slog.String("to", to.String()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Balance returns the recipient's total in denom.
func (m *Memory) Balance(_ context.Context, who domain.Identity, denom string) (domain.Coin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.balances[who][denom]; ok {
		return domain.Coin{Denom: denom, Amount: new(uint256.Int).Set(v)}, nil
	}
	return domain.Coin{Denom: denom, Amount: new(uint256.Int)}, nil
}

// Journal records transfers in a TransferStore. Settlement happens
// downstream of the journal; a recorded row is a completed transfer from
// the engine's point of view.
type Journal struct {
	store  domain.TransferStore
	logger *slog.Logger
}

// NewJournal creates a Journal over store.
func NewJournal(store domain.TransferStore, logger *slog.Logger) *Journal {
	return &Journal{
		store:  store,
		logger: logger.With(slog.String("component", "journal_ledger")),
	}
}

// Transfer appends a journal row with a fresh reference.
func (j *Journal) Transfer(ctx context.Context, to domain.Identity, amount domain.Coin) error {
	ref := uuid.NewString()
	if err := j.store.Record(ctx, domain.TransferEntry{
		Recipient: to,
		Amount:    amount,
		Reference: ref,
	}); err != nil {
		return fmt.Errorf("ledger: journal transfer to %s: %w", to, err)
	}
	j.logger.InfoContext(ctx, "journal_ledger: transfer recorded",
		slog.String("to", to.String()),
		slog.String("amount", amount.String()),
		slog.String("reference", ref),
	)
	return nil
}

// Balance sums the recipient's journal rows.
func (j *Journal) Balance(ctx context.Context, who domain.Identity, denom string) (domain.Coin, error) {
	return j.store.Balance(ctx, who, denom)
}

var (
	_ domain.Ledger = (*Memory)(nil)
	_ domain.Ledger = (*Journal)(nil)
	_ Balances      = (*Memory)(nil)
	_ Balances      = (*Journal)(nil)
)
