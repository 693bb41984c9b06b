package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func TestMemoryTransfer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(discard())

	require.NoError(t, m.Transfer(ctx, "0xa", domain.NewCoin(400, "uusd")))
	require.NoError(t, m.Transfer(ctx, "0xa", domain.NewCoin(100, "uusd")))
	require.NoError(t, m.Transfer(ctx, "0xa", domain.NewCoin(7, "unois")))

	bal, err := m.Balance(ctx, "0xa", "uusd")
	require.NoError(t, err)
	assert.Equal(t, "500uusd", bal.String())
	bal, err = m.Balance(ctx, "0xb", "uusd")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	assert.Error(t, m.Transfer(ctx, "0xa", domain.NewCoin(0, "uusd")))
	assert.ErrorIs(t, m.Transfer(ctx, "", domain.NewCoin(1, "uusd")), domain.ErrInvalidAddress)
}

func TestMemoryTransferOverflow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(discard())
	huge := domain.Coin{Denom: "uusd", Amount: new(uint256.Int).SetAllOne()}
	require.NoError(t, m.Transfer(ctx, "0xa", huge))
	assert.ErrorIs(t, m.Transfer(ctx, "0xa", domain.NewCoin(1, "uusd")), domain.ErrArithmeticOverflow)
}

type memTransfers struct {
	entries []domain.TransferEntry
	err     error
}

func (s *memTransfers) Record(_ context.Context, e domain.TransferEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memTransfers) Balance(_ context.Context, who domain.Identity, denom string) (domain.Coin, error) {
	total := new(uint256.Int)
	for _, e := range s.entries {
		if e.Recipient == who && e.Amount.Denom == denom {
			total.Add(total, e.Amount.Amount)
		}
	}
	return domain.Coin{Denom: denom, Amount: total}, nil
}

func (s *memTransfers) ListByRecipient(context.Context, domain.Identity, domain.ListOpts) ([]domain.TransferEntry, error) {
	return s.entries, nil
}

func TestJournalTransfer(t *testing.T) {
	ctx := context.Background()
	store := &memTransfers{}
	j := NewJournal(store, discard())

	require.NoError(t, j.Transfer(ctx, "0xa", domain.NewCoin(800, "uusd")))
	require.NoError(t, j.Transfer(ctx, "0xa", domain.NewCoin(200, "uusd")))
	require.Len(t, store.entries, 2)
	assert.NotEmpty(t, store.entries[0].Reference)
	assert.NotEqual(t, store.entries[0].Reference, store.entries[1].Reference)

	bal, err := j.Balance(ctx, "0xa", "uusd")
	require.NoError(t, err)
	assert.Equal(t, "1000uusd", bal.String())

	store.err = errors.New("connection reset")
	err = j.Transfer(ctx, "0xa", domain.NewCoin(1, "uusd"))
	assert.ErrorContains(t, err, "connection reset")
}
