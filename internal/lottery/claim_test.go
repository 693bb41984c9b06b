package lottery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

func TestClaim_PaysEachTierOnce(t *testing.T) {
	h := started(t)
	h.buy(1, alice, "844301")
	h.buy(1, bob, "844300")
	h.settle(1, zeroSeed)

	// The treasury fee was the only transfer so far.
	require.Len(t, h.ledger.Calls(), 1)

	got, err := h.eng.Claim(h.ctx, 1, alice)
	require.NoError(t, err)
	assert.Equal(t, "800uusd", got.String())

	got, err = h.eng.Claim(h.ctx, 1, bob)
	require.NoError(t, err)
	assert.Equal(t, "500uusd", got.String())

	_, err = h.eng.Claim(h.ctx, 1, alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	transfers := h.ledger.Calls()
	require.Len(t, transfers, 3)
	assert.Equal(t, alice, transfers[1].To)
	assert.Equal(t, bob, transfers[2].To)
	assert.True(t, h.hasEvent(domain.EventPrizeClaimed, 1))

	unpaid, err := h.eng.UnpaidTransfers(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, unpaid.Claims)
}

func TestClaim_SharedTierNeverOverpays(t *testing.T) {
	h := started(t)
	h.buy(1, alice, "844301")
	h.buy(1, bob, "844301")
	h.buy(1, carol, "844301")
	h.settle(1, zeroSeed)

	// 40% of 3000 split three ways.
	var total uint64
	for _, buyer := range []domain.Identity{alice, bob, carol} {
		got, err := h.eng.Claim(h.ctx, 1, buyer)
		require.NoError(t, err)
		total += got.Amount.Uint64()
	}
	assert.Equal(t, uint64(1200), total)
}

func TestClaim_NoMatches(t *testing.T) {
	h := started(t)
	h.buy(1, alice, "999999")
	h.settle(1, zeroSeed)

	_, err := h.eng.Claim(h.ctx, 1, alice)
	assert.ErrorIs(t, err, domain.ErrNoPrizeToClaim)

	// A rejected claim leaves no record behind.
	unpaid, err := h.eng.UnpaidTransfers(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, unpaid.Claims)
	_, err = h.eng.Claim(h.ctx, 1, alice)
	assert.ErrorIs(t, err, domain.ErrNoPrizeToClaim)
}

func TestClaim_Errors(t *testing.T) {
	h := started(t)
	h.buy(1, alice, "844301")

	_, err := h.eng.Claim(h.ctx, 5, alice)
	assert.ErrorIs(t, err, domain.ErrDrawNotFound)

	_, err = h.eng.Claim(h.ctx, 1, alice)
	assert.ErrorIs(t, err, domain.ErrDrawNotClaimable)

	h.settle(1, zeroSeed)
	_, err = h.eng.Claim(h.ctx, 1, bob)
	assert.ErrorIs(t, err, domain.ErrNoTicketsFound)

	// Pending draws are not claimable either.
	h.buy(2, alice, "844301")
	h.advance(time.Hour)
	_, err = h.eng.RequestSettlement(h.ctx, 2, nil)
	require.NoError(t, err)
	_, err = h.eng.Claim(h.ctx, 2, alice)
	assert.ErrorIs(t, err, domain.ErrDrawNotClaimable)
}

func TestClaim_TransferFailureIsNeverRetriedIntoDoublePay(t *testing.T) {
	h := started(t)
	h.buy(1, alice, "844301")
	h.settle(1, zeroSeed)

	down := errors.New("ledger down")
	h.ledger.SetErr(down)
	_, err := h.eng.Claim(h.ctx, 1, alice)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.ErrorIs(t, err, down)

	unpaid, err := h.eng.UnpaidTransfers(h.ctx)
	require.NoError(t, err)
	require.Len(t, unpaid.Claims, 1)
	assert.Equal(t, alice, unpaid.Claims[0].Buyer)
	assert.Equal(t, "400uusd", unpaid.Claims[0].Amount.String())
	assert.False(t, unpaid.Claims[0].Paid)

	h.ledger.SetErr(nil)
	_, err = h.eng.Claim(h.ctx, 1, alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	// Only the treasury fee ever reached the ledger.
	require.Len(t, h.ledger.Calls(), 1)
	assert.Equal(t, owner, h.ledger.Calls()[0].To)
}
