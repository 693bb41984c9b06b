package lottery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

func TestGetTickets_EmptyForUnknownBuyer(t *testing.T) {
	h := started(t)

	tickets, err := h.eng.GetTickets(h.ctx, 1, bob.String())
	require.NoError(t, err)
	assert.NotNil(t, tickets)
	assert.Empty(t, tickets)

	_, err = h.eng.GetTickets(h.ctx, 1, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = h.eng.GetTickets(h.ctx, 4, bob.String())
	assert.ErrorIs(t, err, domain.ErrDrawNotFound)
}

func TestCheckWinner(t *testing.T) {
	h := started(t)
	h.buy(1, alice, "844301", "804000", "999999")

	res, err := h.eng.CheckWinner(h.ctx, 1, alice.String())
	require.NoError(t, err)
	assert.Empty(t, res, "no result before settlement")

	h.settle(1, zeroSeed)
	res, err = h.eng.CheckWinner(h.ctx, 1, alice.String())
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, uint8(6), res[0].Matches)
	assert.Equal(t, "804000", res[1].TicketNumber)
	assert.Equal(t, uint8(3), res[1].Matches)
	assert.Equal(t, []bool{true, false, true, false, true, false}, res[1].Prediction)
	assert.Equal(t, uint8(0), res[2].Matches)

	res, err = h.eng.CheckWinner(h.ctx, 1, bob.String())
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestListDraws_NewestFirst(t *testing.T) {
	h := started(t)
	for id := uint64(1); id <= 3; id++ {
		h.advance(time.Hour)
		_, err := h.eng.RequestSettlement(h.ctx, id, nil)
		require.NoError(t, err)
	}

	draws, err := h.eng.ListDraws(h.ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, draws, 4)
	assert.Equal(t, uint64(4), draws[0].ID)
	assert.Equal(t, domain.DrawOpen, draws[0].Status)
	assert.Equal(t, uint64(1), draws[3].ID)

	draws, err = h.eng.ListDraws(h.ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, draws, 2)
	assert.Equal(t, uint64(3), draws[0].ID)
	assert.Equal(t, uint64(2), draws[1].ID)

	draws, err = h.eng.ListDraws(h.ctx, domain.ListOpts{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, draws)
}

func TestDrawTickets(t *testing.T) {
	h := started(t)
	h.buy(1, bob, "222222")
	h.buy(1, alice, "111111", "333333")

	purchases, err := h.eng.DrawTickets(h.ctx, 1)
	require.NoError(t, err)
	require.Len(t, purchases, 2)
	// Ordered by buyer key.
	assert.Equal(t, alice, purchases[0].Buyer)
	assert.Equal(t, []string{"111111", "333333"}, purchases[0].Tickets)
	assert.Equal(t, bob, purchases[1].Buyer)

	_, err = h.eng.DrawTickets(h.ctx, 2)
	assert.ErrorIs(t, err, domain.ErrDrawNotFound)
}
