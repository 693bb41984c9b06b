package lottery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		ticket, winning string
		want            uint8
	}{
		{"123456", "123456", 6},
		{"123456", "654321", 0},
		{"123450", "123456", 5},
		{"023456", "123456", 5},
		{"103050", "123456", 3},
		{"000000", "844301", 1},
		{"999999", "844301", 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Matches(c.ticket, c.winning), "%s vs %s", c.ticket, c.winning)
	}
}

func TestPredict(t *testing.T) {
	got := Predict("103050", "123456")
	assert.Equal(t, []bool{true, false, true, false, true, false}, got)
}

func TestCheckTickets(t *testing.T) {
	res := CheckTickets([]string{"123456", "654321"}, "123456")
	require.Len(t, res, 2)
	assert.Equal(t, uint8(6), res[0].Matches)
	assert.Equal(t, "654321", res[1].TicketNumber)
	assert.Equal(t, uint8(0), res[1].Matches)
	assert.Len(t, res[1].Prediction, domain.TicketDigits)
}

func TestCountWinners_OrderIndependent(t *testing.T) {
	a := domain.BuyerTickets{Buyer: "a", Tickets: []string{"123456", "123450"}}
	b := domain.BuyerTickets{Buyer: "b", Tickets: []string{"999999", "123456", "100000"}}

	fwd := CountWinners([]domain.BuyerTickets{a, b}, "123456")
	rev := CountWinners([]domain.BuyerTickets{b, a}, "123456")

	assert.Equal(t, fwd, rev)
	assert.Equal(t, domain.WinnerCounts{1, 0, 0, 0, 1, 2}, fwd)
}

func TestValidateTicket(t *testing.T) {
	for _, ok := range []string{"000000", "999999", "123456"} {
		assert.NoError(t, ValidateTicket(ok), ok)
	}
	for _, bad := range []string{"", "12345", "1234567", "12345a", "-12345", " 12345", "１２３４５６"} {
		assert.ErrorIs(t, ValidateTicket(bad), domain.ErrInvalidTicket, bad)
	}
}
