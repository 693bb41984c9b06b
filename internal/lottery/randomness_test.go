package lottery

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

func seqSeed(start byte) []byte {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = start + byte(i)
	}
	return seed
}

func TestWinningNumber_KnownVectors(t *testing.T) {
	cases := []struct {
		seed []byte
		want string
	}{
		{make([]byte, SeedSize), "844301"},
		{seqSeed(1), "756980"},
		{bytes.Repeat([]byte{0xff}, SeedSize), "642574"},
	}
	for _, c := range cases {
		got, err := WinningNumber(c.seed)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
		assert.NoError(t, ValidateTicket(got))
	}
}

func TestWinningNumber_Deterministic(t *testing.T) {
	seed := seqSeed(42)
	a, err := WinningNumber(seed)
	require.NoError(t, err)
	b, err := WinningNumber(seed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestWinningNumber_RejectsBadLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		_, err := WinningNumber(make([]byte, n))
		assert.ErrorIs(t, err, domain.ErrInvalidRandomness, "len %d", n)
	}
}

func TestWinningNumber_DigitsRoughlyUniform(t *testing.T) {
	var counts [10]int
	for i := 0; i < 2000; i++ {
		seed := make([]byte, SeedSize)
		seed[0], seed[1] = byte(i), byte(i>>8)
		w, err := WinningNumber(seed)
		require.NoError(t, err)
		for _, c := range w {
			counts[c-'0']++
		}
	}
	// 12000 digits, 1200 expected per value.
	for d, n := range counts {
		assert.InDelta(t, 1200, n, 200, "digit %d", d)
	}
}
