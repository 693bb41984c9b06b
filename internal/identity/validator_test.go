package identity

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

func TestEthValidator_NormalisesCase(t *testing.T) {
	v := NewEthValidator()

	lower, err := v.Validate("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	upper, err := v.Validate("0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
	require.NoError(t, err)

	assert.Equal(t, lower, upper)
	assert.Equal(t, domain.Identity("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), lower)
}

func TestEthValidator_Rejects(t *testing.T) {
	v := NewEthValidator()
	for _, raw := range []string{
		"",
		"nois1proxy",
		"5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea",
		"0x0000000000000000000000000000000000000000",
	} {
		_, err := v.Validate(raw)
		assert.ErrorIs(t, err, domain.ErrInvalidAddress, raw)
	}
}

func TestFromAddress(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	id, err := NewEthValidator().Validate(addr.Hex())
	require.NoError(t, err)
	assert.Equal(t, FromAddress(addr), id)
}
