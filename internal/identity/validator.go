// Package identity validates participant and operator addresses.
package identity

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// EthValidator accepts 0x-prefixed 20-byte hex addresses and normalises
// them to their EIP-55 checksummed form so that one account always maps to
// one Identity regardless of input casing.
type EthValidator struct {
	allowZero bool
}

// NewEthValidator creates a validator that rejects the zero address.
func NewEthValidator() *EthValidator {
	return &EthValidator{}
}

// Validate implements domain.IdentityValidator.
func (v *EthValidator) Validate(raw string) (domain.Identity, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("identity: %q: missing 0x prefix: %w", raw, domain.ErrInvalidAddress)
	}
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("identity: %q: %w", raw, domain.ErrInvalidAddress)
	}
	addr := common.HexToAddress(s)
	if !v.allowZero && addr == (common.Address{}) {
		return "", fmt.Errorf("identity: zero address: %w", domain.ErrInvalidAddress)
	}
	return domain.Identity(addr.Hex()), nil
}

// FromAddress converts an already-parsed address into an Identity.
func FromAddress(addr common.Address) domain.Identity {
	return domain.Identity(addr.Hex())
}

var _ domain.IdentityValidator = (*EthValidator)(nil)
