package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

// MaxAmountBits caps every stored amount at 128 bits.
const MaxAmountBits = 128

// Coin is an amount of a single denomination.
type Coin struct {
	Denom  string       `json:"denom"`
	Amount *uint256.Int `json:"amount"`
}

// NewCoin builds a Coin from a uint64 amount.
func NewCoin(amount uint64, denom string) Coin {
	return Coin{Denom: denom, Amount: uint256.NewInt(amount)}
}

// ParseCoin builds a Coin from a decimal amount string.
func ParseCoin(amount, denom string) (Coin, error) {
	v, err := uint256.FromDecimal(amount)
	if err != nil {
		return Coin{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if v.BitLen() > MaxAmountBits {
		return Coin{}, fmt.Errorf("amount %q exceeds %d bits", amount, MaxAmountBits)
	}
	return Coin{Denom: denom, Amount: v}, nil
}

// IsZero reports whether the coin carries no value.
func (c Coin) IsZero() bool {
	return c.Amount == nil || c.Amount.IsZero()
}

func (c Coin) String() string {
	if c.Amount == nil {
		return "0" + c.Denom
	}
	return c.Amount.Dec() + c.Denom
}

// Funds is the set of coins attached to an operation.
type Funds []Coin

// Find returns the first coin of the given denomination.
func (f Funds) Find(denom string) (Coin, bool) {
	for _, c := range f {
		if c.Denom == denom {
			return c, true
		}
	}
	return Coin{}, false
}
