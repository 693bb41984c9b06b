package lottery

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Amount arithmetic panics on overflow. A wrong balance is worse than an
// aborted operation, and the store discards the transaction on panic.

func zero() *uint256.Int { return new(uint256.Int) }

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return zero()
	}
	return x
}

func checked(z *uint256.Int, overflow bool, op string) *uint256.Int {
	if overflow || z.BitLen() > domain.MaxAmountBits {
		panic(fmt.Errorf("lottery: %s: %w", op, domain.ErrArithmeticOverflow))
	}
	return z
}

func add(x, y *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(orZero(x), orZero(y))
	return checked(z, overflow, "add")
}

func sub(x, y *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(orZero(x), orZero(y))
	return checked(z, underflow, "sub")
}

func mulUint64(x *uint256.Int, n uint64) *uint256.Int {
	z, overflow := new(uint256.Int).MulOverflow(orZero(x), uint256.NewInt(n))
	return checked(z, overflow, "mul")
}

// percentOf returns floor(x * pct / 100). The product is held in 256 bits,
// so only the result is subject to the 128-bit cap.
func percentOf(x *uint256.Int, pct uint8) *uint256.Int {
	scaled, overflow := new(uint256.Int).MulOverflow(orZero(x), uint256.NewInt(uint64(pct)))
	if overflow {
		panic(fmt.Errorf("lottery: percent: %w", domain.ErrArithmeticOverflow))
	}
	return checked(scaled.Div(scaled, uint256.NewInt(100)), false, "percent")
}

func addUint64(x, y uint64) uint64 {
	z := x + y
	if z < x {
		panic(fmt.Errorf("lottery: add counter: %w", domain.ErrArithmeticOverflow))
	}
	return z
}

func invariant(format string, args ...any) {
	panic(fmt.Errorf("lottery: "+format+": %w", append(args, domain.ErrInvariant)...))
}
