package lottery

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Payout returns what the given tickets are owed: for each ticket with m>0
// matches, floor(buckets[m-1] / winners[m-1]).
//
// A ticket with m matches is itself counted in winners[m-1], so a zero count
// there means the draw's settlement data is inconsistent; Payout panics
// rather than under-paying silently.
func Payout(tickets []string, winning string, buckets domain.Buckets, winners domain.WinnerCounts) *uint256.Int {
	total := zero()
	for _, t := range tickets {
		m := Matches(t, winning)
		if m == 0 {
			continue
		}
		n := winners[m-1]
		if n == 0 {
			invariant("ticket %s has %d matches but tier has no winners", t, m)
		}
		share := new(uint256.Int).Div(orZero(buckets[m-1]), uint256.NewInt(n))
		total = add(total, share)
	}
	return total
}

// RolloverBase is the tier money that will not be paid out: buckets with no
// winners plus the truncation remainder of buckets that do have winners.
func RolloverBase(buckets domain.Buckets, winners domain.WinnerCounts) *uint256.Int {
	base := zero()
	for i, b := range buckets {
		b = orZero(b)
		if winners[i] == 0 {
			base = add(base, b)
			continue
		}
		dust := new(uint256.Int).Mod(b, uint256.NewInt(winners[i]))
		base = add(base, dust)
	}
	return base
}

// splitRollover takes the treasury fee out of the rollover base.
func splitRollover(base *uint256.Int, feePercent uint8) (carry, fee *uint256.Int) {
	fee = percentOf(base, feePercent)
	return sub(base, fee), fee
}
