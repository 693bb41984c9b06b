package lottery

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

// Partition splits pot into per-tier buckets, bucket[i] = floor(pot*pct[i]/100).
func Partition(pot *uint256.Int, pct [domain.MatchTiers]uint8) domain.Buckets {
	var b domain.Buckets
	for i, p := range pct {
		b[i] = percentOf(pot, p)
	}
	return b
}

// bucketsOf returns the draw's stored buckets, or a zero split when no
// purchase or rollover has set them yet.
func bucketsOf(d domain.Draw, pct [domain.MatchTiers]uint8) domain.Buckets {
	if d.PrizePerMatch != nil {
		b := *d.PrizePerMatch
		for i := range b {
			b[i] = orZero(b[i])
		}
		return b
	}
	return Partition(orZero(d.Pot), pct)
}

// sumBuckets adds every bucket together.
func sumBuckets(b domain.Buckets) *uint256.Int {
	total := zero()
	for _, v := range b {
		total = add(total, v)
	}
	return total
}
