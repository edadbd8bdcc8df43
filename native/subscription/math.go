package subscription

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	bpsDenominator = 10_000
	// maxFeeBps bounds the protocol share of a withdrawal.
	maxFeeBps = 1_250
	// maxRewardHalvings keeps the initial multiplier within 2^32.
	maxRewardHalvings = 32
)

func newBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func bigUint(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// fitsWord reports whether v is a non-negative value representable in 256 bits.
func fitsWord(v *big.Int) bool {
	if v == nil || v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}

// expiry returns offset + accumulated.
func expiry(offset uint64, accumulated *big.Int) *big.Int {
	return new(big.Int).Add(bigUint(offset), newBigInt(accumulated))
}

// remaining returns max(0, offset + accumulated - now).
func remaining(offset uint64, accumulated *big.Int, now uint64) *big.Int {
	left := expiry(offset, accumulated)
	left.Sub(left, bigUint(now))
	if left.Sign() < 0 {
		return big.NewInt(0)
	}
	return left
}

// extend adds seconds to an accumulator. When the accumulated time has fully
// elapsed the offset is moved to now - accumulated first, so the new seconds
// count from now rather than from the stale offset.
func extend(offset uint64, accumulated, seconds *big.Int, now uint64) (uint64, *big.Int) {
	acc := newBigInt(accumulated)
	if expiry(offset, acc).Cmp(bigUint(now)) <= 0 {
		// acc <= now - offset <= now here, so the subtraction cannot wrap.
		offset = now - acc.Uint64()
	}
	return offset, acc.Add(acc, newBigInt(seconds))
}

// mulDiv returns a*b/c, or zero when c is zero. Intermediates are unbounded.
func mulDiv(a, b, c *big.Int) *big.Int {
	if c == nil || c.Sign() == 0 || a == nil || b == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// rewardMultiplier halves every period since deploy and drops to zero once
// more than halvings periods have passed.
func rewardMultiplier(deployTime, now, period uint64, halvings uint32) *big.Int {
	if period == 0 || now < deployTime {
		return new(big.Int).Lsh(big.NewInt(1), uint(halvings))
	}
	elapsed := (now - deployTime) / period
	if elapsed > uint64(halvings) {
		return big.NewInt(0)
	}
	return new(big.Int).Lsh(big.NewInt(1), uint(uint64(halvings)-elapsed))
}

// slashBps maps time spent lapsed onto a share of points, linear over the
// purchased duration and capped at 100%.
func slashBps(elapsed, secondsPurchased *big.Int) *big.Int {
	full := big.NewInt(bpsDenominator)
	if secondsPurchased == nil || secondsPurchased.Sign() == 0 {
		return full
	}
	bps := mulDiv(elapsed, full, secondsPurchased)
	if bps.Cmp(full) > 0 {
		return full
	}
	return bps
}
