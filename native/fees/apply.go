package fees

import "math/big"

// BasisPoints is the denominator for every rate expressed in bps.
const BasisPoints = 10_000

// ApplyInput is a gross amount and the rate carved from it.
type ApplyInput struct {
	Gross *big.Int
	Bps   uint32
}

// ApplyResult holds the carved share and what remains of the gross.
type ApplyResult struct {
	Fee *big.Int
	Net *big.Int
}

// Apply carves gross * bps / 10_000, rounded down, from the gross. The share
// never exceeds the gross and a non-positive gross carves nothing.
func Apply(input ApplyInput) ApplyResult {
	result := ApplyResult{Fee: big.NewInt(0), Net: big.NewInt(0)}
	if input.Gross == nil || input.Gross.Sign() <= 0 {
		return result
	}
	result.Net.Set(input.Gross)
	if input.Bps == 0 {
		return result
	}
	fee := new(big.Int).Mul(input.Gross, big.NewInt(int64(input.Bps)))
	fee.Quo(fee, big.NewInt(BasisPoints))
	if fee.Cmp(result.Net) > 0 {
		fee.Set(result.Net)
	}
	result.Fee = fee
	result.Net.Sub(result.Net, fee)
	return result
}

// Split carves every rate from the same gross amount, not from each other's
// remainders, and returns the shares in order along with what is left. Shares
// are clipped so their sum never exceeds the gross.
func Split(gross *big.Int, rates ...uint32) ([]*big.Int, *big.Int) {
	remainder := Apply(ApplyInput{Gross: gross}).Net
	shares := make([]*big.Int, len(rates))
	for i, bps := range rates {
		share := Apply(ApplyInput{Gross: gross, Bps: bps}).Fee
		if share.Cmp(remainder) > 0 {
			share = new(big.Int).Set(remainder)
		}
		remainder.Sub(remainder, share)
		shares[i] = share
	}
	return shares, remainder
}
