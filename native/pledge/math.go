package pledge

import "math/big"

// mulDiv computes a*b/den with arbitrary precision, returning zero for a nil
// or zero denominator.
func mulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// borrowValueInLend converts a borrow-asset amount into its lend-asset
// equivalent using the two 1e8-scaled oracle prices. The intermediate price
// ratio is carried at 1e18 precision.
func borrowValueInLend(amount, priceBorrow, priceLend *big.Int) *big.Int {
	if amount == nil || priceBorrow == nil || priceLend == nil || priceLend.Sign() == 0 {
		return big.NewInt(0)
	}
	ratio := new(big.Int).Mul(priceBorrow, calDecimal)
	ratio.Quo(ratio, priceLend)
	out := new(big.Int).Mul(amount, ratio)
	return out.Quo(out, calDecimal)
}

// lendValueInBorrow back-converts a lend-asset amount into the borrow-asset
// units that carry the same value at the supplied prices.
func lendValueInBorrow(amount, priceBorrow, priceLend *big.Int) *big.Int {
	if amount == nil || priceBorrow == nil || priceBorrow.Sign() == 0 || priceLend == nil {
		return big.NewInt(0)
	}
	ratio := new(big.Int).Mul(priceLend, calDecimal)
	ratio.Quo(ratio, priceBorrow)
	out := new(big.Int).Mul(amount, ratio)
	return out.Quo(out, calDecimal)
}

// termInterest computes the fixed interest owed on principal over a term of
// durationSeconds at the 1e8-scaled yearly rate.
func termInterest(principal, yearRate *big.Int, durationSeconds int64) *big.Int {
	if principal == nil || yearRate == nil || durationSeconds <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(principal, yearRate)
	out.Mul(out, big.NewInt(durationSeconds))
	out.Quo(out, baseDecimal)
	return out.Quo(out, big.NewInt(secondsPerYear))
}
