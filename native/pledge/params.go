package pledge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// baseDecimal is the 1e8 scale shared by interest rates, mortgage rates,
	// liquidation thresholds, oracle prices and fees.
	baseDecimal = big.NewInt(100_000_000)
	// calDecimal is the 1e18 scale used for intermediate price conversions so
	// ratios between 18-decimal asset amounts do not lose precision.
	calDecimal = mustBigInt("1000000000000000000")
)

// secondsPerYear anchors the fixed interest rate: the rate in PoolTerms is
// the full-year rate and accrues linearly over the settle-to-end term.
const secondsPerYear = 365 * 24 * 60 * 60

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Validate rejects malformed terms before a pool is created. Terms are
// immutable afterwards, so this is the only place they are ever checked.
func (t PoolTerms) Validate() error {
	if t.SettleTime >= t.EndTime {
		return ErrInvalidParams
	}
	zero := common.Address{}
	if t.LendToken == zero || t.BorrowToken == zero || t.SpToken == zero || t.JpToken == zero {
		return ErrInvalidParams
	}
	if t.InterestRate == nil || t.InterestRate.Sign() < 0 {
		return ErrInvalidParams
	}
	if t.MaxSupply == nil || t.MaxSupply.Sign() <= 0 {
		return ErrInvalidParams
	}
	if t.MortgageRate == nil || t.MortgageRate.Sign() <= 0 {
		return ErrInvalidParams
	}
	if t.AutoLiquidateThreshold == nil || t.AutoLiquidateThreshold.Sign() < 0 {
		return ErrInvalidParams
	}
	return nil
}
