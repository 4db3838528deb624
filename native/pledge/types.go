package pledge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolState tracks a pool through its lifecycle. The integer coding is part
// of the external surface and must stay stable: state only ever moves
// forward, and Finished, Liquidated and Undone are terminal.
type PoolState uint8

const (
	// PoolMatching accepts deposits on both sides until settle time.
	PoolMatching PoolState = 0
	// PoolExecuting means settlement matched non-zero volume on both sides.
	PoolExecuting PoolState = 1
	// PoolFinished is the normal end-of-term resolution.
	PoolFinished PoolState = 2
	// PoolLiquidated is the forced resolution after a collateral health breach.
	PoolLiquidated PoolState = 3
	// PoolUndone means one side attracted zero deposits; refund only.
	PoolUndone PoolState = 4
)

// Terminal reports whether the state can never change again.
func (s PoolState) Terminal() bool {
	switch s {
	case PoolFinished, PoolLiquidated, PoolUndone:
		return true
	}
	return false
}

func (s PoolState) String() string {
	switch s {
	case PoolMatching:
		return "matching"
	case PoolExecuting:
		return "executing"
	case PoolFinished:
		return "finished"
	case PoolLiquidated:
		return "liquidated"
	case PoolUndone:
		return "undone"
	}
	return "unknown"
}

// PoolTerms are the immutable parameters fixed at pool creation. Rates use
// the 1e8 base scale: an InterestRate of 1_000_000 is 1% for the full year,
// a MortgageRate of 200_000_000 demands 200% over-collateralization and an
// AutoLiquidateThreshold of 20_000_000 forces liquidation once collateral
// value drops below 120% of the matched lend amount.
type PoolTerms struct {
	SettleTime             int64
	EndTime                int64
	InterestRate           *big.Int
	MaxSupply              *big.Int
	MortgageRate           *big.Int
	AutoLiquidateThreshold *big.Int
	LendToken              common.Address
	BorrowToken            common.Address
	SpToken                common.Address
	JpToken                common.Address
}

// Pool combines the immutable terms with the running accounting for one
// fixed-term agreement.
type Pool struct {
	ID    uint64
	Terms PoolTerms

	// Running totals while matching is open.
	LendSupply   *big.Int
	BorrowSupply *big.Int
	// Matched amounts recorded once by Settle.
	SettleAmountLend   *big.Int
	SettleAmountBorrow *big.Int
	// Final amounts recorded once by Finish or Liquidate.
	FinishAmountLend   *big.Int
	FinishAmountBorrow *big.Int

	State PoolState
}

// Clone returns a deep copy so callers cannot mutate stored accounting.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Terms.InterestRate = cloneBig(p.Terms.InterestRate)
	clone.Terms.MaxSupply = cloneBig(p.Terms.MaxSupply)
	clone.Terms.MortgageRate = cloneBig(p.Terms.MortgageRate)
	clone.Terms.AutoLiquidateThreshold = cloneBig(p.Terms.AutoLiquidateThreshold)
	clone.LendSupply = cloneBig(p.LendSupply)
	clone.BorrowSupply = cloneBig(p.BorrowSupply)
	clone.SettleAmountLend = cloneBig(p.SettleAmountLend)
	clone.SettleAmountBorrow = cloneBig(p.SettleAmountBorrow)
	clone.FinishAmountLend = cloneBig(p.FinishAmountLend)
	clone.FinishAmountBorrow = cloneBig(p.FinishAmountBorrow)
	return &clone
}

// LendPosition is the per-account record on the lend side of a pool.
// HasRefunded is the single exit flag shared by the refund and emergency
// paths: at most one of them ever executes for a position.
type LendPosition struct {
	Address     common.Address
	StakeAmount *big.Int
	HasClaimed  bool
	HasRefunded bool
}

// Clone returns a deep copy of the position.
func (p *LendPosition) Clone() *LendPosition {
	if p == nil {
		return nil
	}
	clone := *p
	clone.StakeAmount = cloneBig(p.StakeAmount)
	return &clone
}

// BorrowPosition is the per-account collateral record on the borrow side.
type BorrowPosition struct {
	Address     common.Address
	StakeAmount *big.Int
	HasClaimed  bool
	HasRefunded bool
}

// Clone returns a deep copy of the position.
func (p *BorrowPosition) Clone() *BorrowPosition {
	if p == nil {
		return nil
	}
	clone := *p
	clone.StakeAmount = cloneBig(p.StakeAmount)
	return &clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
