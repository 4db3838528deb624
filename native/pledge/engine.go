package pledge

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "pledgepool/native/common"
	"pledgepool/native/router"
	"pledgepool/native/token"
)

var (
	errNilState = errors.New("pledge engine: state not configured")

	ErrUnauthorized     = errors.New("pledge engine: caller is not the administrator")
	ErrTooEarly         = errors.New("pledge engine: too early for this action")
	ErrTooLate          = errors.New("pledge engine: too late for this action")
	ErrAlreadyResolved  = errors.New("pledge engine: pool already resolved")
	ErrInvalidState     = errors.New("pledge engine: pool state does not permit this action")
	ErrInvalidParams    = errors.New("pledge engine: invalid pool parameters")
	ErrInvalidAmount    = errors.New("pledge engine: amount must be positive")
	ErrUnknownPool      = errors.New("pledge engine: unknown pool")
	ErrDeadlineExpired  = errors.New("pledge engine: deadline expired")
	ErrMaxSupplyReached = errors.New("pledge engine: lend supply cap exceeded")
	ErrNoPosition       = errors.New("pledge engine: no deposit recorded")
	ErrAlreadyClaimed   = errors.New("pledge engine: position already claimed")
	ErrAlreadyExited    = errors.New("pledge engine: position already exited")
	ErrNothingToRefund  = errors.New("pledge engine: no unmatched excess to refund")
	ErrZeroPrice        = errors.New("pledge engine: oracle price unavailable")
	ErrNotLiquidatable  = errors.New("pledge engine: collateral health above liquidation threshold")
	ErrMustLiquidate    = errors.New("pledge engine: collateral health breached, liquidation required")
	ErrSlippage         = errors.New("pledge engine: swap proceeds below required amount")
)

const moduleName = "pledge"

// defaultSwapWindow bounds the router deadline attached to swaps the engine
// initiates itself during finish and liquidation.
const defaultSwapWindow = 5 * time.Minute

// PriceSource resolves the current 1e8-scaled price of an asset. A zero price
// means the asset is unknown and settlement must refuse to proceed.
type PriceSource interface {
	GetPrice(asset common.Address) *big.Int
}

// engineState is the persistence boundary of the pool engine. Implementations
// serialize all mutations; the engine never holds partial writes across calls.
type engineState interface {
	PoolCount() (uint64, error)
	GetPool(id uint64) (*Pool, error)
	PutPool(pool *Pool) error
	AppendPool(pool *Pool) (uint64, error)
	GetLendPosition(poolID uint64, addr common.Address) (*LendPosition, error)
	PutLendPosition(poolID uint64, pos *LendPosition) error
	GetBorrowPosition(poolID uint64, addr common.Address) (*BorrowPosition, error)
	PutBorrowPosition(poolID uint64, pos *BorrowPosition) error
}

// Engine orchestrates every state transition of the fixed-term lending pools:
// deposits while matching is open, the one-shot settlement, receipt claims,
// refunds of unmatched excess, the finish/liquidate resolution and the final
// share redemptions. All funds are custodied under the vault address; the
// administrator capability gates pool creation and the pause switch.
type Engine struct {
	state  engineState
	tokens *token.Registry
	oracle PriceSource
	swap   router.Router

	vault      common.Address
	admin      common.Address
	feeAddress common.Address
	lendFee    *big.Int
	borrowFee  *big.Int

	pause *nativecommon.PauseSwitch
	clock func() time.Time
}

// NewEngine constructs an engine custodying funds under vault and accepting
// administrative calls from admin only.
func NewEngine(vault, admin common.Address) *Engine {
	return &Engine{
		vault:     vault,
		admin:     admin,
		lendFee:   big.NewInt(0),
		borrowFee: big.NewInt(0),
		pause:     &nativecommon.PauseSwitch{},
		clock:     time.Now,
	}
}

// SetState wires the engine to its persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokens wires the asset registry used to resolve pool token handles.
func (e *Engine) SetTokens(tokens *token.Registry) { e.tokens = tokens }

// SetOracle wires the price source consulted at settlement and liquidation.
func (e *Engine) SetOracle(oracle PriceSource) { e.oracle = oracle }

// SetRouter wires the AMM router used to convert collateral during finish and
// liquidation.
func (e *Engine) SetRouter(swap router.Router) { e.swap = swap }

// SetClock overrides the wall clock, primarily for tests.
func (e *Engine) SetClock(clock func() time.Time) {
	if clock != nil {
		e.clock = clock
	}
}

// SetFees configures the resolution fees at 1e8 scale and the address the
// cuts are routed to. Zero fees disable routing entirely.
func (e *Engine) SetFees(lendFee, borrowFee *big.Int, feeAddress common.Address) {
	if lendFee != nil {
		e.lendFee = new(big.Int).Set(lendFee)
	}
	if borrowFee != nil {
		e.borrowFee = new(big.Int).Set(borrowFee)
	}
	e.feeAddress = feeAddress
}

// Vault returns the custody address deposits must be approved for.
func (e *Engine) Vault() common.Address { return e.vault }

// Admin returns the administrator capability address.
func (e *Engine) Admin() common.Address { return e.admin }

// SetPause toggles the deposit circuit breaker and returns the new state.
// Administrator only. Settlement, claims, refunds, resolution and withdrawals
// stay available while paused.
func (e *Engine) SetPause(caller common.Address) (bool, error) {
	if caller != e.admin {
		return false, ErrUnauthorized
	}
	return e.pause.Toggle(), nil
}

// Paused reports whether deposits are currently suspended.
func (e *Engine) Paused() bool { return e.pause.IsPaused(moduleName) }

// CreatePool validates the terms and appends a new pool in the matching
// state. Administrator only. The new pool id is returned.
func (e *Engine) CreatePool(caller common.Address, terms PoolTerms) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if caller != e.admin {
		return 0, ErrUnauthorized
	}
	if err := terms.Validate(); err != nil {
		return 0, err
	}
	pool := &Pool{
		Terms:              terms,
		LendSupply:         big.NewInt(0),
		BorrowSupply:       big.NewInt(0),
		SettleAmountLend:   big.NewInt(0),
		SettleAmountBorrow: big.NewInt(0),
		FinishAmountLend:   big.NewInt(0),
		FinishAmountBorrow: big.NewInt(0),
		State:              PoolMatching,
	}
	return e.state.AppendPool(pool)
}

// PoolLength returns the number of pools ever created.
func (e *Engine) PoolLength() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.PoolCount()
}

// GetPool returns a copy of the pool record.
func (e *Engine) GetPool(id uint64) (*Pool, error) {
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// GetPoolState reports the pool lifecycle state. Terminal states are frozen
// once recorded; before settlement executes the pool stays in matching even
// past settle time, because settlement is an explicit trigger.
func (e *Engine) GetPoolState(id uint64) (PoolState, error) {
	pool, err := e.loadPool(id)
	if err != nil {
		return 0, err
	}
	return pool.State, nil
}

// GetLendPosition returns a copy of the caller's lend-side record.
func (e *Engine) GetLendPosition(id uint64, addr common.Address) (*LendPosition, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadPool(id); err != nil {
		return nil, err
	}
	pos, err := e.state.GetLendPosition(id, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return &LendPosition{Address: addr, StakeAmount: big.NewInt(0)}, nil
	}
	return pos.Clone(), nil
}

// GetBorrowPosition returns a copy of the caller's borrow-side record.
func (e *Engine) GetBorrowPosition(id uint64, addr common.Address) (*BorrowPosition, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadPool(id); err != nil {
		return nil, err
	}
	pos, err := e.state.GetBorrowPosition(id, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return &BorrowPosition{Address: addr, StakeAmount: big.NewInt(0)}, nil
	}
	return pos.Clone(), nil
}

// DepositLend stakes the lend asset into a pool that is still matching. The
// caller must have approved the vault beforehand; the asset transfer happens
// only after the ledger update is final.
func (e *Engine) DepositLend(caller common.Address, id uint64, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pause, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return err
	}
	if pool.State != PoolMatching {
		return ErrInvalidState
	}
	if e.now() >= pool.Terms.SettleTime {
		return ErrTooLate
	}
	newSupply := new(big.Int).Add(pool.LendSupply, amount)
	if newSupply.Cmp(pool.Terms.MaxSupply) > 0 {
		return ErrMaxSupplyReached
	}
	if err := e.checkFunds(pool.Terms.LendToken, caller, amount); err != nil {
		return err
	}

	pos, err := e.lendPosition(id, caller)
	if err != nil {
		return err
	}
	pos.StakeAmount = new(big.Int).Add(pos.StakeAmount, amount)
	pool.LendSupply = newSupply
	if err := e.state.PutLendPosition(id, pos); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	return e.pullAsset(pool.Terms.LendToken, caller, amount)
}

// DepositBorrow pledges collateral into a pool that is still matching. The
// deadline rejects stale submissions before any state is touched.
func (e *Engine) DepositBorrow(caller common.Address, id uint64, amount *big.Int, deadline int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pause, moduleName); err != nil {
		return err
	}
	if deadline < e.now() {
		return ErrDeadlineExpired
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return err
	}
	if pool.State != PoolMatching {
		return ErrInvalidState
	}
	if e.now() >= pool.Terms.SettleTime {
		return ErrTooLate
	}
	if err := e.checkFunds(pool.Terms.BorrowToken, caller, amount); err != nil {
		return err
	}

	pos, err := e.borrowPosition(id, caller)
	if err != nil {
		return err
	}
	pos.StakeAmount = new(big.Int).Add(pos.StakeAmount, amount)
	pool.BorrowSupply = new(big.Int).Add(pool.BorrowSupply, amount)
	if err := e.state.PutBorrowPosition(id, pos); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	return e.pullAsset(pool.Terms.BorrowToken, caller, amount)
}

// Settle computes the matched volume once the settle time has been reached.
// Callable by anyone, exactly once per pool. A pool with zero deposits on
// either side goes straight to the undone state where only emergency
// withdrawals are possible.
func (e *Engine) Settle(id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return err
	}
	if pool.State != PoolMatching {
		return ErrAlreadyResolved
	}
	if e.now() < pool.Terms.SettleTime {
		return ErrTooEarly
	}

	if pool.LendSupply.Sign() == 0 || pool.BorrowSupply.Sign() == 0 {
		pool.SettleAmountLend = new(big.Int).Set(pool.LendSupply)
		pool.SettleAmountBorrow = new(big.Int).Set(pool.BorrowSupply)
		pool.State = PoolUndone
		return e.state.PutPool(pool)
	}

	priceLend, priceBorrow, err := e.pairPrices(pool)
	if err != nil {
		return err
	}
	// Value of all pledged collateral in lend-asset units, and the maximum
	// lend volume it can back at the required over-collateralization.
	totalValue := borrowValueInLend(pool.BorrowSupply, priceBorrow, priceLend)
	actualValue := mulDiv(totalValue, baseDecimal, pool.Terms.MortgageRate)
	if pool.LendSupply.Cmp(actualValue) > 0 {
		pool.SettleAmountLend = actualValue
		pool.SettleAmountBorrow = new(big.Int).Set(pool.BorrowSupply)
	} else {
		pool.SettleAmountLend = new(big.Int).Set(pool.LendSupply)
		backing := mulDiv(pool.LendSupply, pool.Terms.MortgageRate, baseDecimal)
		pool.SettleAmountBorrow = lendValueInBorrow(backing, priceBorrow, priceLend)
	}
	pool.State = PoolExecuting
	return e.state.PutPool(pool)
}

// ClaimLend mints the caller's pro-rata share of the matched lend volume as
// sp tokens. Valid once settlement has executed and before the end of term.
func (e *Engine) ClaimLend(caller common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if e.now() < pool.Terms.SettleTime {
		return nil, ErrTooEarly
	}
	if pool.State != PoolExecuting {
		return nil, ErrInvalidState
	}
	if e.now() >= pool.Terms.EndTime {
		return nil, ErrTooLate
	}
	pos, err := e.lendPosition(id, caller)
	if err != nil {
		return nil, err
	}
	if pos.StakeAmount.Sign() == 0 {
		return nil, ErrNoPosition
	}
	if pos.HasClaimed {
		return nil, ErrAlreadyClaimed
	}
	minted := mulDiv(pos.StakeAmount, pool.SettleAmountLend, pool.LendSupply)
	// Mint before flagging the position so a failed mint leaves the claim
	// retryable instead of marking it spent with no receipt issued.
	if err := e.mint(pool.Terms.SpToken, caller, minted); err != nil {
		return nil, err
	}
	pos.HasClaimed = true
	if err := e.state.PutLendPosition(id, pos); err != nil {
		return nil, err
	}
	return minted, nil
}

// ClaimBorrow mints the caller's pro-rata share of the matched collateral as
// jp tokens.
func (e *Engine) ClaimBorrow(caller common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if e.now() < pool.Terms.SettleTime {
		return nil, ErrTooEarly
	}
	if pool.State != PoolExecuting {
		return nil, ErrInvalidState
	}
	pos, err := e.borrowPosition(id, caller)
	if err != nil {
		return nil, err
	}
	if pos.StakeAmount.Sign() == 0 {
		return nil, ErrNoPosition
	}
	if pos.HasClaimed {
		return nil, ErrAlreadyClaimed
	}
	minted := mulDiv(pos.StakeAmount, pool.SettleAmountBorrow, pool.BorrowSupply)
	if err := e.mint(pool.Terms.JpToken, caller, minted); err != nil {
		return nil, err
	}
	pos.HasClaimed = true
	if err := e.state.PutBorrowPosition(id, pos); err != nil {
		return nil, err
	}
	return minted, nil
}

// RefundLend pays back the caller's share of the lend deposits that found no
// matching collateral. Independent of the claim path; fires at most once.
func (e *Engine) RefundLend(caller common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if pool.State != PoolExecuting {
		return nil, ErrInvalidState
	}
	excess := new(big.Int).Sub(pool.LendSupply, pool.SettleAmountLend)
	if excess.Sign() <= 0 {
		return nil, ErrNothingToRefund
	}
	pos, err := e.lendPosition(id, caller)
	if err != nil {
		return nil, err
	}
	if pos.StakeAmount.Sign() == 0 {
		return nil, ErrNoPosition
	}
	if pos.HasRefunded {
		return nil, ErrAlreadyExited
	}
	refund := mulDiv(pos.StakeAmount, excess, pool.LendSupply)
	pos.HasRefunded = true
	if err := e.state.PutLendPosition(id, pos); err != nil {
		return nil, err
	}
	if err := e.payAsset(pool.Terms.LendToken, caller, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// RefundBorrow pays back the caller's share of the collateral that exceeds
// the matched volume.
func (e *Engine) RefundBorrow(caller common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if pool.State != PoolExecuting {
		return nil, ErrInvalidState
	}
	excess := new(big.Int).Sub(pool.BorrowSupply, pool.SettleAmountBorrow)
	if excess.Sign() <= 0 {
		return nil, ErrNothingToRefund
	}
	pos, err := e.borrowPosition(id, caller)
	if err != nil {
		return nil, err
	}
	if pos.StakeAmount.Sign() == 0 {
		return nil, ErrNoPosition
	}
	if pos.HasRefunded {
		return nil, ErrAlreadyExited
	}
	refund := mulDiv(pos.StakeAmount, excess, pool.BorrowSupply)
	pos.HasRefunded = true
	if err := e.state.PutBorrowPosition(id, pos); err != nil {
		return nil, err
	}
	if err := e.payAsset(pool.Terms.BorrowToken, caller, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// EmergencyLendWithdrawal returns the full lend deposit when settlement left
// the pool undone. The only recovery path for a one-sided pool.
func (e *Engine) EmergencyLendWithdrawal(caller common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if pool.State != PoolUndone {
		return nil, ErrInvalidState
	}
	pos, err := e.lendPosition(id, caller)
	if err != nil {
		return nil, err
	}
	if pos.StakeAmount.Sign() == 0 {
		return nil, ErrNoPosition
	}
	if pos.HasRefunded {
		return nil, ErrAlreadyExited
	}
	refund := new(big.Int).Set(pos.StakeAmount)
	pos.HasRefunded = true
	if err := e.state.PutLendPosition(id, pos); err != nil {
		return nil, err
	}
	if err := e.payAsset(pool.Terms.LendToken, caller, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// EmergencyBorrowWithdrawal returns the full collateral deposit when
// settlement left the pool undone.
func (e *Engine) EmergencyBorrowWithdrawal(caller common.Address, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if pool.State != PoolUndone {
		return nil, ErrInvalidState
	}
	pos, err := e.borrowPosition(id, caller)
	if err != nil {
		return nil, err
	}
	if pos.StakeAmount.Sign() == 0 {
		return nil, ErrNoPosition
	}
	if pos.HasRefunded {
		return nil, ErrAlreadyExited
	}
	refund := new(big.Int).Set(pos.StakeAmount)
	pos.HasRefunded = true
	if err := e.state.PutBorrowPosition(id, pos); err != nil {
		return nil, err
	}
	if err := e.payAsset(pool.Terms.BorrowToken, caller, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// CheckoutLiquidate evaluates collateral health at live oracle prices: true
// when the collateral value no longer clears the matched lend amount plus the
// liquidation threshold margin.
func (e *Engine) CheckoutLiquidate(id uint64) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return false, err
	}
	if pool.State != PoolExecuting {
		return false, ErrInvalidState
	}
	priceLend, priceBorrow, err := e.pairPrices(pool)
	if err != nil {
		return false, err
	}
	borrowValueNow := borrowValueInLend(pool.SettleAmountBorrow, priceBorrow, priceLend)
	margin := new(big.Int).Add(baseDecimal, pool.Terms.AutoLiquidateThreshold)
	valueThreshold := mulDiv(pool.SettleAmountLend, margin, baseDecimal)
	return borrowValueNow.Cmp(valueThreshold) < 0, nil
}

// Finish resolves a healthy pool at the end of term: enough collateral is
// sold through the router to pay lenders principal plus the fixed term
// interest, the rest stays with the borrow side. Exactly once per pool.
func (e *Engine) Finish(id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return err
	}
	if pool.State.Terminal() {
		return ErrAlreadyResolved
	}
	if pool.State != PoolExecuting {
		return ErrInvalidState
	}
	if e.now() < pool.Terms.EndTime {
		return ErrTooEarly
	}
	unhealthy, err := e.CheckoutLiquidate(id)
	if err != nil {
		return err
	}
	if unhealthy {
		return ErrMustLiquidate
	}

	lendAmount := new(big.Int).Add(pool.SettleAmountLend, e.termInterestFor(pool))
	sellTarget := mulDiv(lendAmount, new(big.Int).Add(baseDecimal, e.lendFee), baseDecimal)
	amountSold, amountIn, err := e.sellCollateral(pool, sellTarget, false)
	if err != nil {
		return err
	}
	if amountIn.Cmp(lendAmount) < 0 {
		return ErrSlippage
	}

	pool.FinishAmountLend = lendAmount
	remaining := new(big.Int).Sub(pool.SettleAmountBorrow, amountSold)
	borrowFee := mulDiv(remaining, e.borrowFee, baseDecimal)
	pool.FinishAmountBorrow = new(big.Int).Sub(remaining, borrowFee)
	pool.State = PoolFinished
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	// Fee routing happens after the terminal transition is recorded.
	surplus := new(big.Int).Sub(amountIn, lendAmount)
	if err := e.payAsset(pool.Terms.LendToken, e.feeAddress, surplus); err != nil {
		return err
	}
	return e.payAsset(pool.Terms.BorrowToken, e.feeAddress, borrowFee)
}

// Liquidate forcibly converts the matched collateral once the health check
// trips. Unlike Finish, shortfalls do not abort: whatever the router yields
// becomes the lenders' final amount. Exactly once per pool.
func (e *Engine) Liquidate(id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return err
	}
	if pool.State.Terminal() {
		return ErrAlreadyResolved
	}
	if pool.State != PoolExecuting {
		return ErrInvalidState
	}
	unhealthy, err := e.CheckoutLiquidate(id)
	if err != nil {
		return err
	}
	if !unhealthy {
		// A healthy pool can only resolve through Finish, even past the end
		// of term. The converse holds there, keeping the two paths exclusive.
		return ErrNotLiquidatable
	}

	lendAmount := new(big.Int).Add(pool.SettleAmountLend, e.termInterestFor(pool))
	sellTarget := mulDiv(lendAmount, new(big.Int).Add(baseDecimal, e.lendFee), baseDecimal)
	amountSold, amountIn, err := e.sellCollateral(pool, sellTarget, true)
	if err != nil {
		return err
	}

	surplus := big.NewInt(0)
	if amountIn.Cmp(lendAmount) > 0 {
		surplus = new(big.Int).Sub(amountIn, lendAmount)
		pool.FinishAmountLend = lendAmount
	} else {
		pool.FinishAmountLend = new(big.Int).Set(amountIn)
	}
	remaining := new(big.Int).Sub(pool.SettleAmountBorrow, amountSold)
	borrowFee := mulDiv(remaining, e.borrowFee, baseDecimal)
	pool.FinishAmountBorrow = new(big.Int).Sub(remaining, borrowFee)
	pool.State = PoolLiquidated
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	if err := e.payAsset(pool.Terms.LendToken, e.feeAddress, surplus); err != nil {
		return err
	}
	return e.payAsset(pool.Terms.BorrowToken, e.feeAddress, borrowFee)
}

// WithdrawLend burns sp tokens and pays out the proportional slice of the
// lenders' final amount. Incremental withdrawals are allowed while shares
// remain.
func (e *Engine) WithdrawLend(caller common.Address, id uint64, spAmount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if spAmount == nil || spAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if pool.State != PoolFinished && pool.State != PoolLiquidated {
		return nil, ErrInvalidState
	}
	// Total sp outstanding equals the matched lend amount by construction.
	payout := mulDiv(spAmount, pool.FinishAmountLend, pool.SettleAmountLend)
	if err := e.burn(pool.Terms.SpToken, caller, spAmount); err != nil {
		return nil, err
	}
	if err := e.payAsset(pool.Terms.LendToken, caller, payout); err != nil {
		return nil, err
	}
	return payout, nil
}

// WithdrawBorrow burns jp tokens for the proportional slice of the leftover
// collateral. The deadline mirrors the deposit-side guard for router-bound
// submissions.
func (e *Engine) WithdrawBorrow(caller common.Address, id uint64, jpAmount *big.Int, deadline int64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if deadline < e.now() {
		return nil, ErrDeadlineExpired
	}
	if jpAmount == nil || jpAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pool, err := e.loadPool(id)
	if err != nil {
		return nil, err
	}
	if pool.State != PoolFinished && pool.State != PoolLiquidated {
		return nil, ErrInvalidState
	}
	payout := mulDiv(jpAmount, pool.FinishAmountBorrow, pool.SettleAmountBorrow)
	if err := e.burn(pool.Terms.JpToken, caller, jpAmount); err != nil {
		return nil, err
	}
	if err := e.payAsset(pool.Terms.BorrowToken, caller, payout); err != nil {
		return nil, err
	}
	return payout, nil
}

// sellCollateral converts matched collateral into the lend asset through the
// router. When sellAll is set a quote shortfall sells the whole collateral
// position instead of failing; otherwise the caller gets ErrSlippage before
// any balance moves.
func (e *Engine) sellCollateral(pool *Pool, target *big.Int, sellAll bool) (sold, proceeds *big.Int, err error) {
	if e.swap == nil || e.tokens == nil {
		return nil, nil, errNilState
	}
	path := []common.Address{pool.Terms.BorrowToken, pool.Terms.LendToken}
	required, err := e.swap.GetAmountsIn(target, path)
	if err != nil {
		if !sellAll {
			return nil, nil, ErrSlippage
		}
		required = new(big.Int).Set(pool.SettleAmountBorrow)
	}
	if required.Cmp(pool.SettleAmountBorrow) > 0 {
		if !sellAll {
			return nil, nil, ErrSlippage
		}
		required = new(big.Int).Set(pool.SettleAmountBorrow)
	}

	borrowTok, err := e.tokens.Resolve(pool.Terms.BorrowToken)
	if err != nil {
		return nil, nil, err
	}
	if err := borrowTok.Approve(e.vault, e.swap.Address(), required); err != nil {
		return nil, nil, err
	}
	var minOut *big.Int
	if !sellAll {
		minOut = target
	}
	deadline := e.now() + int64(defaultSwapWindow/time.Second)
	out, err := e.swap.SwapExactTokensForTokens(e.vault, required, minOut, path, e.vault, deadline)
	if err != nil {
		return nil, nil, err
	}
	return required, out, nil
}

func (e *Engine) termInterestFor(pool *Pool) *big.Int {
	duration := pool.Terms.EndTime - pool.Terms.SettleTime
	return termInterest(pool.SettleAmountLend, pool.Terms.InterestRate, duration)
}

func (e *Engine) pairPrices(pool *Pool) (priceLend, priceBorrow *big.Int, err error) {
	if e.oracle == nil {
		return nil, nil, ErrZeroPrice
	}
	priceLend = e.oracle.GetPrice(pool.Terms.LendToken)
	priceBorrow = e.oracle.GetPrice(pool.Terms.BorrowToken)
	if priceLend == nil || priceLend.Sign() == 0 || priceBorrow == nil || priceBorrow.Sign() == 0 {
		return nil, nil, ErrZeroPrice
	}
	return priceLend, priceBorrow, nil
}

func (e *Engine) loadPool(id uint64) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.state.GetPool(id)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrUnknownPool
	}
	if pool.LendSupply == nil {
		pool.LendSupply = big.NewInt(0)
	}
	if pool.BorrowSupply == nil {
		pool.BorrowSupply = big.NewInt(0)
	}
	if pool.SettleAmountLend == nil {
		pool.SettleAmountLend = big.NewInt(0)
	}
	if pool.SettleAmountBorrow == nil {
		pool.SettleAmountBorrow = big.NewInt(0)
	}
	if pool.FinishAmountLend == nil {
		pool.FinishAmountLend = big.NewInt(0)
	}
	if pool.FinishAmountBorrow == nil {
		pool.FinishAmountBorrow = big.NewInt(0)
	}
	return pool, nil
}

func (e *Engine) lendPosition(id uint64, addr common.Address) (*LendPosition, error) {
	pos, err := e.state.GetLendPosition(id, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &LendPosition{Address: addr}
	}
	if pos.StakeAmount == nil {
		pos.StakeAmount = big.NewInt(0)
	}
	return pos, nil
}

func (e *Engine) borrowPosition(id uint64, addr common.Address) (*BorrowPosition, error) {
	pos, err := e.state.GetBorrowPosition(id, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &BorrowPosition{Address: addr}
	}
	if pos.StakeAmount == nil {
		pos.StakeAmount = big.NewInt(0)
	}
	return pos, nil
}

// checkFunds verifies balance and vault allowance before any ledger mutation
// so the trailing transfer cannot fail after bookkeeping is final.
func (e *Engine) checkFunds(asset, from common.Address, amount *big.Int) error {
	tok, err := e.tokens.Resolve(asset)
	if err != nil {
		return err
	}
	if tok.BalanceOf(from).Cmp(amount) < 0 {
		return token.ErrInsufficientBalance
	}
	if tok.Allowance(from, e.vault).Cmp(amount) < 0 {
		return token.ErrInsufficientAllowance
	}
	return nil
}

func (e *Engine) pullAsset(asset, from common.Address, amount *big.Int) error {
	tok, err := e.tokens.Resolve(asset)
	if err != nil {
		return err
	}
	return tok.TransferFrom(e.vault, from, e.vault, amount)
}

func (e *Engine) payAsset(asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if to == (common.Address{}) {
		return nil
	}
	tok, err := e.tokens.Resolve(asset)
	if err != nil {
		return err
	}
	return tok.Transfer(e.vault, to, amount)
}

func (e *Engine) mint(asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	tok, err := e.tokens.Resolve(asset)
	if err != nil {
		return err
	}
	return tok.Mint(e.vault, to, amount)
}

func (e *Engine) burn(asset, from common.Address, amount *big.Int) error {
	tok, err := e.tokens.Resolve(asset)
	if err != nil {
		return err
	}
	return tok.Burn(e.vault, from, amount)
}

func (e *Engine) now() int64 {
	return e.clock().Unix()
}
