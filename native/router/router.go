package router

import (
	"bytes"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pledgepool/native/token"
)

var (
	ErrDeadlineExpired       = errors.New("router: deadline expired")
	ErrInvalidPath           = errors.New("router: swap path must name exactly two tokens")
	ErrUnknownPair           = errors.New("router: no liquidity pair for path")
	ErrInsufficientOutput    = errors.New("router: insufficient output amount")
	ErrInsufficientLiquidity = errors.New("router: insufficient pair liquidity")
	ErrInvalidAmount         = errors.New("router: amount must be positive")
)

// Router is the swap surface the pool engine depends on. Implementations must
// treat an elapsed deadline as a hard failure before touching any balance.
type Router interface {
	Address() common.Address
	AddLiquidity(caller, tokenA, tokenB common.Address, amountA, amountB, minA, minB *big.Int, to common.Address, deadline int64) (*big.Int, *big.Int, error)
	SwapExactTokensForTokens(caller common.Address, amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline int64) (*big.Int, error)
	GetAmountsOut(amountIn *big.Int, path []common.Address) (*big.Int, error)
	GetAmountsIn(amountOut *big.Int, path []common.Address) (*big.Int, error)
}

// swap fee: 0.3%, expressed as 997/1000.
var (
	feeNumerator   = big.NewInt(997)
	feeDenominator = big.NewInt(1000)
)

type pairKey [2]common.Address

type pairState struct {
	reserve0 *big.Int // reserve of the lower-sorted address
	reserve1 *big.Int
}

// PairRouter is a constant-product market maker over the token registry. It
// custodies pair reserves under its own ledger address and settles swaps
// synchronously.
type PairRouter struct {
	mu      sync.Mutex
	tokens  *token.Registry
	address common.Address
	clock   func() time.Time
	pairs   map[pairKey]*pairState
}

// NewPairRouter constructs a router custodying reserves under addr.
func NewPairRouter(tokens *token.Registry, addr common.Address) *PairRouter {
	return &PairRouter{
		tokens:  tokens,
		address: addr,
		clock:   time.Now,
		pairs:   make(map[pairKey]*pairState),
	}
}

// SetClock overrides the wall clock used for deadline checks.
func (r *PairRouter) SetClock(clock func() time.Time) {
	if clock != nil {
		r.clock = clock
	}
}

func (r *PairRouter) Address() common.Address { return r.address }

// AddLiquidity pulls both assets from the caller into the pair reserves. The
// full desired amounts are always taken; min bounds exist for interface
// compatibility and reject amounts below them.
func (r *PairRouter) AddLiquidity(caller, tokenA, tokenB common.Address, amountA, amountB, minA, minB *big.Int, to common.Address, deadline int64) (*big.Int, *big.Int, error) {
	if err := r.checkDeadline(deadline); err != nil {
		return nil, nil, err
	}
	if amountA == nil || amountA.Sign() <= 0 || amountB == nil || amountB.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if (minA != nil && amountA.Cmp(minA) < 0) || (minB != nil && amountB.Cmp(minB) < 0) {
		return nil, nil, ErrInvalidAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.pull(tokenA, caller, amountA); err != nil {
		return nil, nil, err
	}
	if err := r.pull(tokenB, caller, amountB); err != nil {
		return nil, nil, err
	}

	pair := r.ensurePair(tokenA, tokenB)
	resA, resB := r.orient(pair, tokenA, tokenB)
	resA.Add(resA, amountA)
	resB.Add(resB, amountB)

	return new(big.Int).Set(amountA), new(big.Int).Set(amountB), nil
}

// GetAmountsOut quotes the output of swapping amountIn along the path.
func (r *PairRouter) GetAmountsOut(amountIn *big.Int, path []common.Address) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(path) != 2 {
		return nil, ErrInvalidPath
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	reserveIn, reserveOut, err := r.reserves(path[0], path[1])
	if err != nil {
		return nil, err
	}
	return amountOut(amountIn, reserveIn, reserveOut), nil
}

// GetAmountsIn quotes the input required to receive amountOut along the path.
func (r *PairRouter) GetAmountsIn(amountOut *big.Int, path []common.Address) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(path) != 2 {
		return nil, ErrInvalidPath
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	reserveIn, reserveOut, err := r.reserves(path[0], path[1])
	if err != nil {
		return nil, err
	}
	if reserveOut.Cmp(amountOut) <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	return amountIn(amountOut, reserveIn, reserveOut), nil
}

// SwapExactTokensForTokens pulls amountIn of path[0] from the caller, swaps
// against the pair reserves and credits the proceeds of path[1] to the
// recipient. Fails without side effects when the deadline has elapsed or the
// output falls short of minOut.
func (r *PairRouter) SwapExactTokensForTokens(caller common.Address, in, minOut *big.Int, path []common.Address, to common.Address, deadline int64) (*big.Int, error) {
	if err := r.checkDeadline(deadline); err != nil {
		return nil, err
	}
	if in == nil || in.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(path) != 2 {
		return nil, ErrInvalidPath
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reserveIn, reserveOut, err := r.reserves(path[0], path[1])
	if err != nil {
		return nil, err
	}
	out := amountOut(in, reserveIn, reserveOut)
	if out.Sign() <= 0 || out.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, ErrInsufficientOutput
	}

	if err := r.pull(path[0], caller, in); err != nil {
		return nil, err
	}
	if err := r.push(path[1], to, out); err != nil {
		return nil, err
	}

	reserveIn.Add(reserveIn, in)
	reserveOut.Sub(reserveOut, out)
	return out, nil
}

func (r *PairRouter) checkDeadline(deadline int64) error {
	if deadline < r.clock().Unix() {
		return ErrDeadlineExpired
	}
	return nil
}

func (r *PairRouter) pull(asset, from common.Address, amount *big.Int) error {
	tok, err := r.tokens.Resolve(asset)
	if err != nil {
		return err
	}
	return tok.TransferFrom(r.address, from, r.address, amount)
}

func (r *PairRouter) push(asset, to common.Address, amount *big.Int) error {
	tok, err := r.tokens.Resolve(asset)
	if err != nil {
		return err
	}
	return tok.Transfer(r.address, to, amount)
}

func (r *PairRouter) key(a, b common.Address) pairKey {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

func (r *PairRouter) ensurePair(a, b common.Address) *pairState {
	k := r.key(a, b)
	pair, ok := r.pairs[k]
	if !ok {
		pair = &pairState{reserve0: big.NewInt(0), reserve1: big.NewInt(0)}
		r.pairs[k] = pair
	}
	return pair
}

// orient returns the reserve pointers in (a, b) order.
func (r *PairRouter) orient(pair *pairState, a, b common.Address) (*big.Int, *big.Int) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return pair.reserve0, pair.reserve1
	}
	return pair.reserve1, pair.reserve0
}

// reserves returns the live reserve pointers for an in/out pair, failing when
// the pair has no liquidity.
func (r *PairRouter) reserves(in, out common.Address) (*big.Int, *big.Int, error) {
	pair, ok := r.pairs[r.key(in, out)]
	if !ok {
		return nil, nil, ErrUnknownPair
	}
	reserveIn, reserveOut := r.orient(pair, in, out)
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, nil, ErrInsufficientLiquidity
	}
	return reserveIn, reserveOut, nil
}

// amountOut computes the constant-product output for an exact input after the
// 0.3% swap fee.
func amountOut(in, reserveIn, reserveOut *big.Int) *big.Int {
	inWithFee := new(big.Int).Mul(in, feeNumerator)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, feeDenominator)
	denominator.Add(denominator, inWithFee)
	return numerator.Quo(numerator, denominator)
}

// amountIn computes the exact input required for a desired output, rounding
// up so the quoted input always satisfies the swap.
func amountIn(out, reserveIn, reserveOut *big.Int) *big.Int {
	numerator := new(big.Int).Mul(reserveIn, out)
	numerator.Mul(numerator, feeDenominator)
	denominator := new(big.Int).Sub(reserveOut, out)
	denominator.Mul(denominator, feeNumerator)
	result := numerator.Quo(numerator, denominator)
	return result.Add(result, big.NewInt(1))
}
