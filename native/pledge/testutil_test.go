package pledge

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pledgepool/native/oracle"
	"pledgepool/native/router"
	"pledgepool/native/token"
	"pledgepool/storage"
)

var (
	adminAddr    = common.HexToAddress("0xA1")
	vaultAddr    = common.HexToAddress("0xA2")
	routerAddr   = common.HexToAddress("0xA3")
	tokenOwner   = common.HexToAddress("0xA4")
	lenderAddr   = common.HexToAddress("0xB1")
	borrowerAddr = common.HexToAddress("0xB2")
	lpAddr       = common.HexToAddress("0xB3")

	lendTokenAddr   = common.HexToAddress("0xC1")
	borrowTokenAddr = common.HexToAddress("0xC2")
	spTokenAddr     = common.HexToAddress("0xC3")
	jpTokenAddr     = common.HexToAddress("0xC4")
)

const baseTime = int64(1_700_000_000)

// fakeClock is a mutable wall clock shared by the engine and router.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fakeClock) Advance(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
}

func (c *fakeClock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = unix
}

type fixture struct {
	engine *Engine
	store  *StateStore
	oracle *oracle.Oracle
	router *router.PairRouter
	clock  *fakeClock

	lendTok   *token.Token
	borrowTok *token.Token
	spTok     *token.Token
	jpTok     *token.Token
}

// newFixture wires an engine against in-memory persistence, four token
// ledgers, an operator-set oracle at price parity and a router pool with deep
// symmetric liquidity.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: baseTime}

	registry := token.NewRegistry()
	lendTok := token.New(lendTokenAddr, tokenOwner, "Lend Coin", "LEND")
	borrowTok := token.New(borrowTokenAddr, tokenOwner, "Borrow Coin", "BORROW")
	spTok := token.New(spTokenAddr, tokenOwner, "SP Receipt", "SP")
	jpTok := token.New(jpTokenAddr, tokenOwner, "JP Receipt", "JP")
	for _, tok := range []*token.Token{lendTok, borrowTok, spTok, jpTok} {
		registry.Register(tok)
		if err := tok.AddMinter(tokenOwner, tokenOwner); err != nil {
			t.Fatalf("add owner minter: %v", err)
		}
		if err := tok.AddMinter(tokenOwner, vaultAddr); err != nil {
			t.Fatalf("add vault minter: %v", err)
		}
	}

	mintTo := func(tok *token.Token, to common.Address, amount *big.Int) {
		if err := tok.Mint(tokenOwner, to, amount); err != nil {
			t.Fatalf("mint %s: %v", tok.Symbol(), err)
		}
	}
	mintTo(lendTok, lenderAddr, e18(1000))
	mintTo(borrowTok, borrowerAddr, e18(500))
	mintTo(lendTok, lpAddr, e18(100_000))
	mintTo(borrowTok, lpAddr, e18(100_000))

	ora := oracle.New(adminAddr)
	setPrice(t, ora, lendTokenAddr, price(1))
	setPrice(t, ora, borrowTokenAddr, price(1))

	swap := router.NewPairRouter(registry, routerAddr)
	swap.SetClock(clock.Now)
	if err := lendTok.Approve(lpAddr, routerAddr, e18(100_000)); err != nil {
		t.Fatalf("approve lp lend: %v", err)
	}
	if err := borrowTok.Approve(lpAddr, routerAddr, e18(100_000)); err != nil {
		t.Fatalf("approve lp borrow: %v", err)
	}
	if _, _, err := swap.AddLiquidity(lpAddr, lendTokenAddr, borrowTokenAddr, e18(100_000), e18(100_000), nil, nil, lpAddr, clock.now+60); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}

	engine := NewEngine(vaultAddr, adminAddr)
	engine.SetClock(clock.Now)
	engine.SetTokens(registry)
	engine.SetOracle(ora)
	engine.SetRouter(swap)
	store := NewStateStore(storage.NewMemDB())
	engine.SetState(store)

	return &fixture{
		engine:    engine,
		store:     store,
		oracle:    ora,
		router:    swap,
		clock:     clock,
		lendTok:   lendTok,
		borrowTok: borrowTok,
		spTok:     spTok,
		jpTok:     jpTok,
	}
}

// defaultTerms: settle in one hour, thirty day term, zero interest, 200%
// over-collateralization, forced liquidation below a 20% margin.
func defaultTerms() PoolTerms {
	return PoolTerms{
		SettleTime:             baseTime + 3600,
		EndTime:                baseTime + 3600 + 30*24*3600,
		InterestRate:           big.NewInt(0),
		MaxSupply:              e18(1_000_000),
		MortgageRate:           big.NewInt(200_000_000),
		AutoLiquidateThreshold: big.NewInt(20_000_000),
		LendToken:              lendTokenAddr,
		BorrowToken:            borrowTokenAddr,
		SpToken:                spTokenAddr,
		JpToken:                jpTokenAddr,
	}
}

func (f *fixture) createPool(t *testing.T, terms PoolTerms) uint64 {
	t.Helper()
	id, err := f.engine.CreatePool(adminAddr, terms)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return id
}

func (f *fixture) depositLend(t *testing.T, id uint64, from common.Address, amount *big.Int) {
	t.Helper()
	if err := f.lendTok.Approve(from, vaultAddr, amount); err != nil {
		t.Fatalf("approve lend deposit: %v", err)
	}
	if err := f.engine.DepositLend(from, id, amount); err != nil {
		t.Fatalf("deposit lend: %v", err)
	}
}

func (f *fixture) depositBorrow(t *testing.T, id uint64, from common.Address, amount *big.Int) {
	t.Helper()
	if err := f.borrowTok.Approve(from, vaultAddr, amount); err != nil {
		t.Fatalf("approve borrow deposit: %v", err)
	}
	if err := f.engine.DepositBorrow(from, id, amount, f.clock.Now().Unix()+60); err != nil {
		t.Fatalf("deposit borrow: %v", err)
	}
}

// settledPool creates a pool, funds both sides with the canonical 1000/500
// deposits and runs settlement.
func (f *fixture) settledPool(t *testing.T) uint64 {
	t.Helper()
	id := f.createPool(t, defaultTerms())
	f.depositLend(t, id, lenderAddr, e18(1000))
	f.depositBorrow(t, id, borrowerAddr, e18(500))
	f.clock.Set(defaultTerms().SettleTime)
	if err := f.engine.Settle(id); err != nil {
		t.Fatalf("settle: %v", err)
	}
	return id
}

func setPrice(t *testing.T, ora *oracle.Oracle, asset common.Address, value *big.Int) {
	t.Helper()
	if err := ora.SetPrice(adminAddr, asset, value); err != nil {
		t.Fatalf("set price: %v", err)
	}
}

// e18 scales a whole-unit amount to 18 decimals.
func e18(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), mustBigInt("1000000000000000000"))
}

// price scales a whole-unit quote to the oracle's 1e8 base.
func price(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(100_000_000))
}
