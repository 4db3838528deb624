package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOwner              = errors.New("token: caller is not the owner")
	ErrNotMinter             = errors.New("token: caller is not a minter")
	ErrIndexOutOfRange       = errors.New("token: minter index out of range")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrZeroAddress           = errors.New("token: zero address")
)

// Token is an in-process fungible ledger with an owner-managed minter
// allowlist. Pool receipt tokens (sp/jp) and the plain lend/borrow assets all
// use the same implementation; the pool engine only ever drives it through
// the transfer, mint and burn surface.
type Token struct {
	mu          sync.RWMutex
	address     common.Address
	owner       common.Address
	name        string
	symbol      string
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	minters     []common.Address
}

// New constructs an empty token ledger owned by the supplied address.
func New(address, owner common.Address, name, symbol string) *Token {
	return &Token{
		address:     address,
		owner:       owner,
		name:        name,
		symbol:      symbol,
		totalSupply: big.NewInt(0),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }

// TotalSupply returns a defensive copy of the circulating supply.
func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

// BalanceOf reports the balance held by addr, zero when the account is unknown.
func (t *Token) BalanceOf(addr common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if bal, ok := t.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Transfer moves amount from the authenticated caller to the recipient.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// Approve records the allowance granted by owner to spender, replacing any
// previous value.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	grants, ok := t.allowances[owner]
	if !ok {
		grants = make(map[common.Address]*big.Int)
		t.allowances[owner] = grants
	}
	grants[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining allowance from owner to spender.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if grants, ok := t.allowances[owner]; ok {
		if amount, ok := grants[spender]; ok {
			return new(big.Int).Set(amount)
		}
	}
	return big.NewInt(0)
}

// TransferFrom moves amount from owner to the recipient on behalf of spender,
// consuming the spender's allowance.
func (t *Token) TransferFrom(spender, owner, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	grants := t.allowances[owner]
	remaining, ok := grants[spender]
	if !ok || remaining.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := t.move(owner, to, amount); err != nil {
		return err
	}
	grants[spender] = new(big.Int).Sub(remaining, amount)
	return nil
}

// AddMinter grants mint/burn rights; only the owner may manage the allowlist.
func (t *Token) AddMinter(caller, minter common.Address) error {
	if caller != t.owner {
		return ErrNotOwner
	}
	if minter == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.minters {
		if existing == minter {
			return nil
		}
	}
	t.minters = append(t.minters, minter)
	return nil
}

// DelMinter revokes mint/burn rights.
func (t *Token) DelMinter(caller, minter common.Address) error {
	if caller != t.owner {
		return ErrNotOwner
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.minters {
		if existing == minter {
			t.minters = append(t.minters[:i], t.minters[i+1:]...)
			return nil
		}
	}
	return nil
}

// IsMinter reports whether addr is on the allowlist.
func (t *Token) IsMinter(addr common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, existing := range t.minters {
		if existing == addr {
			return true
		}
	}
	return false
}

// GetMinter returns the minter recorded at the given position.
func (t *Token) GetMinter(index int) (common.Address, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.minters) {
		return common.Address{}, ErrIndexOutOfRange
	}
	return t.minters[index], nil
}

// GetMinterLength returns the number of registered minters.
func (t *Token) GetMinterLength() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.minters)
}

// Mint credits freshly created units to the recipient. The caller must hold
// minter rights.
func (t *Token) Mint(caller, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if !t.IsMinter(caller) {
		return ErrNotMinter
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
	t.totalSupply = new(big.Int).Add(t.totalSupply, amount)
	return nil
}

// Burn destroys units held by from. The caller must hold minter rights.
func (t *Token) Burn(caller, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !t.IsMinter(caller) {
		return ErrNotMinter
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.balances[from] = new(big.Int).Sub(bal, amount)
	t.totalSupply = new(big.Int).Sub(t.totalSupply, amount)
	return nil
}

func (t *Token) move(from, to common.Address, amount *big.Int) error {
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.balances[from] = new(big.Int).Sub(bal, amount)
	t.credit(to, amount)
	return nil
}

func (t *Token) credit(to common.Address, amount *big.Int) {
	if bal, ok := t.balances[to]; ok {
		t.balances[to] = new(big.Int).Add(bal, amount)
		return
	}
	t.balances[to] = new(big.Int).Set(amount)
}
