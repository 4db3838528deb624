package token

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownToken indicates that no ledger is registered under the address.
var ErrUnknownToken = errors.New("token: unknown token address")

// Registry resolves token ledgers by address. Pools reference their lend,
// borrow and receipt assets only by address, so every component that needs to
// move funds goes through the registry rather than holding typed references.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Token
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]*Token)}
}

// Register adds or replaces the ledger stored under its own address.
func (r *Registry) Register(t *Token) {
	if t == nil {
		return
	}
	r.mu.Lock()
	r.tokens[t.Address()] = t
	r.mu.Unlock()
}

// Resolve returns the ledger registered under addr.
func (r *Registry) Resolve(addr common.Address) (*Token, error) {
	r.mu.RLock()
	t, ok := r.tokens[addr]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownToken
	}
	return t, nil
}
