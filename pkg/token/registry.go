package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves token addresses to Token instances and implements the
// Ledger capability over them.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]*Token)}
}

func (r *Registry) Add(t *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Address()] = t
}

func (r *Registry) Get(addr common.Address) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	return t, ok
}

// List returns all registered tokens.
func (r *Registry) List() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	return out
}

func (r *Registry) BalanceOf(tok, holder common.Address) uint64 {
	t, ok := r.Get(tok)
	if !ok {
		return 0
	}
	return t.BalanceOf(holder)
}

func (r *Registry) Transfer(tok, from, to common.Address, amount uint64) error {
	t, ok := r.Get(tok)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok.Hex())
	}
	return t.Transfer(from, to, amount)
}

func (r *Registry) TransferFrom(tok, spender, owner, dst common.Address, amount uint64) error {
	t, ok := r.Get(tok)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok.Hex())
	}
	return t.TransferFrom(spender, owner, dst, amount)
}

var _ Ledger = (*Registry)(nil)
