// Package token provides the fungible-token ledger the exchange custodies
// balances against. The exchange only depends on the Ledger capability;
// Token is an in-process reference implementation with ERC-20 transfer,
// approve and delegated-transfer semantics.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnknownToken          = errors.New("unknown token")
)

// Ledger is the capability the exchange consumes to move tokens in and
// out of custody. All amounts are in the token's smallest unit.
type Ledger interface {
	// BalanceOf reports holder's balance of the given token.
	BalanceOf(token, holder common.Address) uint64

	// Transfer pushes tokens directly from one holder to another.
	Transfer(token, from, to common.Address, amount uint64) error

	// TransferFrom pulls tokens from owner to dst using an allowance
	// previously granted to spender.
	TransferFrom(token, spender, owner, dst common.Address, amount uint64) error
}

// Token is a single fungible token: balances plus owner→spender allowances.
// The full supply is minted to the deployer at construction.
type Token struct {
	mu sync.RWMutex

	address  common.Address
	name     string
	symbol   string
	decimals uint8

	totalSupply uint64
	balances    map[common.Address]uint64
	allowances  map[common.Address]map[common.Address]uint64
}

// NewToken mints supply (smallest units) to deployer. The token address is
// derived deterministically from name and symbol so devnet deployments are
// stable across restarts.
func NewToken(name, symbol string, supply uint64, deployer common.Address) *Token {
	hash := crypto.Keccak256([]byte(name + ":" + symbol))
	t := &Token{
		address:     common.BytesToAddress(hash[12:]),
		name:        name,
		symbol:      symbol,
		decimals:    18,
		totalSupply: supply,
		balances:    map[common.Address]uint64{deployer: supply},
		allowances:  make(map[common.Address]map[common.Address]uint64),
	}
	return t
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

func (t *Token) TotalSupply() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply
}

func (t *Token) BalanceOf(holder common.Address) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[holder]
}

// Transfer moves amount from one holder to another.
func (t *Token) Transfer(from, to common.Address, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferLocked(from, to, amount)
}

func (t *Token) transferLocked(from, to common.Address, amount uint64) error {
	if t.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientBalance, from.Hex(), t.balances[from], amount)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

// Approve grants spender the right to pull up to amount from owner.
// A second call replaces the previous allowance.
func (t *Token) Approve(owner, spender common.Address, amount uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]uint64)
	}
	t.allowances[owner][spender] = amount
}

func (t *Token) Allowance(owner, spender common.Address) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowances[owner][spender]
}

// TransferFrom moves amount from owner to dst, spending spender's
// allowance. Allowance is checked before balance so the failure reason is
// deterministic.
func (t *Token) TransferFrom(spender, owner, dst common.Address, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowances[owner][spender]
	if allowed < amount {
		return fmt.Errorf("%w: %s allowed %d, need %d", ErrInsufficientAllowance, spender.Hex(), allowed, amount)
	}
	if err := t.transferLocked(owner, dst, amount); err != nil {
		return err
	}
	t.allowances[owner][spender] = allowed - amount
	return nil
}
