package asset

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrOnlyMinterOrOperator is returned when a transfer is attempted by an
	// operator that is neither the contract's minter nor on its allowed set.
	ErrOnlyMinterOrOperator = errors.New("asset: only minter or allowed operator can transfer")

	// ErrInsufficientUnits is returned when a transfer exceeds the sender's
	// balance.
	ErrInsufficientUnits = errors.New("asset: insufficient token balance")
)

// Ledger is an in-memory ERC-1155-style asset ledger: per (contract, token,
// owner) unit balances with operator-gated transfers. It stands in for the
// external asset contracts during development and testing.
type Ledger struct {
	mu        sync.RWMutex
	balances  map[balanceKey]int64
	minters   map[string]string          // contract → minter identity
	operators map[string]map[string]bool // contract → allowed operators
}

type balanceKey struct {
	contract string
	tokenID  uint64
	owner    string
}

// NewLedger creates an empty asset ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[balanceKey]int64),
		minters:   make(map[string]string),
		operators: make(map[string]map[string]bool),
	}
}

// SetMinter records the minter identity for a contract. The minter is always
// an allowed transfer operator.
func (l *Ledger) SetMinter(contract, minter string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minters[contract] = minter
}

// AddOperator allows an operator to move units of the given contract.
func (l *Ledger) AddOperator(contract, operator string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ops, ok := l.operators[contract]
	if !ok {
		ops = make(map[string]bool)
		l.operators[contract] = ops
	}
	ops[operator] = true
}

// Mint credits newly created units to an owner.
func (l *Ledger) Mint(contract, to string, tokenID uint64, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("asset: mint quantity must be positive, got %d", quantity)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey{contract, tokenID, to}] += quantity
	return nil
}

// BalanceOf returns the owner's unit balance for one token of one contract.
func (l *Ledger) BalanceOf(_ context.Context, contract, owner string, tokenID uint64) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{contract, tokenID, owner}], nil
}

// SafeTransferFrom moves units between owners. The operator must be the
// contract's minter or on its allowed-operator set.
func (l *Ledger) SafeTransferFrom(_ context.Context, operator, contract, from, to string, tokenID uint64, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("asset: transfer quantity must be positive, got %d", quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.minters[contract] != operator && !l.operators[contract][operator] {
		return fmt.Errorf("%w: %s on %s", ErrOnlyMinterOrOperator, operator, contract)
	}

	fromKey := balanceKey{contract, tokenID, from}
	if l.balances[fromKey] < quantity {
		return fmt.Errorf("%w: %s holds %d of token %d, need %d",
			ErrInsufficientUnits, from, l.balances[fromKey], tokenID, quantity)
	}

	l.balances[fromKey] -= quantity
	l.balances[balanceKey{contract, tokenID, to}] += quantity
	return nil
}
