// Package payment defines the payment rail consumed by the trade engine and
// the fee/royalty split arithmetic applied to every sale.
//
// All monetary values use shopspring/decimal — never float64 for money.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of decimal places for fee/royalty rounding.
var AmountScale int32 = 8

var bpsDenominator = decimal.NewFromInt(10000)

// ErrInsufficientFunds is returned when a transfer exceeds the sender's
// balance.
var ErrInsufficientFunds = errors.New("payment: insufficient funds")

// Rail moves funds between identities. Transfers either fully apply or
// return an error with no balance change.
type Rail interface {
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error
}

// Split divides a sale total into platform fee, royalty, and seller
// proceeds using basis-point rates. The seller receives the exact remainder
// so the three parts always sum to total.
func Split(total decimal.Decimal, feeBps, royaltyBps int64) (fee, royalty, sellerNet decimal.Decimal) {
	fee = total.Mul(decimal.NewFromInt(feeBps)).DivRound(bpsDenominator, AmountScale)
	royalty = total.Mul(decimal.NewFromInt(royaltyBps)).DivRound(bpsDenominator, AmountScale)
	sellerNet = total.Sub(fee).Sub(royalty)
	return fee, royalty, sellerNet
}

// MemoryRail implements Rail with an in-memory account→balance map. Used for
// testing and development; production deployments inject a real rail.
type MemoryRail struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

// NewMemoryRail creates an empty in-memory payment rail.
func NewMemoryRail() *MemoryRail {
	return &MemoryRail{balances: make(map[string]decimal.Decimal)}
}

// Deposit credits an account. Used to fund buyers in tests and dev mode.
func (r *MemoryRail) Deposit(account string, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[account] = r.balances[account].Add(amount)
}

// Balance returns an account's current balance.
func (r *MemoryRail) Balance(account string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[account]
}

// Transfer moves amount from one account to another, failing without any
// balance change if the sender cannot cover it.
func (r *MemoryRail) Transfer(_ context.Context, from, to string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("payment: negative transfer amount %s", amount)
	}
	if amount.IsZero() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.balances[from].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientFunds, from, r.balances[from], amount)
	}
	r.balances[from] = r.balances[from].Sub(amount)
	r.balances[to] = r.balances[to].Add(amount)
	return nil
}
