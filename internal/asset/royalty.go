package asset

import (
	"sync"
)

// RoyaltyRegistry holds per-contract royalty configuration. The recipient is
// fixed at registration time and continues to receive royalties on every
// resale, independent of who the current seller is.
type RoyaltyRegistry struct {
	mu      sync.RWMutex
	entries map[string]royaltyEntry
}

type royaltyEntry struct {
	recipient string
	bps       int64
}

// NewRoyaltyRegistry creates an empty royalty registry.
func NewRoyaltyRegistry() *RoyaltyRegistry {
	return &RoyaltyRegistry{entries: make(map[string]royaltyEntry)}
}

// Register records the royalty recipient and basis-point rate for a contract.
// Re-registering overwrites the previous entry.
func (r *RoyaltyRegistry) Register(contract, recipient string, bps int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[contract] = royaltyEntry{recipient: recipient, bps: bps}
}

// RoyaltyBps returns the royalty rate for a contract in basis points.
// Unregistered contracts pay no royalty.
func (r *RoyaltyRegistry) RoyaltyBps(contract string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[contract].bps
}

// RoyaltyRecipient returns the identity entitled to the contract's royalty,
// or "" if none is registered.
func (r *RoyaltyRegistry) RoyaltyRecipient(contract string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[contract].recipient
}
