// Package asset handles asset-contract address validation, per-contract
// royalty configuration, and an in-memory ERC-1155-style balance ledger used
// for development and testing. In production the balance ledger is the chain
// itself; the marketplace only consumes the interfaces defined in market.
package asset

import (
	"errors"
	"fmt"
	"regexp"
)

// addressRegex matches a 0x-prefixed 20-byte hex address.
var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var (
	ErrInvalidContract = errors.New("asset: invalid contract address")
)

// ValidContract validates an asset contract identifier.
func ValidContract(addr string) error {
	if !addressRegex.MatchString(addr) {
		return fmt.Errorf("%w: %s (expected 0x-prefixed 40 hex chars)", ErrInvalidContract, addr)
	}
	return nil
}
