// Package store defines the persistence interface for the marketplace
// ledger: sale listings, per-owner contract membership, and aggregate listed
// amounts. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/treehouse/marketplace-ledger/internal/model"
)

var (
	// ErrListingNotFound is returned when no listing exists for an id.
	ErrListingNotFound = errors.New("store: listing not found")

	// ErrListingNotActive is returned when an operation targets a retired
	// listing. Retirement is terminal.
	ErrListingNotActive = errors.New("store: listing is not currently listed")

	// ErrInsufficientQuantity is returned when a reduction exceeds the
	// listing's remaining quantity.
	ErrInsufficientQuantity = errors.New("store: amount exceeds remaining listing quantity")
)

// UpdateKind tags the outcome of an UpdateListing call.
type UpdateKind int

const (
	// PriceOnly means the quantity was unchanged and the price was mutated
	// in place on the original id.
	PriceOnly UpdateKind = iota

	// SplitIntoTwo means a new listing was created for the requested
	// quantity at the new price, with any remainder left on the original id
	// at the original price.
	SplitIntoTwo
)

// UpdateOutcome describes what an update did to the listing book.
type UpdateOutcome struct {
	Kind UpdateKind

	// Original is the post-update state of the original listing. On a split
	// that consumed the full quantity it is retired (quantity 0).
	Original model.Listing

	// Replacement is the newly created listing on a split, zero-valued for
	// PriceOnly.
	Replacement model.Listing
}

// Updated returns the listing carrying the requested quantity and price:
// the replacement on a split, otherwise the original.
func (o UpdateOutcome) Updated() model.Listing {
	if o.Kind == SplitIntoTwo {
		return o.Replacement
	}
	return o.Original
}

// Store is the persistence interface. Listing ids are assigned
// monotonically starting at 1 and are never reused.
type Store interface {
	// --- Listing book ---

	// CreateListing persists a new active listing and returns its id.
	CreateListing(ctx context.Context, contract string, tokenID uint64, quantity int64, pricePerUnit decimal.Decimal, creator string) (uint64, error)

	// GetListing retrieves a listing by id.
	GetListing(ctx context.Context, id uint64) (*model.Listing, error)

	// ReduceListing subtracts amount from a listing's quantity and returns
	// the remainder, retiring the listing when it reaches zero.
	ReduceListing(ctx context.Context, id uint64, amount int64) (int64, error)

	// UpdateListing applies the split-or-in-place update policy: an equal
	// quantity mutates the price in place, an unequal quantity creates a new
	// listing for it at the new price and leaves any remainder on the
	// original id at the original price.
	UpdateListing(ctx context.Context, id uint64, newQuantity int64, newPrice decimal.Decimal) (UpdateOutcome, error)

	// ListActiveListings returns all active listings in insertion order of
	// surviving ids.
	ListActiveListings(ctx context.Context) ([]model.Listing, error)

	// --- Sale receipts ---

	// InsertSaleReceipt appends an immutable sale record.
	InsertSaleReceipt(ctx context.Context, receipt *model.SaleReceipt) error

	// SaleReceiptsByContract returns all sales for a contract in time order.
	SaleReceiptsByContract(ctx context.Context, contract string) ([]model.SaleReceipt, error)

	// --- Inventory tracker ---

	// RecordAcquisition adds contract to the owner's held-contracts set.
	// Idempotent; acquisition order is preserved.
	RecordAcquisition(ctx context.Context, owner, contract string) error

	// RecordDivestiture removes the membership entry only when the owner's
	// remaining balance in the contract's token is zero; otherwise a no-op.
	RecordDivestiture(ctx context.Context, owner, contract string, remainingBalance int64) error

	// TokensOwned returns the owner's held contracts in acquisition order.
	TokensOwned(ctx context.Context, owner string) ([]string, error)

	// AmountListed returns the sum of quantities across the owner's active
	// listings for the contract.
	AmountListed(ctx context.Context, contract, owner string) (int64, error)

	// AdjustAmountListed applies a delta to the aggregate listed amount.
	// A result below zero indicates a broken transaction elsewhere and
	// panics.
	AdjustAmountListed(ctx context.Context, contract, owner string, delta int64) error
}
