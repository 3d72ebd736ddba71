// Package model defines the core domain types shared across the marketplace
// ledger. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing is an active offer to sell a quantity of one token at a fixed
// per-unit price. Quantity counts the units still available; a listing whose
// quantity reaches zero is retired (active=false) and never reactivated.
type Listing struct {
	ID           uint64          `json:"listing_id" db:"listing_id"`
	Contract     string          `json:"contract" db:"contract"`
	TokenID      uint64          `json:"token_id" db:"token_id"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	Creator      string          `json:"creator" db:"creator"`
	Active       bool            `json:"active" db:"active"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Total returns quantity × pricePerUnit for the given fill quantity.
func (l Listing) Total(quantity int64) decimal.Decimal {
	return l.PricePerUnit.Mul(decimal.NewFromInt(quantity))
}

// SaleReceipt is an immutable record of an executed purchase.
// Once created, these are never modified or deleted.
type SaleReceipt struct {
	ID             string          `json:"id" db:"id"`
	ListingID      uint64          `json:"listing_id" db:"listing_id"`
	Contract       string          `json:"contract" db:"contract"`
	TokenID        uint64          `json:"token_id" db:"token_id"`
	Creator        string          `json:"creator" db:"creator"`
	Buyer          string          `json:"buyer" db:"buyer"`
	Quantity       int64           `json:"quantity" db:"quantity"`
	PricePerUnit   decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	Total          decimal.Decimal `json:"total" db:"total"`
	PlatformFee    decimal.Decimal `json:"platform_fee" db:"platform_fee"`
	Royalty        decimal.Decimal `json:"royalty" db:"royalty"`
	SellerProceeds decimal.Decimal `json:"seller_proceeds" db:"seller_proceeds"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// UserToken is one row of a user's inventory view: a contract the user
// currently holds units of, annotated with the user's active listing for
// that contract, if any.
type UserToken struct {
	Contract string   `json:"contract"`
	Listed   bool     `json:"currently_listed"`
	Listing  *Listing `json:"listing,omitempty"`
}
