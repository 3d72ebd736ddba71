package market

import "errors"

var (
	// ErrExceedsOwnedBalance is returned when a listing (or a quantity
	// increase on update) would exceed the creator's unlisted balance.
	ErrExceedsOwnedBalance = errors.New("market: cannot list more than owned")

	// ErrExceedsListedQuantity is returned when a purchase asks for more
	// units than the listing has remaining.
	ErrExceedsListedQuantity = errors.New("market: cannot buy more than listing quantity")

	// ErrInsufficientPayment is returned when the supplied payment does not
	// equal quantity × pricePerUnit.
	ErrInsufficientPayment = errors.New("market: payment does not match total price")

	// ErrNotAuthorized is returned when a caller other than the listing
	// creator attempts to cancel or update it.
	ErrNotAuthorized = errors.New("market: only listing creator can modify listing")

	// ErrInsufficientBalance is returned when a cancellation amount exceeds
	// the listing's remaining quantity.
	ErrInsufficientBalance = errors.New("market: insufficient balance, cannot cancel that amount")

	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("market: quantity must be positive")

	// ErrInvalidPrice is returned for negative per-unit prices.
	ErrInvalidPrice = errors.New("market: price per unit must not be negative")
)
