package market

import (
	"context"

	"github.com/treehouse/marketplace-ledger/internal/model"
)

// Read-only projections over the listing book and inventory tracker. None
// of these mutate state; they see consistent snapshots through the store's
// own locking.

// AllActiveListings returns every active listing in stable insertion order
// of surviving ids.
func (s *Service) AllActiveListings(ctx context.Context) ([]model.Listing, error) {
	return s.store.ListActiveListings(ctx)
}

// UserTokens returns one row per contract the owner currently holds, in
// acquisition order, annotated with the owner's first active listing for
// that contract if one exists.
func (s *Service) UserTokens(ctx context.Context, owner string) ([]model.UserToken, error) {
	contracts, err := s.store.TokensOwned(ctx, owner)
	if err != nil {
		return nil, err
	}
	active, err := s.store.ListActiveListings(ctx)
	if err != nil {
		return nil, err
	}

	tokens := make([]model.UserToken, 0, len(contracts))
	for _, contract := range contracts {
		token := model.UserToken{Contract: contract}
		for i := range active {
			if active[i].Contract == contract && active[i].Creator == owner {
				l := active[i]
				token.Listed = true
				token.Listing = &l
				break
			}
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// OwnerAmountListed returns the sum of quantities across the owner's active
// listings for the contract.
func (s *Service) OwnerAmountListed(ctx context.Context, contract, owner string) (int64, error) {
	return s.store.AmountListed(ctx, contract, owner)
}

// TokensOwned returns the contracts the owner currently holds units of, in
// acquisition order.
func (s *Service) TokensOwned(ctx context.Context, owner string) ([]string, error) {
	return s.store.TokensOwned(ctx, owner)
}

// SalesHistory returns the immutable sale receipts for a contract in time
// order.
func (s *Service) SalesHistory(ctx context.Context, contract string) ([]model.SaleReceipt, error) {
	return s.store.SaleReceiptsByContract(ctx, contract)
}
