package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/treehouse/marketplace-ledger/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write paths (primary first, then invalidate) ---

func (s *CachedStore) CreateListing(ctx context.Context, contract string, tokenID uint64, quantity int64, pricePerUnit decimal.Decimal, creator string) (uint64, error) {
	id, err := s.primary.CreateListing(ctx, contract, tokenID, quantity, pricePerUnit, creator)
	if err != nil {
		return 0, err
	}
	s.rdb.Del(ctx, activeListingsKey)
	return id, nil
}

func (s *CachedStore) ReduceListing(ctx context.Context, id uint64, amount int64) (int64, error) {
	remaining, err := s.primary.ReduceListing(ctx, id, amount)
	if err != nil {
		return 0, err
	}
	s.rdb.Del(ctx, listingKey(id), activeListingsKey)
	return remaining, nil
}

func (s *CachedStore) UpdateListing(ctx context.Context, id uint64, newQuantity int64, newPrice decimal.Decimal) (UpdateOutcome, error) {
	outcome, err := s.primary.UpdateListing(ctx, id, newQuantity, newPrice)
	if err != nil {
		return UpdateOutcome{}, err
	}
	s.rdb.Del(ctx, listingKey(id), activeListingsKey)
	return outcome, nil
}

func (s *CachedStore) InsertSaleReceipt(ctx context.Context, receipt *model.SaleReceipt) error {
	return s.primary.InsertSaleReceipt(ctx, receipt)
}

func (s *CachedStore) RecordAcquisition(ctx context.Context, owner, contract string) error {
	if err := s.primary.RecordAcquisition(ctx, owner, contract); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(owner))
	return nil
}

func (s *CachedStore) RecordDivestiture(ctx context.Context, owner, contract string, remainingBalance int64) error {
	if err := s.primary.RecordDivestiture(ctx, owner, contract, remainingBalance); err != nil {
		return err
	}
	if remainingBalance == 0 {
		s.rdb.Del(ctx, holdingsKey(owner))
	}
	return nil
}

func (s *CachedStore) AdjustAmountListed(ctx context.Context, contract, owner string, delta int64) error {
	if err := s.primary.AdjustAmountListed(ctx, contract, owner, delta); err != nil {
		return err
	}
	s.rdb.Del(ctx, amountKey(contract, owner))
	return nil
}

// --- Read-through paths ---

func (s *CachedStore) GetListing(ctx context.Context, id uint64) (*model.Listing, error) {
	data, err := s.rdb.Get(ctx, listingKey(id)).Bytes()
	if err == nil {
		var l model.Listing
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	l, err := s.primary.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(l); err == nil {
		s.rdb.Set(ctx, listingKey(id), data, s.ttl)
	}
	return l, nil
}

func (s *CachedStore) ListActiveListings(ctx context.Context) ([]model.Listing, error) {
	data, err := s.rdb.Get(ctx, activeListingsKey).Bytes()
	if err == nil {
		var listings []model.Listing
		if json.Unmarshal(data, &listings) == nil {
			return listings, nil
		}
	}

	listings, err := s.primary.ListActiveListings(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(listings); err == nil {
		s.rdb.Set(ctx, activeListingsKey, data, s.ttl)
	}
	return listings, nil
}

func (s *CachedStore) TokensOwned(ctx context.Context, owner string) ([]string, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(owner)).Bytes()
	if err == nil {
		var contracts []string
		if json.Unmarshal(data, &contracts) == nil {
			return contracts, nil
		}
	}

	contracts, err := s.primary.TokensOwned(ctx, owner)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(contracts); err == nil {
		s.rdb.Set(ctx, holdingsKey(owner), data, s.ttl)
	}
	return contracts, nil
}

func (s *CachedStore) AmountListed(ctx context.Context, contract, owner string) (int64, error) {
	val, err := s.rdb.Get(ctx, amountKey(contract, owner)).Result()
	if err == nil {
		if amount, convErr := strconv.ParseInt(val, 10, 64); convErr == nil {
			return amount, nil
		}
	}

	amount, err := s.primary.AmountListed(ctx, contract, owner)
	if err != nil {
		return 0, err
	}

	s.rdb.Set(ctx, amountKey(contract, owner), strconv.FormatInt(amount, 10), s.ttl)
	return amount, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) SaleReceiptsByContract(ctx context.Context, contract string) ([]model.SaleReceipt, error) {
	return s.primary.SaleReceiptsByContract(ctx, contract)
}

// --- Cache keys ---

const activeListingsKey = "listings:active"

func listingKey(id uint64) string            { return fmt.Sprintf("listing:%d", id) }
func holdingsKey(owner string) string        { return fmt.Sprintf("holdings:%s", owner) }
func amountKey(contract, owner string) string { return fmt.Sprintf("listed:%s:%s", contract, owner) }
