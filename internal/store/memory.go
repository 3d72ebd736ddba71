package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/treehouse/marketplace-ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint64
	listings map[uint64]*model.Listing
	order    []uint64 // listing ids in insertion order
	receipts []model.SaleReceipt
	held     map[string]map[string]bool // owner → contract set
	holdings map[string][]string        // owner → contracts in acquisition order
	listed   map[string]int64           // contract|owner → aggregate listed amount
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		listings: make(map[uint64]*model.Listing),
		held:     make(map[string]map[string]bool),
		holdings: make(map[string][]string),
		listed:   make(map[string]int64),
	}
}

func aggregateKey(contract, owner string) string {
	return contract + "|" + owner
}

func (s *MemoryStore) CreateListing(_ context.Context, contract string, tokenID uint64, quantity int64, pricePerUnit decimal.Decimal, creator string) (uint64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("store: listing quantity must be positive, got %d", quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	s.listings[id] = &model.Listing{
		ID:           id,
		Contract:     contract,
		TokenID:      tokenID,
		Quantity:     quantity,
		PricePerUnit: pricePerUnit,
		Creator:      creator,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	s.order = append(s.order, id)
	return id, nil
}

func (s *MemoryStore) GetListing(_ context.Context, id uint64) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrListingNotFound, id)
	}
	copy := *l
	return &copy, nil
}

func (s *MemoryStore) ReduceListing(_ context.Context, id uint64, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reduceLocked(id, amount)
}

// reduceLocked subtracts amount and retires the listing at zero. Caller
// holds s.mu.
func (s *MemoryStore) reduceLocked(id uint64, amount int64) (int64, error) {
	l, ok := s.listings[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrListingNotFound, id)
	}
	if !l.Active {
		return 0, fmt.Errorf("%w: %d", ErrListingNotActive, id)
	}
	if amount > l.Quantity {
		return 0, fmt.Errorf("%w: listing %d has %d, asked %d", ErrInsufficientQuantity, id, l.Quantity, amount)
	}

	l.Quantity -= amount
	if l.Quantity == 0 {
		l.Active = false
	}
	return l.Quantity, nil
}

func (s *MemoryStore) UpdateListing(_ context.Context, id uint64, newQuantity int64, newPrice decimal.Decimal) (UpdateOutcome, error) {
	if newQuantity <= 0 {
		return UpdateOutcome{}, fmt.Errorf("store: updated quantity must be positive, got %d", newQuantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return UpdateOutcome{}, fmt.Errorf("%w: %d", ErrListingNotFound, id)
	}
	if !l.Active {
		return UpdateOutcome{}, fmt.Errorf("%w: %d", ErrListingNotActive, id)
	}

	if newQuantity == l.Quantity {
		l.PricePerUnit = newPrice
		return UpdateOutcome{Kind: PriceOnly, Original: *l}, nil
	}

	// Unequal quantity: keep any remainder at the old price on the original
	// id and open a fresh listing for the requested quantity at the new
	// price.
	remainder := l.Quantity - newQuantity
	if remainder < 0 {
		remainder = 0
	}
	l.Quantity = remainder
	if l.Quantity == 0 {
		l.Active = false
	}

	replacementID := s.nextID
	s.nextID++
	replacement := &model.Listing{
		ID:           replacementID,
		Contract:     l.Contract,
		TokenID:      l.TokenID,
		Quantity:     newQuantity,
		PricePerUnit: newPrice,
		Creator:      l.Creator,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	s.listings[replacementID] = replacement
	s.order = append(s.order, replacementID)

	return UpdateOutcome{
		Kind:        SplitIntoTwo,
		Original:    *l,
		Replacement: *replacement,
	}, nil
}

func (s *MemoryStore) ListActiveListings(_ context.Context) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listings := make([]model.Listing, 0, len(s.order))
	for _, id := range s.order {
		if l := s.listings[id]; l.Active {
			listings = append(listings, *l)
		}
	}
	return listings, nil
}

func (s *MemoryStore) InsertSaleReceipt(_ context.Context, receipt *model.SaleReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receipts = append(s.receipts, *receipt)
	return nil
}

func (s *MemoryStore) SaleReceiptsByContract(_ context.Context, contract string) ([]model.SaleReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SaleReceipt
	for _, r := range s.receipts {
		if r.Contract == contract {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) RecordAcquisition(_ context.Context, owner, contract string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.held[owner]
	if !ok {
		set = make(map[string]bool)
		s.held[owner] = set
	}
	if set[contract] {
		return nil
	}
	set[contract] = true
	s.holdings[owner] = append(s.holdings[owner], contract)
	return nil
}

func (s *MemoryStore) RecordDivestiture(_ context.Context, owner, contract string, remainingBalance int64) error {
	if remainingBalance != 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.held[owner][contract] {
		return nil
	}
	delete(s.held[owner], contract)

	contracts := s.holdings[owner]
	for i, c := range contracts {
		if c == contract {
			s.holdings[owner] = append(contracts[:i:i], contracts[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) TokensOwned(_ context.Context, owner string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contracts := make([]string, len(s.holdings[owner]))
	copy(contracts, s.holdings[owner])
	return contracts, nil
}

func (s *MemoryStore) AmountListed(_ context.Context, contract, owner string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listed[aggregateKey(contract, owner)], nil
}

func (s *MemoryStore) AdjustAmountListed(_ context.Context, contract, owner string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := aggregateKey(contract, owner)
	next := s.listed[key] + delta
	if next < 0 {
		panic(fmt.Sprintf("store: aggregate listed amount for %s went negative (%d%+d)", key, s.listed[key], delta))
	}
	s.listed[key] = next
	return nil
}
