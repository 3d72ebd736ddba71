// Package market implements the trade engine of the marketplace ledger:
// atomic List / Buy / Cancel / Update transitions over the listing book and
// inventory tracker, with platform fee and royalty distribution, plus the
// read-only query layer.
//
// All monetary values use shopspring/decimal — never float64 for money.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/treehouse/marketplace-ledger/internal/asset"
	"github.com/treehouse/marketplace-ledger/internal/metrics"
	"github.com/treehouse/marketplace-ledger/internal/model"
	"github.com/treehouse/marketplace-ledger/internal/payment"
	"github.com/treehouse/marketplace-ledger/internal/store"
)

// DefaultPlatformFeeBps is the platform's cut of every sale in basis points
// (250 = 2.5%).
const DefaultPlatformFeeBps = 250

// AssetLedger is the external balance source. The marketplace never tracks
// raw unit balances itself; it only reads them and instructs transfers.
type AssetLedger interface {
	BalanceOf(ctx context.Context, contract, owner string, tokenID uint64) (int64, error)
	SafeTransferFrom(ctx context.Context, operator, contract, from, to string, tokenID uint64, quantity int64) error
}

// RoyaltyConfig resolves the per-contract royalty rate and recipient. The
// recipient is fixed at registration time and keeps receiving royalties on
// every resale.
type RoyaltyConfig interface {
	RoyaltyBps(contract string) int64
	RoyaltyRecipient(contract string) string
}

// Service executes marketplace operations. A mutex serializes all mutations
// (single-instance). For horizontal scaling, replace with distributed
// locking or database-level optimistic concurrency.
type Service struct {
	store     store.Store
	assets    AssetLedger
	royalties RoyaltyConfig
	payments  payment.Rail

	feeBps   int64
	treasury string
	operator string // identity the marketplace transfers units under

	mu  sync.Mutex
	hub *EventHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new marketplace service with the default platform
// fee. Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, assets AssetLedger, royalties RoyaltyConfig, payments payment.Rail, hub *EventHub) *Service {
	return &Service{
		store:     st,
		assets:    assets,
		royalties: royalties,
		payments:  payments,
		feeBps:    DefaultPlatformFeeBps,
		treasury:  "treasury",
		operator:  "marketplace",
		hub:       hub,
	}
}

// Configure overrides the platform fee rate, treasury account, and the
// operator identity used for unit transfers. Call before serving traffic.
func (s *Service) Configure(feeBps int64, treasury, operator string) {
	s.feeBps = feeBps
	s.treasury = treasury
	s.operator = operator
}

// Treasury returns the account receiving the platform fee cut.
func (s *Service) Treasury() string { return s.treasury }

// ListingParams carries the caller-supplied listing fields for List and
// Update.
type ListingParams struct {
	Contract     string          `json:"contract"`
	TokenID      uint64          `json:"token_id"`
	Quantity     int64           `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

func (p ListingParams) validate() error {
	if err := asset.ValidContract(p.Contract); err != nil {
		return err
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, p.Quantity)
	}
	if p.PricePerUnit.IsNegative() {
		return fmt.Errorf("%w: got %s", ErrInvalidPrice, p.PricePerUnit)
	}
	return nil
}

// List publishes a sale listing for quantity units of the creator's tokens.
// The creator's unlisted balance (external balance minus amount already
// listed for that contract) must cover the quantity.
func (s *Service) List(ctx context.Context, p ListingParams, creator string) (*model.Listing, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.assets.BalanceOf(ctx, p.Contract, creator, p.TokenID)
	if err != nil {
		return nil, fmt.Errorf("balance lookup: %w", err)
	}
	alreadyListed, err := s.store.AmountListed(ctx, p.Contract, creator)
	if err != nil {
		return nil, err
	}
	if p.Quantity > balance-alreadyListed {
		return nil, fmt.Errorf("%w: balance %d, listed %d, asked %d",
			ErrExceedsOwnedBalance, balance, alreadyListed, p.Quantity)
	}

	id, err := s.store.CreateListing(ctx, p.Contract, p.TokenID, p.Quantity, p.PricePerUnit, creator)
	if err != nil {
		return nil, err
	}
	if err := s.store.AdjustAmountListed(ctx, p.Contract, creator, p.Quantity); err != nil {
		return nil, err
	}

	listing, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.ListingsCreated.Inc()
	s.refreshActiveGauge(ctx)

	slog.Info("listing created",
		"listing_id", id,
		"contract", p.Contract,
		"token_id", p.TokenID,
		"creator", creator,
		"quantity", p.Quantity,
		"price_per_unit", p.PricePerUnit.String(),
	)

	s.emit(Event{
		Type:         EventNewListing,
		ListingID:    listing.ID,
		Contract:     listing.Contract,
		TokenID:      listing.TokenID,
		Creator:      listing.Creator,
		Quantity:     listing.Quantity,
		PricePerUnit: listing.PricePerUnit.String(),
	})
	return listing, nil
}

// Buy purchases quantity units from a listing. The supplied payment must
// equal quantity × pricePerUnit exactly. The payment split, unit transfer,
// and ledger mutation form one atomic unit: a failed transfer unwinds every
// leg already applied and leaves the ledger untouched.
func (s *Service) Buy(ctx context.Context, listingID uint64, buyer string, quantity int64, paid decimal.Decimal) (*model.SaleReceipt, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.Active {
		return nil, fmt.Errorf("%w: %d", store.ErrListingNotActive, listingID)
	}
	if quantity > l.Quantity {
		return nil, fmt.Errorf("%w: listing has %d, asked %d", ErrExceedsListedQuantity, l.Quantity, quantity)
	}

	total := l.Total(quantity)
	if !paid.Equal(total) {
		return nil, fmt.Errorf("%w: need %s, got %s", ErrInsufficientPayment, total, paid)
	}

	royaltyBps := s.royalties.RoyaltyBps(l.Contract)
	royaltyRecipient := s.royalties.RoyaltyRecipient(l.Contract)
	fee, royalty, sellerNet := payment.Split(total, s.feeBps, royaltyBps)

	// Payment legs first, then the unit transfer; any failure unwinds what
	// already applied so no partial sale is ever observable.
	legs := []paymentLeg{
		{from: buyer, to: s.treasury, amount: fee},
		{from: buyer, to: royaltyRecipient, amount: royalty},
		{from: buyer, to: l.Creator, amount: sellerNet},
	}
	if royaltyRecipient == "" {
		// No royalty registered for the contract; the creator keeps the
		// remainder undivided.
		legs[1] = paymentLeg{from: buyer, to: l.Creator, amount: royalty}
	}

	applied, err := s.applyPayments(ctx, legs)
	if err != nil {
		s.unwindPayments(ctx, applied)
		return nil, fmt.Errorf("payment failed: %w", err)
	}

	if err := s.assets.SafeTransferFrom(ctx, s.operator, l.Contract, l.Creator, buyer, l.TokenID, quantity); err != nil {
		s.unwindPayments(ctx, applied)
		return nil, fmt.Errorf("unit transfer failed: %w", err)
	}

	remaining, err := s.store.ReduceListing(ctx, listingID, quantity)
	if err != nil {
		return nil, err
	}
	if err := s.store.AdjustAmountListed(ctx, l.Contract, l.Creator, -quantity); err != nil {
		return nil, err
	}

	sellerBalance, err := s.assets.BalanceOf(ctx, l.Contract, l.Creator, l.TokenID)
	if err != nil {
		return nil, fmt.Errorf("balance lookup: %w", err)
	}
	if err := s.store.RecordDivestiture(ctx, l.Creator, l.Contract, sellerBalance); err != nil {
		return nil, err
	}
	if err := s.store.RecordAcquisition(ctx, buyer, l.Contract); err != nil {
		return nil, err
	}

	receipt := &model.SaleReceipt{
		ID:             uuid.New().String(),
		ListingID:      l.ID,
		Contract:       l.Contract,
		TokenID:        l.TokenID,
		Creator:        l.Creator,
		Buyer:          buyer,
		Quantity:       quantity,
		PricePerUnit:   l.PricePerUnit,
		Total:          total,
		PlatformFee:    fee,
		Royalty:        royalty,
		SellerProceeds: sellerNet,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.store.InsertSaleReceipt(ctx, receipt); err != nil {
		return nil, err
	}

	metrics.Sales.Inc()
	metrics.SaleVolume.WithLabelValues(l.Contract).Add(float64(quantity))
	s.refreshActiveGauge(ctx)

	slog.Info("sale executed",
		"listing_id", l.ID,
		"contract", l.Contract,
		"token_id", l.TokenID,
		"creator", l.Creator,
		"buyer", buyer,
		"quantity", quantity,
		"total", total.String(),
		"fee", fee.String(),
		"royalty", royalty.String(),
		"remaining", remaining,
	)

	s.emit(Event{
		Type:         EventNewSale,
		ListingID:    l.ID,
		Contract:     l.Contract,
		TokenID:      l.TokenID,
		Creator:      l.Creator,
		Buyer:        buyer,
		Quantity:     quantity,
		PricePerUnit: l.PricePerUnit.String(),
	})
	return receipt, nil
}

// Cancel withdraws amount units from a listing. Only the listing's creator
// may cancel; cancellation authorization is tied to the identity recorded at
// listing time, not the current balance holder.
func (s *Service) Cancel(ctx context.Context, contract string, listingID uint64, amount int64, caller string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if l.Contract != contract {
		return fmt.Errorf("%w: %d is not a listing for %s", store.ErrListingNotFound, listingID, contract)
	}
	if !l.Active {
		return fmt.Errorf("%w: %d", store.ErrListingNotActive, listingID)
	}
	if caller != l.Creator {
		return fmt.Errorf("%w: %s is not the creator of listing %d", ErrNotAuthorized, caller, listingID)
	}
	if amount > l.Quantity {
		return fmt.Errorf("%w: listing has %d, asked %d", ErrInsufficientBalance, l.Quantity, amount)
	}

	remaining, err := s.store.ReduceListing(ctx, listingID, amount)
	if err != nil {
		return err
	}
	if err := s.store.AdjustAmountListed(ctx, contract, l.Creator, -amount); err != nil {
		return err
	}

	metrics.Cancellations.Inc()
	s.refreshActiveGauge(ctx)

	slog.Info("listing cancelled",
		"listing_id", listingID,
		"contract", contract,
		"creator", l.Creator,
		"amount", amount,
		"remaining", remaining,
	)

	s.emit(Event{
		Type:         EventCancelledListing,
		ListingID:    listingID,
		Contract:     contract,
		TokenID:      l.TokenID,
		Creator:      l.Creator,
		Quantity:     amount,
		PricePerUnit: l.PricePerUnit.String(),
	})
	return nil
}

// Update changes a listing's price and quantity. An equal quantity mutates
// the price in place; an unequal quantity splits the listing: the requested
// quantity moves to a new listing at the new price, the remainder stays
// active on the original id at the original price. Only the creator may
// update.
func (s *Service) Update(ctx context.Context, p ListingParams, listingID uint64, caller string) (store.UpdateOutcome, error) {
	if err := p.validate(); err != nil {
		return store.UpdateOutcome{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return store.UpdateOutcome{}, err
	}
	if !l.Active {
		return store.UpdateOutcome{}, fmt.Errorf("%w: %d", store.ErrListingNotActive, listingID)
	}
	if caller != l.Creator {
		return store.UpdateOutcome{}, fmt.Errorf("%w: %s is not the creator of listing %d", ErrNotAuthorized, caller, listingID)
	}
	if p.Contract != l.Contract {
		return store.UpdateOutcome{}, fmt.Errorf("%w: %d is not a listing for %s", store.ErrListingNotFound, listingID, p.Contract)
	}

	// Net change to the creator's aggregate listed amount. A shrink leaves
	// the remainder listed at the old price, so the aggregate is unchanged;
	// a growth must be covered by unlisted balance.
	delta := int64(0)
	if p.Quantity > l.Quantity {
		delta = p.Quantity - l.Quantity

		balance, err := s.assets.BalanceOf(ctx, l.Contract, l.Creator, l.TokenID)
		if err != nil {
			return store.UpdateOutcome{}, fmt.Errorf("balance lookup: %w", err)
		}
		alreadyListed, err := s.store.AmountListed(ctx, l.Contract, l.Creator)
		if err != nil {
			return store.UpdateOutcome{}, err
		}
		if delta > balance-alreadyListed {
			return store.UpdateOutcome{}, fmt.Errorf("%w: balance %d, listed %d, asked %d more",
				ErrExceedsOwnedBalance, balance, alreadyListed, delta)
		}
	}

	outcome, err := s.store.UpdateListing(ctx, listingID, p.Quantity, p.PricePerUnit)
	if err != nil {
		return store.UpdateOutcome{}, err
	}
	if delta != 0 {
		if err := s.store.AdjustAmountListed(ctx, l.Contract, l.Creator, delta); err != nil {
			return store.UpdateOutcome{}, err
		}
	}

	label := "price_only"
	if outcome.Kind == store.SplitIntoTwo {
		label = "split"
		metrics.ListingsCreated.Inc()
	}
	metrics.ListingUpdates.WithLabelValues(label).Inc()
	s.refreshActiveGauge(ctx)

	updated := outcome.Updated()
	slog.Info("listing updated",
		"listing_id", listingID,
		"outcome", label,
		"updated_id", updated.ID,
		"quantity", updated.Quantity,
		"price_per_unit", updated.PricePerUnit.String(),
	)

	s.emit(Event{
		Type:         EventUpdatedListing,
		ListingID:    updated.ID,
		Contract:     updated.Contract,
		TokenID:      updated.TokenID,
		Creator:      updated.Creator,
		Quantity:     updated.Quantity,
		PricePerUnit: updated.PricePerUnit.String(),
	})
	return outcome, nil
}

// RegisterMint records first-acquisition membership for newly minted units.
// Called by the minting collaborator, mirroring how contracts push new
// holders into the inventory tracker.
func (s *Service) RegisterMint(ctx context.Context, contract, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.RecordAcquisition(ctx, owner, contract)
}

// --- Payment legs ---

type paymentLeg struct {
	from, to string
	amount   decimal.Decimal
}

func (s *Service) applyPayments(ctx context.Context, legs []paymentLeg) ([]paymentLeg, error) {
	var applied []paymentLeg
	for _, leg := range legs {
		if leg.amount.IsZero() {
			continue
		}
		if err := s.payments.Transfer(ctx, leg.from, leg.to, leg.amount); err != nil {
			return applied, err
		}
		applied = append(applied, leg)
	}
	return applied, nil
}

func (s *Service) unwindPayments(ctx context.Context, applied []paymentLeg) {
	for i := len(applied) - 1; i >= 0; i-- {
		leg := applied[i]
		if err := s.payments.Transfer(ctx, leg.to, leg.from, leg.amount); err != nil {
			slog.Error("payment unwind failed",
				"from", leg.to, "to", leg.from, "amount", leg.amount.String(), "err", err)
		}
	}
}

func (s *Service) emit(ev Event) {
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
}

func (s *Service) refreshActiveGauge(ctx context.Context) {
	if listings, err := s.store.ListActiveListings(ctx); err == nil {
		metrics.ActiveListings.Set(float64(len(listings)))
	}
}
