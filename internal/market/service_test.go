package market_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/treehouse/marketplace-ledger/internal/asset"
	"github.com/treehouse/marketplace-ledger/internal/market"
	"github.com/treehouse/marketplace-ledger/internal/payment"
	"github.com/treehouse/marketplace-ledger/internal/store"
)

const (
	contractA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	contractB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	minter = "minter"
	tokenA = uint64(1)
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	svc       *market.Service
	st        *store.MemoryStore
	assets    *asset.Ledger
	royalties *asset.RoyaltyRegistry
	rail      *payment.MemoryRail
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	e := &testEnv{
		st:        store.NewMemoryStore(),
		assets:    asset.NewLedger(),
		royalties: asset.NewRoyaltyRegistry(),
		rail:      payment.NewMemoryRail(),
	}
	e.svc = market.NewService(e.st, e.assets, e.royalties, e.rail, nil)

	for _, c := range []string{contractA, contractB} {
		e.assets.SetMinter(c, minter)
		e.assets.AddOperator(c, "marketplace")
	}
	return e
}

func (e *testEnv) mint(t *testing.T, contract, owner string, quantity int64) {
	t.Helper()
	if err := e.assets.Mint(contract, owner, tokenA, quantity); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := e.svc.RegisterMint(context.Background(), contract, owner); err != nil {
		t.Fatalf("register mint: %v", err)
	}
}

func (e *testEnv) list(t *testing.T, contract, creator string, quantity int64, price float64) uint64 {
	t.Helper()
	l, err := e.svc.List(context.Background(), market.ListingParams{
		Contract:     contract,
		TokenID:      tokenA,
		Quantity:     quantity,
		PricePerUnit: d(price),
	}, creator)
	if err != nil {
		t.Fatalf("list %d @ %v for %s: %v", quantity, price, creator, err)
	}
	return l.ID
}

func (e *testEnv) buy(t *testing.T, listingID uint64, buyer string, quantity int64, paid float64) {
	t.Helper()
	e.rail.Deposit(buyer, d(paid))
	if _, err := e.svc.Buy(context.Background(), listingID, buyer, quantity, d(paid)); err != nil {
		t.Fatalf("buy %d from listing %d as %s: %v", quantity, listingID, buyer, err)
	}
}

func TestList_ExceedsOwnedBalance(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 5)

	e.list(t, contractA, "alice", 1, 1)
	e.list(t, contractA, "alice", 4, 1)

	// Every unit is now listed; one more unit has nothing backing it.
	_, err := e.svc.List(context.Background(), market.ListingParams{
		Contract: contractA, TokenID: tokenA, Quantity: 1, PricePerUnit: d(1),
	}, "alice")
	if !errors.Is(err, market.ErrExceedsOwnedBalance) {
		t.Errorf("expected ErrExceedsOwnedBalance, got %v", err)
	}
}

func TestList_RejectsInvalidInput(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 5)
	ctx := context.Background()

	cases := []struct {
		name string
		p    market.ListingParams
		want error
	}{
		{"bad contract", market.ListingParams{Contract: "nope", TokenID: tokenA, Quantity: 1, PricePerUnit: d(1)}, asset.ErrInvalidContract},
		{"zero quantity", market.ListingParams{Contract: contractA, TokenID: tokenA, Quantity: 0, PricePerUnit: d(1)}, market.ErrInvalidQuantity},
		{"negative price", market.ListingParams{Contract: contractA, TokenID: tokenA, Quantity: 1, PricePerUnit: d(-1)}, market.ErrInvalidPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.svc.List(ctx, tc.p, "alice"); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBuy_FullQuantityRetiresListingAndMovesInventory(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 1)
	id := e.list(t, contractA, "alice", 1, 1)

	e.buy(t, id, "bob", 1, 1)

	l, err := e.st.GetListing(context.Background(), id)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if l.Active {
		t.Error("fully bought listing should be retired")
	}

	balance, _ := e.assets.BalanceOf(context.Background(), contractA, "bob", tokenA)
	if balance != 1 {
		t.Errorf("expected buyer balance 1, got %d", balance)
	}
	balance, _ = e.assets.BalanceOf(context.Background(), contractA, "alice", tokenA)
	if balance != 0 {
		t.Errorf("expected seller balance 0, got %d", balance)
	}

	// Seller divested to zero, buyer acquired: membership flips.
	aliceTokens, _ := e.svc.TokensOwned(context.Background(), "alice")
	if len(aliceTokens) != 0 {
		t.Errorf("expected alice out of contract membership, got %v", aliceTokens)
	}
	bobTokens, _ := e.svc.TokensOwned(context.Background(), "bob")
	if len(bobTokens) != 1 || bobTokens[0] != contractA {
		t.Errorf("expected bob to hold [%s], got %v", contractA, bobTokens)
	}
}

func TestBuy_PartialFillKeepsListingActive(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 10)
	id := e.list(t, contractA, "alice", 10, 1)

	e.buy(t, id, "bob", 4, 4)

	l, _ := e.st.GetListing(context.Background(), id)
	if !l.Active || l.Quantity != 6 {
		t.Errorf("expected active listing with quantity 6, got active=%v quantity=%d", l.Active, l.Quantity)
	}

	// Seller still holds units, so membership survives.
	aliceTokens, _ := e.svc.TokensOwned(context.Background(), "alice")
	if len(aliceTokens) != 1 {
		t.Errorf("expected alice to keep membership, got %v", aliceTokens)
	}

	listed, _ := e.svc.OwnerAmountListed(context.Background(), contractA, "alice")
	if listed != 6 {
		t.Errorf("expected amount listed 6, got %d", listed)
	}
}

func TestBuy_ExceedsListedQuantity(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 3)
	id := e.list(t, contractA, "alice", 3, 1)

	e.rail.Deposit("bob", d(4))
	_, err := e.svc.Buy(context.Background(), id, "bob", 4, d(4))
	if !errors.Is(err, market.ErrExceedsListedQuantity) {
		t.Errorf("expected ErrExceedsListedQuantity, got %v", err)
	}
}

func TestBuy_RequiresExactPayment(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 2)
	id := e.list(t, contractA, "alice", 2, 1.5)

	e.rail.Deposit("bob", d(10))

	for _, paid := range []float64{2.9, 3.1} {
		if _, err := e.svc.Buy(context.Background(), id, "bob", 2, d(paid)); !errors.Is(err, market.ErrInsufficientPayment) {
			t.Errorf("payment %v: expected ErrInsufficientPayment, got %v", paid, err)
		}
	}

	if _, err := e.svc.Buy(context.Background(), id, "bob", 2, d(3)); err != nil {
		t.Errorf("exact payment should succeed: %v", err)
	}
}

func TestBuy_FeeAndRoyaltyDistribution(t *testing.T) {
	e := newTestEnv(t)
	e.royalties.Register(contractA, "alice", 500) // 5% back to the original creator
	e.mint(t, contractA, "alice", 1)
	id := e.list(t, contractA, "alice", 1, 1)

	e.buy(t, id, "bob", 1, 1)

	// 2.5% platform fee to the treasury, 5% royalty plus 92.5% proceeds to
	// alice, who is both seller and royalty recipient on the first sale.
	if got := e.rail.Balance(e.svc.Treasury()); !got.Equal(d(0.025)) {
		t.Errorf("expected treasury 0.025, got %s", got)
	}
	if got := e.rail.Balance("alice"); !got.Equal(d(0.975)) {
		t.Errorf("expected alice 0.975, got %s", got)
	}
	if got := e.rail.Balance("bob"); !got.IsZero() {
		t.Errorf("expected bob fully spent, got %s", got)
	}

	receipts, _ := e.svc.SalesHistory(context.Background(), contractA)
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt, got %d", len(receipts))
	}
	r := receipts[0]
	if !r.PlatformFee.Equal(d(0.025)) || !r.Royalty.Equal(d(0.05)) || !r.SellerProceeds.Equal(d(0.925)) {
		t.Errorf("unexpected receipt split: fee=%s royalty=%s proceeds=%s", r.PlatformFee, r.Royalty, r.SellerProceeds)
	}
	if !r.PlatformFee.Add(r.Royalty).Add(r.SellerProceeds).Equal(r.Total) {
		t.Errorf("split must sum to total %s", r.Total)
	}
}

func TestBuy_RoyaltyFollowsOriginalRecipientOnResale(t *testing.T) {
	e := newTestEnv(t)
	e.royalties.Register(contractA, "alice", 500)
	e.mint(t, contractA, "alice", 1)

	// First sale: alice → bob.
	id := e.list(t, contractA, "alice", 1, 1)
	e.buy(t, id, "bob", 1, 1)
	aliceAfterFirst := e.rail.Balance("alice")

	// Resale: bob → carol. Alice is no longer the seller but still collects
	// the royalty.
	id = e.list(t, contractA, "bob", 1, 2)
	e.buy(t, id, "carol", 1, 2)

	royalty := e.rail.Balance("alice").Sub(aliceAfterFirst)
	if !royalty.Equal(d(0.1)) {
		t.Errorf("expected alice to collect royalty 0.1 on resale, got %s", royalty)
	}
	if got := e.rail.Balance("bob"); !got.Equal(d(1.85)) {
		t.Errorf("expected bob proceeds 1.85 (2 minus fee 0.05 minus royalty 0.1), got %s", got)
	}
	if got := e.rail.Balance(e.svc.Treasury()); !got.Equal(d(0.075)) {
		t.Errorf("expected treasury 0.075 across two sales, got %s", got)
	}
}

func TestBuy_NoRoyaltyRegisteredPaysSellerFull(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 1)
	id := e.list(t, contractA, "alice", 1, 1)

	e.buy(t, id, "bob", 1, 1)

	if got := e.rail.Balance("alice"); !got.Equal(d(0.975)) {
		t.Errorf("expected alice 0.975 with no royalty registered, got %s", got)
	}
}

func TestBuy_InsufficientFundsLeavesLedgerUntouched(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 1)
	id := e.list(t, contractA, "alice", 1, 1)

	// Bob claims to pay 1 but holds nothing.
	_, err := e.svc.Buy(context.Background(), id, "bob", 1, d(1))
	if !errors.Is(err, payment.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	l, _ := e.st.GetListing(context.Background(), id)
	if !l.Active || l.Quantity != 1 {
		t.Errorf("failed buy must not touch the listing, got active=%v quantity=%d", l.Active, l.Quantity)
	}
	balance, _ := e.assets.BalanceOf(context.Background(), contractA, "alice", tokenA)
	if balance != 1 {
		t.Errorf("failed buy must not move units, alice holds %d", balance)
	}
	if got := e.rail.Balance(e.svc.Treasury()); !got.IsZero() {
		t.Errorf("failed buy must not leave partial payments, treasury holds %s", got)
	}
}

func TestBuy_FailedUnitTransferUnwindsPayments(t *testing.T) {
	e := newTestEnv(t)
	// contractB intentionally gets no marketplace operator, so the unit
	// transfer is rejected after the payment legs applied.
	fresh := asset.NewLedger()
	fresh.SetMinter(contractB, minter)
	e.assets = fresh
	e.svc = market.NewService(e.st, e.assets, e.royalties, e.rail, nil)

	e.mint(t, contractB, "alice", 1)
	id := e.list(t, contractB, "alice", 1, 1)

	e.rail.Deposit("bob", d(1))
	_, err := e.svc.Buy(context.Background(), id, "bob", 1, d(1))
	if !errors.Is(err, asset.ErrOnlyMinterOrOperator) {
		t.Fatalf("expected ErrOnlyMinterOrOperator, got %v", err)
	}

	// Every payment leg rolled back.
	if got := e.rail.Balance("bob"); !got.Equal(d(1)) {
		t.Errorf("expected bob refunded to 1, got %s", got)
	}
	if got := e.rail.Balance("alice"); !got.IsZero() {
		t.Errorf("expected alice unpaid, got %s", got)
	}
	if got := e.rail.Balance(e.svc.Treasury()); !got.IsZero() {
		t.Errorf("expected treasury unpaid, got %s", got)
	}

	l, _ := e.st.GetListing(context.Background(), id)
	if !l.Active || l.Quantity != 1 {
		t.Errorf("failed buy must not touch the listing, got active=%v quantity=%d", l.Active, l.Quantity)
	}
}

func TestBuy_RetiredListingRejected(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 1)
	id := e.list(t, contractA, "alice", 1, 1)
	e.buy(t, id, "bob", 1, 1)

	e.rail.Deposit("carol", d(1))
	_, err := e.svc.Buy(context.Background(), id, "carol", 1, d(1))
	if !errors.Is(err, store.ErrListingNotActive) {
		t.Errorf("expected ErrListingNotActive, got %v", err)
	}
}

func TestCancel_CreatorOnly(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 5)
	id := e.list(t, contractA, "alice", 5, 1)

	err := e.svc.Cancel(context.Background(), contractA, id, 5, "mallory")
	if !errors.Is(err, market.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestCancel_PartialAndFull(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 5)
	id := e.list(t, contractA, "alice", 5, 1)
	ctx := context.Background()

	if err := e.svc.Cancel(ctx, contractA, id, 2, "alice"); err != nil {
		t.Fatalf("partial cancel: %v", err)
	}
	l, _ := e.st.GetListing(ctx, id)
	if !l.Active || l.Quantity != 3 {
		t.Errorf("expected active with 3 left, got active=%v quantity=%d", l.Active, l.Quantity)
	}

	// A cancel above the remainder fails before any mutation.
	err := e.svc.Cancel(ctx, contractA, id, 4, "alice")
	if !errors.Is(err, market.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	if err := e.svc.Cancel(ctx, contractA, id, 3, "alice"); err != nil {
		t.Fatalf("full cancel: %v", err)
	}
	l, _ = e.st.GetListing(ctx, id)
	if l.Active {
		t.Error("fully cancelled listing should be retired")
	}

	listed, _ := e.svc.OwnerAmountListed(ctx, contractA, "alice")
	if listed != 0 {
		t.Errorf("expected amount listed 0, got %d", listed)
	}
}

func TestCancel_ContractMismatchIsNotFound(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 1)
	id := e.list(t, contractA, "alice", 1, 1)

	err := e.svc.Cancel(context.Background(), contractB, id, 1, "alice")
	if !errors.Is(err, store.ErrListingNotFound) {
		t.Errorf("expected ErrListingNotFound for contract mismatch, got %v", err)
	}
}

func TestUpdate_PriceInPlace(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 5)
	id := e.list(t, contractA, "alice", 5, 1)

	outcome, err := e.svc.Update(context.Background(), market.ListingParams{
		Contract: contractA, TokenID: tokenA, Quantity: 5, PricePerUnit: d(2),
	}, id, "alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome.Kind != store.PriceOnly {
		t.Fatalf("expected PriceOnly, got %v", outcome.Kind)
	}
	if outcome.Updated().ID != id || !outcome.Updated().PricePerUnit.Equal(d(2)) {
		t.Errorf("expected price 2 on id %d, got %s on %d", id, outcome.Updated().PricePerUnit, outcome.Updated().ID)
	}

	listed, _ := e.svc.OwnerAmountListed(context.Background(), contractA, "alice")
	if listed != 5 {
		t.Errorf("price-only update must not change amount listed, got %d", listed)
	}
}

func TestUpdate_CreatorOnly(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 5)
	id := e.list(t, contractA, "alice", 5, 1)

	_, err := e.svc.Update(context.Background(), market.ListingParams{
		Contract: contractA, TokenID: tokenA, Quantity: 5, PricePerUnit: d(2),
	}, id, "mallory")
	if !errors.Is(err, market.ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestUpdate_SplitAndBuyOut(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 10)
	id := e.list(t, contractA, "alice", 10, 1)
	ctx := context.Background()

	// Updating 10 @ 1 down to 4 @ 2 leaves 6 @ 1 on the original id and
	// opens 4 @ 2 under a new id.
	outcome, err := e.svc.Update(ctx, market.ListingParams{
		Contract: contractA, TokenID: tokenA, Quantity: 4, PricePerUnit: d(2),
	}, id, "alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome.Kind != store.SplitIntoTwo {
		t.Fatalf("expected SplitIntoTwo, got %v", outcome.Kind)
	}
	if outcome.Original.Quantity != 6 || !outcome.Original.PricePerUnit.Equal(d(1)) {
		t.Errorf("expected original {6 @ 1}, got {%d @ %s}", outcome.Original.Quantity, outcome.Original.PricePerUnit)
	}
	if outcome.Replacement.Quantity != 4 || !outcome.Replacement.PricePerUnit.Equal(d(2)) {
		t.Errorf("expected replacement {4 @ 2}, got {%d @ %s}", outcome.Replacement.Quantity, outcome.Replacement.PricePerUnit)
	}

	listed, _ := e.svc.OwnerAmountListed(ctx, contractA, "alice")
	if listed != 10 {
		t.Errorf("split must keep aggregate at 10, got %d", listed)
	}

	// Buy out both halves.
	e.buy(t, outcome.Original.ID, "bob", 6, 6)
	e.buy(t, outcome.Replacement.ID, "bob", 2, 4)
	e.buy(t, outcome.Replacement.ID, "bob", 2, 4)

	active, _ := e.svc.AllActiveListings(ctx)
	if len(active) != 0 {
		t.Errorf("expected no active listings after buy-out, got %d", len(active))
	}
	listed, _ = e.svc.OwnerAmountListed(ctx, contractA, "alice")
	if listed != 0 {
		t.Errorf("expected amount listed 0 after buy-out, got %d", listed)
	}
	balance, _ := e.assets.BalanceOf(ctx, contractA, "bob", tokenA)
	if balance != 10 {
		t.Errorf("expected bob to hold all 10 units, got %d", balance)
	}
}

func TestUpdate_GrowthRequiresUnlistedBalance(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 10)
	id := e.list(t, contractA, "alice", 4, 1)
	e.list(t, contractA, "alice", 6, 1)
	ctx := context.Background()

	// All 10 units are committed across the two listings; growing the first
	// to 5 would over-list.
	_, err := e.svc.Update(ctx, market.ListingParams{
		Contract: contractA, TokenID: tokenA, Quantity: 5, PricePerUnit: d(1),
	}, id, "alice")
	if !errors.Is(err, market.ErrExceedsOwnedBalance) {
		t.Errorf("expected ErrExceedsOwnedBalance, got %v", err)
	}

	// Top up the balance and grow within it.
	if err := e.assets.Mint(contractA, "alice", tokenA, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}
	outcome, err := e.svc.Update(ctx, market.ListingParams{
		Contract: contractA, TokenID: tokenA, Quantity: 5, PricePerUnit: d(1),
	}, id, "alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome.Updated().Quantity != 5 {
		t.Errorf("expected updated quantity 5, got %d", outcome.Updated().Quantity)
	}

	listed, _ := e.svc.OwnerAmountListed(ctx, contractA, "alice")
	if listed != 11 {
		t.Errorf("expected amount listed 11 after growth, got %d", listed)
	}
}

func TestOwnerAmountListed_TracksListCancelBuy(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 10)
	ctx := context.Background()

	id1 := e.list(t, contractA, "alice", 1, 1)
	id2 := e.list(t, contractA, "alice", 9, 1)

	check := func(want int64) {
		t.Helper()
		got, _ := e.svc.OwnerAmountListed(ctx, contractA, "alice")
		if got != want {
			t.Errorf("expected amount listed %d, got %d", want, got)
		}
	}

	check(10)
	if err := e.svc.Cancel(ctx, contractA, id1, 1, "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	check(9)
	if err := e.svc.Cancel(ctx, contractA, id2, 2, "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	check(7)
	e.buy(t, id2, "bob", 3, 3)
	check(4)
}

func TestUserTokens_ListedFlagAndOrder(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 3)
	e.mint(t, contractB, "alice", 2)
	ctx := context.Background()

	e.list(t, contractB, "alice", 2, 5)

	tokens, err := e.svc.UserTokens(ctx, "alice")
	if err != nil {
		t.Fatalf("user tokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tokens))
	}
	if tokens[0].Contract != contractA || tokens[1].Contract != contractB {
		t.Errorf("expected acquisition order [A B], got [%s %s]", tokens[0].Contract, tokens[1].Contract)
	}
	if tokens[0].Listed {
		t.Error("contractA has no listing, Listed should be false")
	}
	if !tokens[1].Listed || tokens[1].Listing == nil {
		t.Fatal("contractB should carry the active listing")
	}
	if tokens[1].Listing.Quantity != 2 || !tokens[1].Listing.PricePerUnit.Equal(d(5)) {
		t.Errorf("unexpected attached listing: %+v", tokens[1].Listing)
	}
}

func TestSalesHistory_FiltersByContract(t *testing.T) {
	e := newTestEnv(t)
	e.mint(t, contractA, "alice", 1)
	e.mint(t, contractB, "alice", 1)

	idA := e.list(t, contractA, "alice", 1, 1)
	idB := e.list(t, contractB, "alice", 1, 2)
	e.buy(t, idA, "bob", 1, 1)
	e.buy(t, idB, "bob", 1, 2)

	receipts, err := e.svc.SalesHistory(context.Background(), contractA)
	if err != nil {
		t.Fatalf("sales history: %v", err)
	}
	if len(receipts) != 1 || receipts[0].Contract != contractA {
		t.Errorf("expected one contractA receipt, got %+v", receipts)
	}
}
