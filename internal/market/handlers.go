package market

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/treehouse/marketplace-ledger/internal/asset"
	"github.com/treehouse/marketplace-ledger/internal/model"
	"github.com/treehouse/marketplace-ledger/internal/payment"
	"github.com/treehouse/marketplace-ledger/internal/store"
)

// --- Request types ---

// ListRequest is the JSON body for POST /api/v1/listings.
type ListRequest struct {
	ListingParams
	Creator string `json:"creator"`
}

// BuyRequest is the JSON body for POST /api/v1/listings/{listingID}/buy.
type BuyRequest struct {
	Buyer    string          `json:"buyer"`
	Quantity int64           `json:"quantity"`
	Payment  decimal.Decimal `json:"payment"`
}

// CancelRequest is the JSON body for POST /api/v1/listings/{listingID}/cancel.
type CancelRequest struct {
	Contract string `json:"contract"`
	Amount   int64  `json:"amount"`
	Caller   string `json:"caller"`
}

// UpdateRequest is the JSON body for PUT /api/v1/listings/{listingID}.
type UpdateRequest struct {
	ListingParams
	Caller string `json:"caller"`
}

// --- HTTP handlers ---

// HandleList handles POST /api/v1/listings.
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	var req ListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Creator == "" {
		writeError(w, "creator is required", http.StatusBadRequest)
		return
	}

	listing, err := s.List(r.Context(), req.ListingParams, req.Creator)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(listing)
}

// HandleBuy handles POST /api/v1/listings/{listingID}/buy.
func (s *Service) HandleBuy(w http.ResponseWriter, r *http.Request) {
	id, ok := listingIDParam(w, r)
	if !ok {
		return
	}

	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Buyer == "" {
		writeError(w, "buyer is required", http.StatusBadRequest)
		return
	}

	receipt, err := s.Buy(r.Context(), id, req.Buyer, req.Quantity, req.Payment)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

// HandleCancel handles POST /api/v1/listings/{listingID}/cancel.
func (s *Service) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := listingIDParam(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}

	if err := s.Cancel(r.Context(), req.Contract, id, req.Amount, req.Caller); err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"listing_id": id, "cancelled": req.Amount})
}

// HandleUpdate handles PUT /api/v1/listings/{listingID}.
func (s *Service) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := listingIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}

	outcome, err := s.Update(r.Context(), req.ListingParams, id, req.Caller)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	updated := outcome.Updated()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// HandleListListings handles GET /api/v1/listings.
func (s *Service) HandleListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.AllActiveListings(r.Context())
	if err != nil {
		writeError(w, "failed to list listings", http.StatusInternalServerError)
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listings)
}

// HandleGetListing handles GET /api/v1/listings/{listingID}.
func (s *Service) HandleGetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := listingIDParam(w, r)
	if !ok {
		return
	}

	listing, err := s.store.GetListing(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listing)
}

// HandleUserTokens handles GET /api/v1/users/{owner}/tokens.
func (s *Service) HandleUserTokens(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	tokens, err := s.UserTokens(r.Context(), owner)
	if err != nil {
		writeError(w, "failed to load user tokens", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokens)
}

// HandleTokensOwned handles GET /api/v1/users/{owner}/contracts.
func (s *Service) HandleTokensOwned(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	contracts, err := s.TokensOwned(r.Context(), owner)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	if contracts == nil {
		contracts = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contracts)
}

// HandleAmountListed handles GET /api/v1/amount-listed?contract=&owner=.
func (s *Service) HandleAmountListed(w http.ResponseWriter, r *http.Request) {
	contract := r.URL.Query().Get("contract")
	owner := r.URL.Query().Get("owner")
	if contract == "" || owner == "" {
		writeError(w, "contract and owner are required", http.StatusBadRequest)
		return
	}

	amount, err := s.OwnerAmountListed(r.Context(), contract, owner)
	if err != nil {
		writeError(w, "failed to load listed amount", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"amount_listed": amount})
}

// HandleSalesHistory handles GET /api/v1/contracts/{contract}/sales.
func (s *Service) HandleSalesHistory(w http.ResponseWriter, r *http.Request) {
	contract := chi.URLParam(r, "contract")

	receipts, err := s.SalesHistory(r.Context(), contract)
	if err != nil {
		writeError(w, "failed to load sales history", http.StatusInternalServerError)
		return
	}
	if receipts == nil {
		receipts = []model.SaleReceipt{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipts)
}

// --- Helpers ---

func listingIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "listingID"), 10, 64)
	if err != nil {
		writeError(w, "invalid listing id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeLedgerError maps typed ledger errors onto HTTP status codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrListingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrListingNotActive),
		errors.Is(err, ErrExceedsOwnedBalance),
		errors.Is(err, ErrExceedsListedQuantity),
		errors.Is(err, ErrInsufficientBalance):
		status = http.StatusConflict
	case errors.Is(err, ErrInsufficientPayment),
		errors.Is(err, payment.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, ErrNotAuthorized),
		errors.Is(err, asset.ErrOnlyMinterOrOperator):
		status = http.StatusForbidden
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, asset.ErrInvalidContract):
		status = http.StatusBadRequest
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
