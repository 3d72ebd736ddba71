package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/treehouse/marketplace-ledger/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Multi-row mutations (reduce, split updates) run inside a transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateListing(ctx context.Context, contract string, tokenID uint64, quantity int64, pricePerUnit decimal.Decimal, creator string) (uint64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("store: listing quantity must be positive, got %d", quantity)
	}

	var id uint64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO listings (contract, token_id, quantity, price_per_unit, creator, active, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, TRUE, NOW())
		 RETURNING listing_id`,
		contract, tokenID, quantity, pricePerUnit.String(), creator,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create listing: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id uint64) (*model.Listing, error) {
	return getListing(ctx, s.pool, id)
}

// querier abstracts pgxpool.Pool and pgx.Tx for shared row scans.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getListing(ctx context.Context, q querier, id uint64) (*model.Listing, error) {
	var l model.Listing
	var price string

	err := q.QueryRow(ctx,
		`SELECT listing_id, contract, token_id, quantity,
		        price_per_unit::TEXT, creator, active, created_at
		 FROM listings WHERE listing_id = $1`, id).
		Scan(&l.ID, &l.Contract, &l.TokenID, &l.Quantity,
			&price, &l.Creator, &l.Active, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrListingNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %d: %w", id, err)
	}

	l.PricePerUnit, _ = decimal.NewFromString(price)
	return &l, nil
}

func (s *PostgresStore) ReduceListing(ctx context.Context, id uint64, amount int64) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	l, err := getListing(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if !l.Active {
		return 0, fmt.Errorf("%w: %d", ErrListingNotActive, id)
	}
	if amount > l.Quantity {
		return 0, fmt.Errorf("%w: listing %d has %d, asked %d", ErrInsufficientQuantity, id, l.Quantity, amount)
	}

	remaining := l.Quantity - amount
	if _, err := tx.Exec(ctx,
		`UPDATE listings SET quantity = $2, active = ($2 > 0) WHERE listing_id = $1`,
		id, remaining); err != nil {
		return 0, err
	}

	return remaining, tx.Commit(ctx)
}

func (s *PostgresStore) UpdateListing(ctx context.Context, id uint64, newQuantity int64, newPrice decimal.Decimal) (UpdateOutcome, error) {
	if newQuantity <= 0 {
		return UpdateOutcome{}, fmt.Errorf("store: updated quantity must be positive, got %d", newQuantity)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return UpdateOutcome{}, err
	}
	defer tx.Rollback(ctx)

	l, err := getListing(ctx, tx, id)
	if err != nil {
		return UpdateOutcome{}, err
	}
	if !l.Active {
		return UpdateOutcome{}, fmt.Errorf("%w: %d", ErrListingNotActive, id)
	}

	if newQuantity == l.Quantity {
		if _, err := tx.Exec(ctx,
			`UPDATE listings SET price_per_unit = $2::NUMERIC WHERE listing_id = $1`,
			id, newPrice.String()); err != nil {
			return UpdateOutcome{}, err
		}
		l.PricePerUnit = newPrice
		return UpdateOutcome{Kind: PriceOnly, Original: *l}, tx.Commit(ctx)
	}

	remainder := l.Quantity - newQuantity
	if remainder < 0 {
		remainder = 0
	}
	if _, err := tx.Exec(ctx,
		`UPDATE listings SET quantity = $2, active = ($2 > 0) WHERE listing_id = $1`,
		id, remainder); err != nil {
		return UpdateOutcome{}, err
	}
	l.Quantity = remainder
	l.Active = remainder > 0

	replacement := model.Listing{
		Contract:     l.Contract,
		TokenID:      l.TokenID,
		Quantity:     newQuantity,
		PricePerUnit: newPrice,
		Creator:      l.Creator,
		Active:       true,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO listings (contract, token_id, quantity, price_per_unit, creator, active, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, TRUE, NOW())
		 RETURNING listing_id, created_at`,
		replacement.Contract, replacement.TokenID, replacement.Quantity,
		newPrice.String(), replacement.Creator,
	).Scan(&replacement.ID, &replacement.CreatedAt)
	if err != nil {
		return UpdateOutcome{}, err
	}

	return UpdateOutcome{
		Kind:        SplitIntoTwo,
		Original:    *l,
		Replacement: replacement,
	}, tx.Commit(ctx)
}

func (s *PostgresStore) ListActiveListings(ctx context.Context) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT listing_id, contract, token_id, quantity,
		        price_per_unit::TEXT, creator, active, created_at
		 FROM listings WHERE active ORDER BY listing_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		var l model.Listing
		var price string
		if err := rows.Scan(&l.ID, &l.Contract, &l.TokenID, &l.Quantity,
			&price, &l.Creator, &l.Active, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.PricePerUnit, _ = decimal.NewFromString(price)
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) InsertSaleReceipt(ctx context.Context, r *model.SaleReceipt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sale_receipts
		   (id, listing_id, contract, token_id, creator, buyer, quantity,
		    price_per_unit, total, platform_fee, royalty, seller_proceeds, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7,
		         $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13)`,
		r.ID, r.ListingID, r.Contract, r.TokenID, r.Creator, r.Buyer, r.Quantity,
		r.PricePerUnit.String(), r.Total.String(), r.PlatformFee.String(),
		r.Royalty.String(), r.SellerProceeds.String(), r.Timestamp,
	)
	return err
}

func (s *PostgresStore) SaleReceiptsByContract(ctx context.Context, contract string) ([]model.SaleReceipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, listing_id, contract, token_id, creator, buyer, quantity,
		        price_per_unit::TEXT, total::TEXT, platform_fee::TEXT,
		        royalty::TEXT, seller_proceeds::TEXT, timestamp
		 FROM sale_receipts WHERE contract = $1 ORDER BY timestamp`, contract)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []model.SaleReceipt
	for rows.Next() {
		var r model.SaleReceipt
		var price, total, fee, royalty, proceeds string
		if err := rows.Scan(&r.ID, &r.ListingID, &r.Contract, &r.TokenID,
			&r.Creator, &r.Buyer, &r.Quantity,
			&price, &total, &fee, &royalty, &proceeds, &r.Timestamp); err != nil {
			return nil, err
		}
		r.PricePerUnit, _ = decimal.NewFromString(price)
		r.Total, _ = decimal.NewFromString(total)
		r.PlatformFee, _ = decimal.NewFromString(fee)
		r.Royalty, _ = decimal.NewFromString(royalty)
		r.SellerProceeds, _ = decimal.NewFromString(proceeds)
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

func (s *PostgresStore) RecordAcquisition(ctx context.Context, owner, contract string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO holdings (owner, contract, acquired_seq)
		 VALUES ($1, $2, nextval('holdings_seq'))
		 ON CONFLICT (owner, contract) DO NOTHING`,
		owner, contract)
	return err
}

func (s *PostgresStore) RecordDivestiture(ctx context.Context, owner, contract string, remainingBalance int64) error {
	if remainingBalance != 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM holdings WHERE owner = $1 AND contract = $2`,
		owner, contract)
	return err
}

func (s *PostgresStore) TokensOwned(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT contract FROM holdings WHERE owner = $1 ORDER BY acquired_seq`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

func (s *PostgresStore) AmountListed(ctx context.Context, contract, owner string) (int64, error) {
	var amount int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM listed_amounts
		 WHERE contract = $1 AND owner = $2`, contract, owner).Scan(&amount)
	return amount, err
}

func (s *PostgresStore) AdjustAmountListed(ctx context.Context, contract, owner string, delta int64) error {
	var next int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO listed_amounts (contract, owner, amount)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (contract, owner) DO UPDATE
		   SET amount = listed_amounts.amount + EXCLUDED.amount
		 RETURNING amount`,
		contract, owner, delta).Scan(&next)
	if err != nil {
		return err
	}
	if next < 0 {
		panic(fmt.Sprintf("store: aggregate listed amount for %s/%s went negative (%d)", contract, owner, next))
	}
	return nil
}
