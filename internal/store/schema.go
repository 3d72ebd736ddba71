package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the DDL for the Postgres store. Applied idempotently at
// startup.
const schema = `
CREATE TABLE IF NOT EXISTS listings (
    listing_id     BIGSERIAL PRIMARY KEY,
    contract       TEXT        NOT NULL,
    token_id       BIGINT      NOT NULL,
    quantity       BIGINT      NOT NULL CHECK (quantity >= 0),
    price_per_unit NUMERIC     NOT NULL CHECK (price_per_unit >= 0),
    creator        TEXT        NOT NULL,
    active         BOOLEAN     NOT NULL DEFAULT TRUE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS listings_active_idx ON listings (listing_id) WHERE active;
CREATE INDEX IF NOT EXISTS listings_creator_idx ON listings (contract, creator) WHERE active;

CREATE TABLE IF NOT EXISTS sale_receipts (
    id              TEXT PRIMARY KEY,
    listing_id      BIGINT      NOT NULL,
    contract        TEXT        NOT NULL,
    token_id        BIGINT      NOT NULL,
    creator         TEXT        NOT NULL,
    buyer           TEXT        NOT NULL,
    quantity        BIGINT      NOT NULL,
    price_per_unit  NUMERIC     NOT NULL,
    total           NUMERIC     NOT NULL,
    platform_fee    NUMERIC     NOT NULL,
    royalty         NUMERIC     NOT NULL,
    seller_proceeds NUMERIC     NOT NULL,
    timestamp       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS sale_receipts_contract_idx ON sale_receipts (contract, timestamp);

CREATE SEQUENCE IF NOT EXISTS holdings_seq;

CREATE TABLE IF NOT EXISTS holdings (
    owner        TEXT   NOT NULL,
    contract     TEXT   NOT NULL,
    acquired_seq BIGINT NOT NULL,
    PRIMARY KEY (owner, contract)
);

CREATE TABLE IF NOT EXISTS listed_amounts (
    contract TEXT   NOT NULL,
    owner    TEXT   NOT NULL,
    amount   BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (contract, owner)
);
`

// EnsureSchema creates the marketplace tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
