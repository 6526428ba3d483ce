// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/unclebandit/engagement-escrow/internal/config"
	"github.com/unclebandit/engagement-escrow/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
    address               TEXT PRIMARY KEY,
    creator               TEXT NOT NULL,
    oracle                TEXT NOT NULL DEFAULT '',
    budget                NUMERIC(20,0) NOT NULL CHECK (budget >= 0),
    reward_per_engagement NUMERIC(20,0) NOT NULL CHECK (reward_per_engagement > 0),
    goal_engagements      NUMERIC(20,0) NOT NULL CHECK (goal_engagements > 0),
    engagements_verified  NUMERIC(20,0) NOT NULL DEFAULT 0,
    is_complete           BOOLEAN NOT NULL DEFAULT FALSE,
    hashtag               VARCHAR(60) NOT NULL,
    created_at            TIMESTAMPTZ NOT NULL,
    updated_at            TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS campaigns_creator_idx ON campaigns (creator);

CREATE TABLE IF NOT EXISTS balances (
    account    TEXT PRIMARY KEY,
    amount     NUMERIC(20,0) NOT NULL DEFAULT 0 CHECK (amount >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS proofs (
    id                   TEXT PRIMARY KEY,
    campaign_address     TEXT NOT NULL REFERENCES campaigns (address),
    oracle               TEXT NOT NULL,
    engagement_count     NUMERIC(20,0) NOT NULL,
    reference_id         TEXT NOT NULL DEFAULT '',
    engagements_verified NUMERIC(20,0) NOT NULL,
    created_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS proofs_campaign_idx ON proofs (campaign_address, created_at);
`

// Open connects to postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return conn, nil
}

// Migrate creates the escrow tables if they do not exist yet.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// OpenStore builds the store selected by STORE_BACKEND.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBadger:
		logger.Info("opening badger store", "dir", cfg.BadgerDir)
		return repository.NewBadgerStore(
			repository.WithBadgerDataDir(cfg.BadgerDir),
			repository.WithBadgerLogger(logger),
		)
	case config.StorePostgres:
		conn, err := Open(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		if err := Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
		logger.Info("connected to database", "host", cfg.DBHost, "name", cfg.DBName)
		return repository.NewPostgresStore(conn), nil
	default:
		logger.Warn("using in-memory store, state is lost on exit")
		return repository.NewMemoryStore(), nil
	}
}
