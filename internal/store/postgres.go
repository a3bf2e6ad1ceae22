package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/weather-edge/internal/model"
)

// Schema creates the tables PostgresStore uses. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS edge_state (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settlements (
	id            TEXT PRIMARY KEY,
	market_id     TEXT NOT NULL,
	city          TEXT NOT NULL,
	cluster_id    TEXT NOT NULL,
	side          TEXT NOT NULL,
	entry_price   NUMERIC NOT NULL,
	stake         NUMERIC NOT NULL,
	payout        NUMERIC NOT NULL,
	status        TEXT NOT NULL,
	resolution    TEXT NOT NULL,
	realized_temp DOUBLE PRECISION,
	opened_at     TIMESTAMPTZ NOT NULL,
	settled_at    TIMESTAMPTZ NOT NULL,
	record        JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS settlements_market_idx ON settlements (market_id);
`

// PostgresStore implements Store on PostgreSQL. The state document is one
// JSONB row per key; settlements are immutable rows with NUMERIC money
// columns for exact reporting.
type PostgresStore struct {
	pool *pgxpool.Pool
	key  string
}

// NewPostgresStore creates a PostgreSQL-backed store. key names the state
// row so several strategy variants can share a database.
func NewPostgresStore(pool *pgxpool.Pool, key string) *PostgresStore {
	if key == "" {
		key = "default"
	}
	return &PostgresStore{pool: pool, key: key}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*model.State, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM edge_state WHERE id = $1`, s.key).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", s.key, err)
	}

	var st model.State
	if err := json.Unmarshal(doc, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.key, err)
	}
	if st.Positions == nil {
		st.Positions = make(map[string]model.Position)
	}
	return &st, nil
}

func (s *PostgresStore) Save(ctx context.Context, st *model.State) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO edge_state (id, doc, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		s.key, doc,
	)
	if err != nil {
		return fmt.Errorf("save state %s: %w", s.key, err)
	}
	return nil
}

// Append inserts the settled position. Re-appending the same position is a
// no-op so a retried cycle cannot double count.
func (s *PostgresStore) Append(ctx context.Context, p model.Position) error {
	if p.SettledAt == nil {
		return fmt.Errorf("append %s: position is not settled", p.MarketID)
	}
	record, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode settlement: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO settlements (id, market_id, city, cluster_id, side, entry_price, stake, payout,
		                          status, resolution, realized_temp, opened_at, settled_at, record)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.MarketID, p.City, p.ClusterID, string(p.Side),
		fmt.Sprintf("%.4f", p.EntryPrice), p.Stake.String(), p.Payout.String(),
		string(p.Status), p.Resolution, p.RealizedTemp, p.OpenedAt, *p.SettledAt, record,
	)
	if err != nil {
		return fmt.Errorf("append settlement %s: %w", p.MarketID, err)
	}
	return nil
}
