package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/video-portal/internal/douban"
)

// PostgresListings is the production Postgres-backed implementation.
type PostgresListings struct {
	db *pgxpool.Pool
}

func NewPostgresListings(db *pgxpool.Pool) *PostgresListings {
	return &PostgresListings{db: db}
}

// EnsureSchema creates the snapshot table. Idempotent; called at startup.
func (s *PostgresListings) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS listing_pages (
    listing_key TEXT        NOT NULL,
    page_start  INT         NOT NULL,
    items       JSONB       NOT NULL,
    fetched_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (listing_key, page_start)
)`)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresListings) UpsertPage(ctx context.Context, key string, pageStart int, items []douban.Item) error {
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("store: marshal items: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO listing_pages (listing_key, page_start, items, fetched_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (listing_key, page_start)
DO UPDATE SET items = EXCLUDED.items, fetched_at = EXCLUDED.fetched_at`,
		key, pageStart, itemsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: upsert page: %w", err)
	}
	return nil
}

func (s *PostgresListings) GetPage(ctx context.Context, key string, pageStart int) (*Page, error) {
	var (
		itemsJSON []byte
		fetchedAt time.Time
	)
	err := s.db.QueryRow(ctx, `
SELECT items, fetched_at FROM listing_pages
WHERE listing_key = $1 AND page_start = $2`,
		key, pageStart,
	).Scan(&itemsJSON, &fetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get page: %w", err)
	}

	p := &Page{ListingKey: key, PageStart: pageStart, FetchedAt: fetchedAt}
	if err := json.Unmarshal(itemsJSON, &p.Items); err != nil {
		return nil, fmt.Errorf("store: decode items: %w", err)
	}
	return p, nil
}

func (s *PostgresListings) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM listing_pages WHERE fetched_at < $1`,
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
