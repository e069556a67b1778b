// Package postgres provides Postgres-backed persistence for collected
// items and source metrics snapshots.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharkted/collector/internal/collect"
)

// DB is the subset of pgxpool.Pool the stores use; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPool opens a pgx connection pool for the given DSN.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return pool, nil
}

// ItemStore persists admitted items, idempotent on (source, external_id).
type ItemStore struct {
	db DB
}

// NewItemStore builds an ItemStore.
func NewItemStore(db DB) *ItemStore {
	return &ItemStore{db: db}
}

// Upsert inserts or refreshes one item.
func (s *ItemStore) Upsert(ctx context.Context, item collect.Item) error {
	query := `
		INSERT INTO items (source, external_id, title, brand, price, currency, url, image_url, retrieved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source, external_id) DO UPDATE
		SET title = EXCLUDED.title,
			brand = EXCLUDED.brand,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			url = EXCLUDED.url,
			image_url = EXCLUDED.image_url,
			retrieved_at = EXCLUDED.retrieved_at;
	`
	_, err := s.db.Exec(ctx, query,
		item.Source,
		item.ExternalID,
		item.Title,
		item.Brand,
		item.Price,
		item.Currency,
		item.URL,
		item.ImageURL,
		item.RetrievedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert item %s/%s: %w", item.Source, item.ExternalID, err)
	}
	return nil
}

// SnapshotStore mirrors the live metrics records into Postgres so
// dashboards can query history without touching the hot store.
type SnapshotStore struct {
	db DB
}

// NewSnapshotStore builds a SnapshotStore.
func NewSnapshotStore(db DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// UpsertSnapshot writes the current record for one source.
func (s *SnapshotStore) UpsertSnapshot(ctx context.Context, m collect.SourceMetrics) error {
	query := `
		INSERT INTO source_metrics (source, current_mode, total_attempts, total_success, total_failures,
			success_24h, failures_24h, consecutive_failures, structural_failures,
			last_success_at, last_error_at, last_error_type, blocked_until, block_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		ON CONFLICT (source) DO UPDATE
		SET current_mode = EXCLUDED.current_mode,
			total_attempts = EXCLUDED.total_attempts,
			total_success = EXCLUDED.total_success,
			total_failures = EXCLUDED.total_failures,
			success_24h = EXCLUDED.success_24h,
			failures_24h = EXCLUDED.failures_24h,
			consecutive_failures = EXCLUDED.consecutive_failures,
			structural_failures = EXCLUDED.structural_failures,
			last_success_at = EXCLUDED.last_success_at,
			last_error_at = EXCLUDED.last_error_at,
			last_error_type = EXCLUDED.last_error_type,
			blocked_until = EXCLUDED.blocked_until,
			block_reason = EXCLUDED.block_reason,
			updated_at = now();
	`
	_, err := s.db.Exec(ctx, query,
		m.Source,
		string(m.CurrentMode),
		m.TotalAttempts,
		m.TotalSuccess,
		m.TotalFailures,
		m.Success24h,
		m.Failures24h,
		m.ConsecutiveFailures,
		m.StructuralFailures,
		m.LastSuccessAt,
		m.LastErrorAt,
		m.LastErrorType,
		m.BlockedUntil,
		m.BlockReason,
	)
	if err != nil {
		return fmt.Errorf("upsert metrics snapshot for %s: %w", m.Source, err)
	}
	return nil
}
