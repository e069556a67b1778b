package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/sharkted/collector/internal/collect"
)

func TestItemStoreUpsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewItemStore(mock)
	now := time.Unix(1772355600, 0).UTC()
	item := collect.Item{
		Source:      "size",
		ExternalID:  "sku-1",
		Title:       "Samba OG",
		Brand:       "adidas",
		Price:       99.95,
		Currency:    "EUR",
		URL:         "https://size.example/p/sku-1",
		ImageURL:    "https://size.example/img/sku-1.jpg",
		RetrievedAt: now,
	}

	mock.ExpectExec("INSERT INTO items").
		WithArgs(
			item.Source,
			item.ExternalID,
			item.Title,
			item.Brand,
			item.Price,
			item.Currency,
			item.URL,
			item.ImageURL,
			item.RetrievedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStoreUpsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewSnapshotStore(mock)
	lastErr := time.Unix(1772355000, 0).UTC()
	m := collect.SourceMetrics{
		Source:              "size",
		CurrentMode:         collect.ModeProxy,
		TotalAttempts:       120,
		TotalSuccess:        100,
		TotalFailures:       20,
		Success24h:          40,
		Failures24h:         5,
		ConsecutiveFailures: 2,
		LastErrorAt:         &lastErr,
		LastErrorType:       "BlockedError",
	}

	mock.ExpectExec("INSERT INTO source_metrics").
		WithArgs(
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
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertSnapshot(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}
