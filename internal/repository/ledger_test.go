package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/tesinvoice/internal/models"
)

// 需要 TEST_DATABASE_URL 指向一个可写的 Postgres
func newTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestLedger_RunLifecycle(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)
	ctx := context.Background()

	run := &models.RunResult{
		RunID:     uuid.New(),
		Period:    "2024-05",
		StartedAt: time.Now().UTC().Truncate(time.Microsecond).Add(time.Hour),
	}
	require.NoError(t, ledger.StartRun(ctx, run))

	rec := &models.DownloadRecord{
		RunID:      run.RunID,
		Kind:       models.InvoiceKindCharging,
		VIN:        "VIN123",
		FileName:   "tesla_charging_invoice_VIN123_2024-05-10_AT_" + run.RunID.String() + ".pdf",
		RemoteID:   "c1",
		Size:       4,
		Downloaded: time.Now().UTC(),
	}
	require.NoError(t, ledger.RecordDownload(ctx, rec))
	require.NoError(t, ledger.RecordEmail(ctx, rec.FileName, time.Now().UTC()))

	finished := run.StartedAt.Add(time.Second)
	run.Downloaded = 1
	run.Vehicles = 1
	run.FinishedAt = &finished
	require.NoError(t, ledger.FinishRun(ctx, run))

	latest, err := ledger.Runs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, latest.RunID)
	assert.Equal(t, 1, latest.Downloaded)
	require.NotNil(t, latest.FinishedAt)

	docs, err := ledger.RunDocuments(ctx, run.RunID.String())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, rec.FileName, docs[0].FileName)
	assert.Equal(t, models.InvoiceKindCharging, docs[0].Kind)
}
