//go:build integration

package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/heuristics"
	"github.com/hervehildenbrand/flow-radar/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// testDB connects to TEST_PG_DSN when set, otherwise starts a throwaway
// PostgreSQL container.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		ctr, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("flow_radar"),
			postgres.WithUsername("flow"),
			postgres.WithPassword("flow"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

		dsn, err = ctr.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, EnsureSchema(ctx, db, nil))
	_, err = db.ExecContext(ctx, `TRUNCATE flow_summaries, flow_alerts, flow_heuristics, flow_heuristics_saved`)
	require.NoError(t, err)
	return db
}

func TestSummaryWriterRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	w := NewSummaryWriter(db, nil)
	w.Start()

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, w.Append(ctx, models.FlowSummary{
			BlockNumber:    i,
			Timestamp:      1_700_000_000 + i,
			CategoryTotals: map[models.Category]models.Wei{models.CategoryForeign: models.Ether(i)},
			TxCount:        int(i),
		}))
	}
	require.NoError(t, w.Publish(ctx, models.Alert{
		Level:       models.AlertLevelHigh,
		Reason:      "High flow delta for Foreign",
		Category:    models.CategoryForeign,
		Delta:       models.MaxWei(),
		BlockNumber: 3,
	}))
	w.Stop()

	stats := w.Stats()
	assert.Equal(t, uint64(3), stats["summaries_written"])
	assert.Equal(t, uint64(1), stats["alerts_written"])

	got, err := LatestSummaries(ctx, db, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].BlockNumber)
	assert.Equal(t, uint64(3), got[1].BlockNumber)
	assert.Equal(t, models.Ether(3), got[1].Total(models.CategoryForeign))
	assert.Equal(t, uint64(1_700_000_003), got[1].Timestamp)

	var delta string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT delta_wei::text FROM flow_alerts WHERE block_number = 3`).Scan(&delta))
	assert.Equal(t, models.MaxWei().String(), delta)
}

func TestRegistryStoreRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := NewRegistryStore(db, nil)

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, heuristics.ErrNotFound)

	orig := heuristics.Seed()
	orig.PushCEX("binance", "0x28c6c06298d514db089934071355e5743bf21d60")
	orig.PushBridge("empty", "0x01")

	require.NoError(t, store.Save(ctx, orig))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, orig.Snapshot(), loaded.Snapshot())

	// Save replaces rather than merges.
	require.NoError(t, store.Save(ctx, heuristics.New()))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	cex, bridge := loaded.Count()
	assert.Zero(t, cex)
	assert.Zero(t, bridge)
}
