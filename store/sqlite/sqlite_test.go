/*
sqlite_test.go - Round-trip tests for the SQLite store

Runs against a temp-file database, verifying the parts that differ
from the in-memory store: schema setup, upsert semantics, null
handling for optional columns, and event ordering straight from SQL.
*/
package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovale/seedlot-engine/ledger"
	"github.com/agrovale/seedlot-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettings_SeededOnFirstRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// GIVEN: a brand new database file
	// THEN: the first read serves and persists the defaults
	set, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(ledger.DefaultKgPerSack), set.KgPerSack)
	assert.Equal(t, float64(ledger.DefaultKgPerBag), set.KgPerBag)

	// WHEN: replacing them
	require.NoError(t, s.SaveSettings(ctx, ledger.Settings{KgPerSack: 50, KgPerBag: 900}))
	set, err = s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, set.KgPerSack)
	assert.Equal(t, 900.0, set.KgPerBag)
}

func TestLots_RoundTripAndUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	lot := ledger.SeedLot{
		ID: "lot-1", Variety: "BRS 1010", Supplier: "Boa Terra", LotCode: "BT-14",
		Unit: ledger.UnitBag, Qty: 2, QtyKg: 2000, ReceivedAt: "2025-08-02",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.SaveLot(ctx, lot))

	got, err := s.Lot(ctx, "lot-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, lot.QtyKg, got.QtyKg)
	assert.Equal(t, lot.Unit, got.Unit)
	assert.True(t, got.CreatedAt.Equal(now))

	// Saving the same id again replaces, not duplicates
	lot.QtyKg = 1800
	require.NoError(t, s.SaveLot(ctx, lot))
	all, err := s.Lots(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1800.0, all[0].QtyKg)

	// Absent ids come back (nil, nil)
	got, err = s.Lot(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.DeleteLot(ctx, "lot-1"))
	all, err = s.Lots(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTreatments_OptionalColumnsSurviveEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tr := ledger.Treatment{
		ID: "tr-1", LotID: "lot-1", Product: "Standak Top",
		Unit: ledger.UnitKg, Qty: 500, QtyKg: 500, TreatedAt: "2025-08-10",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.SaveTreatment(ctx, tr))

	got, err := s.Treatment(ctx, "tr-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Operator)
	assert.Equal(t, 500.0, got.QtyKg)

	byLot, err := s.TreatmentsByLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Len(t, byLot, 1)
	byLot, err = s.TreatmentsByLot(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, byLot)
}

func TestMovements_FilterByLot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, lotID := range []string{"lot-1", "lot-1", "lot-2"} {
		m := ledger.Movement{
			ID: "mov-" + string(rune('a'+i)), LotID: lotID,
			DestinationType: ledger.DestinationLavoura, DestinationName: "Talhão 12",
			Unit: ledger.UnitKg, Qty: 100, QtyKg: 100, MovedAt: "2025-08-12",
			CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, s.SaveMovement(ctx, m))
	}

	byLot, err := s.MovementsByLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Len(t, byLot, 2)

	all, err := s.Movements(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEvents_NewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		ev := ledger.AuditEvent{
			ID:     "ev-" + string(rune('a'+i)),
			When:   base.Add(time.Duration(i) * time.Second),
			By:     "tester",
			Entity: "lot", Action: "create", RefID: "lot-1",
			Details: map[string]any{"n": float64(i)},
		}
		require.NoError(t, s.AppendEvent(ctx, ev))
	}

	events, err := s.RecentEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-c", events[0].ID)
	assert.Equal(t, "ev-b", events[1].ID)
	assert.Equal(t, float64(2), events[0].Details["n"])
}

func TestReset_ClearsEverythingAndRestoresDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveSettings(ctx, ledger.Settings{KgPerSack: 40, KgPerBag: 700}))
	require.NoError(t, s.SaveLot(ctx, ledger.SeedLot{
		ID: "lot-1", Variety: "BRS", Supplier: "X", LotCode: "A",
		Unit: ledger.UnitKg, Qty: 10, QtyKg: 10, ReceivedAt: "2025-08-02",
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.AppendEvent(ctx, ledger.AuditEvent{
		ID: "ev-1", When: now, By: "tester", Entity: "lot", Action: "create", RefID: "lot-1",
	}))

	require.NoError(t, s.Reset(ctx))

	lots, err := s.Lots(ctx)
	require.NoError(t, err)
	assert.Empty(t, lots)

	events, err := s.RecentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	set, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(ledger.DefaultKgPerSack), set.KgPerSack)
}
