package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/testutil"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "tagtrack_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func record(t *testing.T, db *DB, evs ...tags.PositionEvent) {
	t.Helper()
	for _, ev := range evs {
		require.NoError(t, db.RecordPosition(context.Background(), ev))
	}
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := setupTestDB(t)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 2, latest)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	// running again is a no-op
	require.NoError(t, db.MigrateUp())
}

func TestPragmasApplied(t *testing.T) {
	db := setupTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)
}

func TestMigrateDownAndForce(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	_, err = db.Exec(`SELECT COUNT(*) FROM settings`)
	assert.Error(t, err, "settings table dropped by down migration")

	require.NoError(t, db.MigrateForce(1))
	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
}

func TestRecordPosition_StateOnlyMovesForward(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	record(t, db,
		testutil.Event("A", 1, 1, 1000),
		testutil.Event("A", 2, 2, 2000),
		testutil.Event("A", 1.5, 1.5, 1500),
	)

	states, err := db.TagStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, geometry.WorldPoint{X: 2, Y: 2}, states[0].Position)
	assert.EqualValues(t, 2000, states[0].LastSeenMs)

	history, err := db.HistoryRange(ctx, tags.TimeRange{Start: 0, End: 5000})
	require.NoError(t, err)
	assert.Len(t, history, 3, "late events are still kept in the history")
}

func TestRecordPosition_EmptyLabelKeepsStoredLabel(t *testing.T) {
	db := setupTestDB(t)
	ev := testutil.Event("A", 1, 1, 1000)
	record(t, db, ev)

	ev.Label = ""
	ev.TimestampMs = 2000
	record(t, db, ev)

	states, err := db.TagStates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tag A", states[0].Label)
}

func TestMarkHibernating(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	record(t, db, testutil.Event("A", 0, 0, 1000), testutil.Event("B", 0, 0, 9000))

	n, err := db.MarkHibernating(ctx, 10_000, 3*time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	states, err := db.TagStates(ctx)
	require.NoError(t, err)
	assert.True(t, states[0].Hibernating)
	assert.False(t, states[1].Hibernating)

	// a fresh reading wakes the tag
	record(t, db, testutil.Event("A", 1, 1, 10_500))
	states, err = db.TagStates(ctx)
	require.NoError(t, err)
	assert.False(t, states[0].Hibernating)
}

func TestHistoryRange_OrderedAndInclusive(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	record(t, db,
		testutil.Event("B", 0, 0, 3000),
		testutil.Event("A", 0, 0, 1000),
		testutil.Event("A", 1, 0, 2000),
		testutil.Event("C", 0, 0, 4001),
	)

	got, err := db.HistoryRange(ctx, tags.TimeRange{Start: 1000, End: 4000})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, tags.IsSorted(got))
	assert.EqualValues(t, 1000, got[0].TimestampMs)
	assert.EqualValues(t, 3000, got[2].TimestampMs)

	none, err := db.FetchHistory(ctx, tags.TimeRange{Start: 4000, End: 1000})
	require.NoError(t, err)
	assert.Empty(t, none)

	bounds, ok, err := db.HistoryBounds(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, tags.TimeRange{Start: 1000, End: 4001}, bounds)
}

func TestHistoryBounds_Empty(t *testing.T) {
	db := setupTestDB(t)
	_, ok, err := db.HistoryBounds(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettingsAndNames(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveSetting(ctx, "view.rotation", "90"))
	require.NoError(t, db.SaveSetting(ctx, "view.rotation", "180"))
	got, err := db.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"view.rotation": "180"}, got)

	require.NoError(t, db.SaveSettings(ctx, map[string]string{"view.rotation": "270", "view.extent": "12"}))
	got, err = db.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"view.rotation": "270", "view.extent": "12"}, got)

	require.NoError(t, db.UpsertTagName(ctx, TagName{UID: "A1", Name: "Bessie", Species: "Cow", Color: "#FF5733"}))
	require.NoError(t, db.SaveName(ctx, "A1", "Daisy"))
	require.NoError(t, db.SaveName(ctx, "B2", "Molly"))

	names, err := db.TagNames(ctx)
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, TagName{UID: "A1", Name: "Daisy", Species: "Cow", Color: "#FF5733"}, names[0])

	require.NoError(t, db.DeleteName(ctx, "B2"))
	m, err := db.LoadNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A1": "Daisy"}, m)
}

func TestBeacons(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.ReplaceBeacons(ctx, []tags.Beacon{
		{ID: "b2", Label: "north", Coordinate: geometry.WorldPoint{X: 0, Y: 30}},
		{ID: "b1", Label: "gate", Coordinate: geometry.WorldPoint{X: 25, Y: 0}, Z: 2},
	}))
	require.NoError(t, db.ReplaceBeacons(ctx, []tags.Beacon{
		{ID: "b1", Label: "gate", Coordinate: geometry.WorldPoint{X: 25, Y: 0}, Z: 2},
	}))

	got, err := db.FetchBeacons(ctx)
	require.NoError(t, err)
	assert.Equal(t, []tags.Beacon{{ID: "b1", Label: "gate", Coordinate: geometry.WorldPoint{X: 25, Y: 0}, Z: 2}}, got)
}
