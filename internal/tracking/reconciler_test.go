package tracking

import (
	"testing"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(id string, x, y float64, ts int64) tags.PositionEvent {
	return tags.PositionEvent{EntityID: id, Label: "tag-" + id, Position: geometry.WorldPoint{X: x, Y: y}, TimestampMs: ts}
}

func only(t *testing.T, r *Reconciler) tags.EntityState {
	t.Helper()
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	return snap[0]
}

func TestReconciler_OutOfOrderArrivalScenario(t *testing.T) {
	r := NewReconciler(DefaultStaleThresholdMs)
	r.SetConnected(true)

	assert.Equal(t, Created, r.Apply(ev("A", 1, 1, 1000)))
	assert.Equal(t, Updated, r.Apply(ev("A", 2, 2, 2000)))
	assert.Equal(t, Discarded, r.Apply(ev("A", 1.5, 1.5, 1500)))

	got := only(t, r)
	assert.Equal(t, geometry.WorldPoint{X: 2, Y: 2}, got.LastEvent.Position)
	assert.EqualValues(t, 2000, got.LastEvent.TimestampMs)
}

func TestReconciler_DisplayedPositionTracksLastIncreasingEvent(t *testing.T) {
	r := NewReconciler(DefaultStaleThresholdMs)

	for i := int64(0); i < 20; i++ {
		e := ev("A", float64(i), float64(-i), 1000+i*100)
		r.Apply(e)
		assert.Equal(t, e, only(t, r).LastEvent)

		// an older event never changes what is displayed
		r.Apply(ev("A", 99, 99, 1000+i*100-1))
		assert.Equal(t, e, only(t, r).LastEvent)
	}
}

func TestReconciler_EqualTimestampReplaces(t *testing.T) {
	r := NewReconciler(DefaultStaleThresholdMs)
	r.Apply(ev("A", 1, 1, 1000))

	assert.Equal(t, Updated, r.Apply(ev("A", 3, 3, 1000)))
	assert.Equal(t, geometry.WorldPoint{X: 3, Y: 3}, only(t, r).LastEvent.Position)
}

func TestReconciler_LabelKeptWhenEventHasNone(t *testing.T) {
	r := NewReconciler(DefaultStaleThresholdMs)
	r.Apply(ev("A", 1, 1, 1000))

	unlabeled := ev("A", 2, 2, 2000)
	unlabeled.Label = ""
	r.Apply(unlabeled)

	assert.Equal(t, "tag-A", only(t, r).Label)
}

func TestReconciler_StalenessKeepsCoordinates(t *testing.T) {
	r := NewReconciler(5000)
	r.SetConnected(true)
	r.Apply(ev("A", 4, 5, 10_000))

	assert.Empty(t, r.Sweep(15_000), "exactly at the threshold is still fresh")
	assert.Equal(t, StatusActive, r.Status("A"))

	assert.Equal(t, []string{"A"}, r.Sweep(15_001))
	assert.Equal(t, StatusStale, r.Status("A"))

	got := only(t, r)
	assert.True(t, got.IsOffline)
	assert.Equal(t, geometry.WorldPoint{X: 4, Y: 5}, got.LastEvent.Position)

	// sweeping again reports no change
	assert.Empty(t, r.Sweep(20_000))
}

func TestReconciler_FreshEventReactivates(t *testing.T) {
	r := NewReconciler(1000)
	r.SetConnected(true)
	r.Apply(ev("A", 1, 1, 0))
	r.Sweep(5000)
	require.Equal(t, StatusStale, r.Status("A"))

	r.Apply(ev("A", 2, 2, 5000))

	assert.Equal(t, StatusActive, r.Status("A"))
	assert.False(t, only(t, r).IsOffline)
}

func TestReconciler_DisconnectFreezesEveryEntity(t *testing.T) {
	r := NewReconciler(5000)
	r.SetConnected(true)
	r.Apply(ev("A", 1, 1, 1000))
	r.Apply(ev("B", 2, 2, 1000))

	r.SetConnected(false)
	for _, s := range r.Snapshot() {
		assert.True(t, s.IsOffline, s.EntityID)
	}
	assert.Equal(t, StatusActive, r.Status("A"), "per-entity status is independent of the connection")

	r.SetConnected(true)
	for _, s := range r.Snapshot() {
		assert.False(t, s.IsOffline, s.EntityID)
	}
	assert.Equal(t, 2, r.Len())
}

func TestReconciler_SnapshotOrderedAndDetached(t *testing.T) {
	r := NewReconciler(0)
	r.SetConnected(true)
	r.Apply(ev("c", 0, 0, 1))
	r.Apply(ev("a", 0, 0, 1))
	r.Apply(ev("b", 0, 0, 1))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].EntityID)
	assert.Equal(t, "b", snap[1].EntityID)
	assert.Equal(t, "c", snap[2].EntityID)

	snap[0].LastEvent.Position.X = 42
	assert.Zero(t, r.Snapshot()[0].LastEvent.Position.X)
}

func TestReconciler_Threshold(t *testing.T) {
	r := NewReconciler(-1)
	assert.Equal(t, DefaultStaleThresholdMs, r.StaleThreshold())

	r.SetStaleThreshold(900)
	assert.EqualValues(t, 900, r.StaleThreshold())

	r.SetStaleThreshold(0)
	assert.EqualValues(t, 900, r.StaleThreshold())
	assert.Equal(t, StatusUnknown, r.Status("nope"))
}
