package tags

import (
	"testing"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/stretchr/testify/assert"
)

func TestTimeRange(t *testing.T) {
	assert.True(t, TimeRange{Start: 1, End: 2}.Valid())
	assert.False(t, TimeRange{Start: 2, End: 2}.Valid())
	assert.False(t, TimeRange{Start: 3, End: 2}.Valid())

	r := TimeRange{Start: 1000, End: 2000}
	assert.True(t, r.Contains(1000))
	assert.True(t, r.Contains(2000))
	assert.False(t, r.Contains(2001))
}

func TestSortEvents_StableForEqualTimestamps(t *testing.T) {
	events := []PositionEvent{
		{EntityID: "b", TimestampMs: 20},
		{EntityID: "a", TimestampMs: 10},
		{EntityID: "c", TimestampMs: 20},
		{EntityID: "d", TimestampMs: 5},
	}
	assert.False(t, IsSorted(events))

	SortEvents(events)

	assert.True(t, IsSorted(events))
	var ids []string
	for _, e := range events {
		ids = append(ids, e.EntityID)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)
}

func TestPositionEvent_String(t *testing.T) {
	e := PositionEvent{EntityID: "ea22", Label: "Bessie", Position: geometry.WorldPoint{X: 1.5, Y: 2}, TimestampMs: 42}
	assert.Equal(t, "ea22(Bessie) @42 (1.50, 2.00)", e.String())
}
