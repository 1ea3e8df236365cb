// Package tags holds the value types shared by the ingest, storage and
// rendering layers: position events, per-entity state, beacons and the
// statistics windows requested from the history store.
package tags

import (
	"fmt"
	"sort"

	"github.com/banshee-data/tagtrack/internal/geometry"
)

// PositionEvent is a single sensor reading for one tag. Events are immutable
// once received.
type PositionEvent struct {
	EntityID    string              `json:"entity_id"`
	Label       string              `json:"label"`
	Position    geometry.WorldPoint `json:"position"`
	Z           float64             `json:"z"`
	TimestampMs int64               `json:"timestamp_ms"`
}

func (e PositionEvent) String() string {
	return fmt.Sprintf("%s(%s) @%d (%.2f, %.2f)", e.EntityID, e.Label, e.TimestampMs, e.Position.X, e.Position.Y)
}

// EntityState is the last accepted event for an entity plus its derived
// offline flag.
type EntityState struct {
	EntityID  string        `json:"entity_id"`
	Label     string        `json:"label"`
	LastEvent PositionEvent `json:"last_event"`
	IsOffline bool          `json:"is_offline"`
}

// Beacon is a fixed reference point drawn as an overlay. Beacons are not
// tracked entities.
type Beacon struct {
	ID         string              `json:"id"`
	Label      string              `json:"label"`
	Coordinate geometry.WorldPoint `json:"coordinate"`
	Z          float64             `json:"z"`
}

// TimeRange is an inclusive [Start, End] window in epoch milliseconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Valid reports whether the range has a positive length.
func (r TimeRange) Valid() bool {
	return r.End > r.Start
}

// Contains reports whether t falls inside the range, bounds included.
func (r TimeRange) Contains(t int64) bool {
	return t >= r.Start && t <= r.End
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

// EntityStats are the aggregate movement figures for one entity in a window.
type EntityStats struct {
	Label               string  `json:"label,omitempty"`
	TotalDistanceMeters float64 `json:"total_distance_meters"`
	MovingTimeMinutes   float64 `json:"moving_time_minutes"`
}

// StatsWindow is the statistics collaborator's answer for one window.
type StatsWindow struct {
	WindowStart int64                  `json:"window_start"`
	WindowEnd   int64                  `json:"window_end"`
	PerEntity   map[string]EntityStats `json:"per_entity"`
}

// Range returns the window bounds as a TimeRange.
func (w StatsWindow) Range() TimeRange {
	return TimeRange{Start: w.WindowStart, End: w.WindowEnd}
}

// IsSorted reports whether events are in ascending timestamp order.
func IsSorted(events []PositionEvent) bool {
	return sort.SliceIsSorted(events, func(i, j int) bool {
		return events[i].TimestampMs < events[j].TimestampMs
	})
}

// SortEvents orders events by timestamp in place, keeping arrival order for
// equal timestamps.
func SortEvents(events []PositionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimestampMs < events[j].TimestampMs
	})
}
