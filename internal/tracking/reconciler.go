// Package tracking reconciles the live position stream into one current
// state per tag.
//
// Each tag moves through Unknown -> Active -> Stale -> Active ... . An event
// makes a tag Active unless it is older than what is already displayed, in
// which case it is discarded so the displayed position never moves back in
// time. Staleness is evaluated by Sweep on a fixed cadence owned by the
// caller and never discards the last known position.
//
// A Reconciler is not safe for concurrent use; it belongs to the single
// goroutine that drives the view.
package tracking

import (
	"sort"

	"github.com/banshee-data/tagtrack/internal/tags"
)

// DefaultStaleThresholdMs is how long a tag may go without a reading before
// it is shown as offline.
const DefaultStaleThresholdMs int64 = 5000

// Status is the per-entity liveness state.
type Status int

const (
	StatusUnknown Status = iota
	StatusActive
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Outcome describes what Apply did with an event.
type Outcome int

const (
	Created Outcome = iota
	Updated
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "discarded"
	}
}

type entry struct {
	label  string
	last   tags.PositionEvent
	status Status
}

// Reconciler holds the current state of every entity seen this session.
// Entities are never removed.
type Reconciler struct {
	staleThresholdMs int64
	connected        bool
	entities         map[string]*entry
}

// NewReconciler creates an empty reconciler. It starts disconnected.
func NewReconciler(staleThresholdMs int64) *Reconciler {
	if staleThresholdMs <= 0 {
		staleThresholdMs = DefaultStaleThresholdMs
	}
	return &Reconciler{
		staleThresholdMs: staleThresholdMs,
		entities:         make(map[string]*entry),
	}
}

// Apply folds one event into the entity state.
func (r *Reconciler) Apply(ev tags.PositionEvent) Outcome {
	e, ok := r.entities[ev.EntityID]
	if !ok {
		r.entities[ev.EntityID] = &entry{label: ev.Label, last: ev, status: StatusActive}
		return Created
	}

	if ev.TimestampMs < e.last.TimestampMs {
		return Discarded
	}

	e.last = ev
	e.status = StatusActive
	if ev.Label != "" {
		e.label = ev.Label
	}
	return Updated
}

// Sweep marks entities whose last event is older than the threshold at
// nowMs as stale, and returns the ids whose status changed.
func (r *Reconciler) Sweep(nowMs int64) []string {
	var changed []string
	for id, e := range r.entities {
		next := StatusActive
		if nowMs-e.last.TimestampMs > r.staleThresholdMs {
			next = StatusStale
		}
		if next != e.status {
			e.status = next
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

// SetConnected records the state of the feed connection. While
// disconnected every entity is reported offline, frozen at its last
// position.
func (r *Reconciler) SetConnected(connected bool) {
	r.connected = connected
}

// Connected reports the feed connection state.
func (r *Reconciler) Connected() bool {
	return r.connected
}

// SetStaleThreshold changes the offline threshold used by later sweeps.
func (r *Reconciler) SetStaleThreshold(ms int64) {
	if ms > 0 {
		r.staleThresholdMs = ms
	}
}

// StaleThreshold returns the offline threshold in milliseconds.
func (r *Reconciler) StaleThreshold() int64 {
	return r.staleThresholdMs
}

// Status returns the liveness state of id.
func (r *Reconciler) Status(id string) Status {
	if e, ok := r.entities[id]; ok {
		return e.status
	}
	return StatusUnknown
}

// Len returns the number of entities seen.
func (r *Reconciler) Len() int {
	return len(r.entities)
}

// Snapshot returns a copy of every entity state ordered by id.
func (r *Reconciler) Snapshot() []tags.EntityState {
	out := make([]tags.EntityState, 0, len(r.entities))
	for id, e := range r.entities {
		out = append(out, tags.EntityState{
			EntityID:  id,
			Label:     e.label,
			LastEvent: e.last,
			IsOffline: !r.connected || e.status == StatusStale,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
