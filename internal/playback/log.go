package playback

import (
	"sort"

	"github.com/banshee-data/tagtrack/internal/tags"
)

// Log is an immutable, time-ordered set of events for one playback session.
type Log struct {
	rng      tags.TimeRange
	events   []tags.PositionEvent
	byEntity map[string][]tags.PositionEvent
	ids      []string
}

// NewLog builds a log for r. Events outside r are dropped and the rest are
// sorted by timestamp if they are not already. The slice is copied.
func NewLog(r tags.TimeRange, events []tags.PositionEvent) *Log {
	kept := make([]tags.PositionEvent, 0, len(events))
	for _, ev := range events {
		if r.Contains(ev.TimestampMs) {
			kept = append(kept, ev)
		}
	}
	if !tags.IsSorted(kept) {
		tags.SortEvents(kept)
	}

	l := &Log{
		rng:      r,
		events:   kept,
		byEntity: make(map[string][]tags.PositionEvent),
	}
	for _, ev := range kept {
		if _, ok := l.byEntity[ev.EntityID]; !ok {
			l.ids = append(l.ids, ev.EntityID)
		}
		l.byEntity[ev.EntityID] = append(l.byEntity[ev.EntityID], ev)
	}
	sort.Strings(l.ids)
	return l
}

// Range returns the bounds the log was loaded for.
func (l *Log) Range() tags.TimeRange { return l.rng }

// Len returns the number of events.
func (l *Log) Len() int { return len(l.events) }

// Empty reports whether the log holds no events.
func (l *Log) Empty() bool { return len(l.events) == 0 }

// EntityIDs returns the ids present in the log, sorted.
func (l *Log) EntityIDs() []string {
	return append([]string(nil), l.ids...)
}

// Events returns the ordered events. The slice must not be modified.
func (l *Log) Events() []tags.PositionEvent { return l.events }

func (l *Log) entity(id string) []tags.PositionEvent {
	return l.byEntity[id]
}

// PositionAsOf returns the last event for id with a timestamp at or before
// t. It returns false when the entity has not appeared yet at t.
func PositionAsOf(l *Log, id string, t int64) (tags.PositionEvent, bool) {
	evs := l.entity(id)
	i := indexAsOf(evs, t)
	if i < 0 {
		return tags.PositionEvent{}, false
	}
	return evs[i], true
}

// indexAsOf returns the index of the last event at or before t, or -1.
func indexAsOf(evs []tags.PositionEvent, t int64) int {
	return sort.Search(len(evs), func(i int) bool { return evs[i].TimestampMs > t }) - 1
}
