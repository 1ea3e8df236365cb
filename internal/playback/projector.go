package playback

import (
	"github.com/banshee-data/tagtrack/internal/tags"
)

// Projected is an entity's position as of a playback time.
type Projected struct {
	Event   tags.PositionEvent
	Offline bool
}

// Projector answers PositionAsOf for every entity in a log. During forward
// playback each entity's cursor only moves forward; a backward scrub
// recomputes the cursors from the full log.
//
// A Projector is not safe for concurrent use.
type Projector struct {
	log              *Log
	staleThresholdMs int64
	cursor           map[string]int
	lastT            int64
	primed           bool
}

// NewProjector returns a projector over l.
func NewProjector(l *Log, staleThresholdMs int64) *Projector {
	return &Projector{
		log:              l,
		staleThresholdMs: staleThresholdMs,
		cursor:           make(map[string]int, len(l.ids)),
	}
}

// Log returns the log being projected.
func (p *Projector) Log() *Log { return p.log }

// SetStaleThreshold changes the offline threshold for later projections.
func (p *Projector) SetStaleThreshold(ms int64) {
	p.staleThresholdMs = ms
}

// At returns the position of every entity that has appeared by t, ordered
// by entity id.
func (p *Projector) At(t int64) []Projected {
	if !p.primed || t < p.lastT {
		p.reseek(t)
	} else {
		p.advance(t)
	}
	p.lastT = t
	p.primed = true

	out := make([]Projected, 0, len(p.log.ids))
	for _, id := range p.log.ids {
		i := p.cursor[id]
		if i < 0 {
			continue
		}
		ev := p.log.entity(id)[i]
		out = append(out, Projected{
			Event:   ev,
			Offline: t-ev.TimestampMs > p.staleThresholdMs,
		})
	}
	return out
}

func (p *Projector) reseek(t int64) {
	for _, id := range p.log.ids {
		p.cursor[id] = indexAsOf(p.log.entity(id), t)
	}
}

func (p *Projector) advance(t int64) {
	for _, id := range p.log.ids {
		evs := p.log.entity(id)
		i := p.cursor[id]
		for i+1 < len(evs) && evs[i+1].TimestampMs <= t {
			i++
		}
		p.cursor[id] = i
	}
}
