// Package playback replays a recorded position log: a virtual clock that
// advances in proportion to wall time, and a projector answering where each
// tag was as of the clock's current time.
package playback

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/tagtrack/internal/tags"
)

var (
	// ErrInvalidRange is returned when a range does not have End > Start.
	ErrInvalidRange = errors.New("playback: invalid range")
	// ErrInvalidSpeed is returned for non-positive or non-finite speeds.
	ErrInvalidSpeed = errors.New("playback: speed must be positive")
)

// DefaultSpeed is the initial speed multiplier.
const DefaultSpeed = 1.0

// State is a snapshot of the playback clock.
type State struct {
	CurrentMs  int64   `json:"current_ms"`
	RangeStart int64   `json:"range_start"`
	RangeEnd   int64   `json:"range_end"`
	Speed      float64 `json:"speed"`
	Playing    bool    `json:"playing"`
}

// Progress returns how far through the range the clock is, in [0, 1].
func (s State) Progress() float64 {
	span := s.RangeEnd - s.RangeStart
	if span <= 0 {
		return 0
	}
	return float64(s.CurrentMs-s.RangeStart) / float64(span)
}

// AtEnd reports whether the clock has reached the end of its range.
func (s State) AtEnd() bool {
	return s.CurrentMs >= s.RangeEnd
}

// Clock is the virtual playback clock. It is driven by Advance calls from a
// frame schedule; it never reads wall time itself.
//
// Clock is not safe for concurrent use.
type Clock struct {
	state State
	// sub-millisecond remainder carried between frames
	carry float64
}

// NewClock returns a paused clock with no range loaded.
func NewClock() *Clock {
	return &Clock{state: State{Speed: DefaultSpeed}}
}

// State returns the current snapshot.
func (c *Clock) State() State {
	return c.state
}

// Load resets the clock to the start of r, paused. The speed is kept.
func (c *Clock) Load(r tags.TimeRange) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	c.state = State{
		CurrentMs:  r.Start,
		RangeStart: r.Start,
		RangeEnd:   r.End,
		Speed:      c.state.Speed,
	}
	c.carry = 0
	return nil
}

// Loaded reports whether a valid range has been loaded.
func (c *Clock) Loaded() bool {
	return c.state.RangeEnd > c.state.RangeStart
}

// Play starts advancing. Playing from the end of the range restarts from
// its start. It is a no-op when nothing is loaded.
func (c *Clock) Play() {
	if !c.Loaded() {
		return
	}
	if c.state.AtEnd() {
		c.state.CurrentMs = c.state.RangeStart
		c.carry = 0
	}
	c.state.Playing = true
}

// Pause stops advancing. The current time is kept.
func (c *Clock) Pause() {
	c.state.Playing = false
}

// Scrub moves the clock to t, clamped into the range, and pauses.
func (c *Clock) Scrub(t int64) {
	c.state.Playing = false
	c.state.CurrentMs = clamp(t, c.state.RangeStart, c.state.RangeEnd)
	c.carry = 0
}

// SetSpeed changes the multiplier applied from the next Advance.
func (c *Clock) SetSpeed(m float64) error {
	if !(m > 0) || math.IsInf(m, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, m)
	}
	c.state.Speed = m
	return nil
}

// Advance moves the clock forward by elapsed wall time scaled by the speed.
// It does nothing unless playing. Reaching the end of the range stops
// playback. It reports whether the current time changed.
func (c *Clock) Advance(elapsed time.Duration) bool {
	if !c.state.Playing || elapsed <= 0 {
		return false
	}

	delta := float64(elapsed)/float64(time.Millisecond)*c.state.Speed + c.carry
	whole := math.Floor(delta)
	c.carry = delta - whole

	before := c.state.CurrentMs
	next := before + int64(whole)
	if whole > float64(c.state.RangeEnd-before) {
		next = c.state.RangeEnd
	}
	if next >= c.state.RangeEnd {
		next = c.state.RangeEnd
		c.state.Playing = false
		c.carry = 0
	}
	c.state.CurrentMs = next
	return next != before
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
