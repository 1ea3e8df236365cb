package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/tagtrack/internal/tags"
)

// StatsOptions tune the movement statistics.
type StatsOptions struct {
	// GapLimit is the longest interval between consecutive samples that is
	// still counted. Longer gaps mean the tag was off or out of range.
	GapLimit time.Duration
	// MovingSpeed is the speed in m/s above which a segment counts as
	// movement. Slower segments are treated as position noise.
	MovingSpeed float64
}

// DefaultStatsOptions returns a 5s gap limit and 0.05 m/s moving speed.
func DefaultStatsOptions() StatsOptions {
	return StatsOptions{GapLimit: 5 * time.Second, MovingSpeed: 0.05}
}

// Stats computes per-tag distance and moving time for the samples inside r.
// Only moving segments contribute to the distance. Results are rounded to
// two decimals.
func (db *DB) Stats(ctx context.Context, r tags.TimeRange, opts StatsOptions) (tags.StatsWindow, error) {
	win := tags.StatsWindow{WindowStart: r.Start, WindowEnd: r.End, PerEntity: map[string]tags.EntityStats{}}
	if !r.Valid() {
		return win, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT uid, label, x, y, timestamp_ms
		FROM tag_history
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY uid ASC, timestamp_ms ASC, id ASC`,
		r.Start, r.End,
	)
	if err != nil {
		return win, fmt.Errorf("query stats %s: %w", r, err)
	}
	defer rows.Close()

	var acc *movementAccumulator
	flush := func() {
		if acc != nil {
			win.PerEntity[acc.uid] = acc.result()
		}
	}
	for rows.Next() {
		var (
			uid, label string
			x, y       float64
			ts         int64
		)
		if err := rows.Scan(&uid, &label, &x, &y, &ts); err != nil {
			return win, err
		}
		if acc == nil || acc.uid != uid {
			flush()
			acc = newMovementAccumulator(uid, label, opts)
		}
		acc.add(x, y, ts)
	}
	if err := rows.Err(); err != nil {
		return win, err
	}
	flush()
	return win, nil
}

// FetchStats serves the view's statistics requests using db.StatsOptions.
func (db *DB) FetchStats(ctx context.Context, r tags.TimeRange) (tags.StatsWindow, error) {
	return db.Stats(ctx, r, db.StatsOptions)
}

type movementAccumulator struct {
	uid, label string
	opts       StatsOptions

	havePrev bool
	prev     [2]float64
	prevTs   int64

	segments []float64
	movingMs int64
}

func newMovementAccumulator(uid, label string, opts StatsOptions) *movementAccumulator {
	return &movementAccumulator{uid: uid, label: label, opts: opts}
}

func (a *movementAccumulator) add(x, y float64, ts int64) {
	cur := [2]float64{x, y}
	if !a.havePrev {
		a.prev, a.prevTs, a.havePrev = cur, ts, true
		return
	}

	dt := ts - a.prevTs
	dist := floats.Distance(cur[:], a.prev[:], 2)
	a.prev, a.prevTs = cur, ts

	if dt <= 0 || dt > a.opts.GapLimit.Milliseconds() {
		return
	}
	if dist/(float64(dt)/1000) > a.opts.MovingSpeed {
		a.segments = append(a.segments, dist)
		a.movingMs += dt
	}
}

func (a *movementAccumulator) result() tags.EntityStats {
	return tags.EntityStats{
		Label:               a.label,
		TotalDistanceMeters: round2(floats.Sum(a.segments)),
		MovingTimeMinutes:   round2(float64(a.movingMs) / 60000),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
