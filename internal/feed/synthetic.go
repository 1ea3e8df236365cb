package feed

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/timeutil"
)

// SyntheticSource emits tags walking circles around the middle of a square
// map. It stands in for the anchors during development and demos.
type SyntheticSource struct {
	Tags     int
	MapSize  float64
	Interval time.Duration
	Clock    timeutil.Clock
}

func (s *SyntheticSource) Name() string { return "synthetic" }

// Run emits one message per tag on every interval until ctx is cancelled.
func (s *SyntheticSource) Run(ctx context.Context, sink Sink) error {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	n := s.Tags
	if n <= 0 {
		n = 3
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	sink.SetConnected(true)

	start := clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			elapsed := now.Sub(start).Seconds()
			for i := 0; i < n; i++ {
				payload, err := Encode(s.event(i, n, elapsed, now.UnixMilli()))
				if err != nil {
					return err
				}
				sink.Publish(string(payload))
			}
		}
	}
}

func (s *SyntheticSource) event(i, n int, elapsedSec float64, ts int64) tags.PositionEvent {
	size := s.MapSize
	if size <= 0 {
		size = 40
	}
	center := size / 2
	radius := size * 0.1 * float64(i+1) / float64(n) * 3
	phase := 2 * math.Pi * float64(i) / float64(n)
	// one lap per minute, alternate tags walk the other way
	angle := phase + elapsedSec*2*math.Pi/60
	if i%2 == 1 {
		angle = phase - elapsedSec*2*math.Pi/60
	}
	return tags.PositionEvent{
		EntityID: fmt.Sprintf("sim%02d", i+1),
		Label:    fmt.Sprintf("Sim %d", i+1),
		Position: geometry.ClampToMap(geometry.WorldPoint{
			X: center + radius*math.Cos(angle),
			Y: center + radius*math.Sin(angle),
		}, size),
		TimestampMs: ts,
	}
}
