package feed

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/timeutil"
)

// Recorder persists accepted events. The history store implements it.
type Recorder interface {
	RecordPosition(ctx context.Context, ev tags.PositionEvent) error
}

// Pipe turns mux payloads into position events for the view controller.
// Malformed payloads are counted and dropped here so the controller only
// ever sees well-formed events.
type Pipe struct {
	mux      *Mux
	clock    timeutil.Clock
	recorder Recorder

	events     chan tags.PositionEvent
	connection chan bool

	decoded   atomic.Uint64
	malformed atomic.Uint64
}

// NewPipe creates a pipe reading from m. rec may be nil.
func NewPipe(m *Mux, clock timeutil.Clock, rec Recorder) *Pipe {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pipe{
		mux:        m,
		clock:      clock,
		recorder:   rec,
		events:     make(chan tags.PositionEvent, subscriberBuffer),
		connection: make(chan bool, 1),
	}
}

// Events carries decoded events in arrival order.
func (p *Pipe) Events() <-chan tags.PositionEvent { return p.events }

// Connection carries source connection transitions. Only the latest state
// is buffered.
func (p *Pipe) Connection() <-chan bool { return p.connection }

// Decoded returns the number of payloads turned into events.
func (p *Pipe) Decoded() uint64 { return p.decoded.Load() }

// Malformed returns the number of payloads dropped by Decode.
func (p *Pipe) Malformed() uint64 { return p.malformed.Load() }

// Run pumps payloads until ctx is cancelled or the mux closes.
func (p *Pipe) Run(ctx context.Context) error {
	subID, payloads := p.mux.Subscribe()
	defer p.mux.Unsubscribe(subID)
	watchID, conn := p.mux.WatchConnection()
	defer p.mux.UnwatchConnection(watchID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case connected, ok := <-conn:
			if !ok {
				return nil
			}
			select {
			case <-p.connection:
			default:
			}
			p.connection <- connected

		case payload, ok := <-payloads:
			if !ok {
				return nil
			}
			ev, err := Decode([]byte(payload), timeutil.UnixMilli(p.clock))
			if err != nil {
				p.malformed.Add(1)
				if errors.Is(err, ErrMalformed) {
					logf("dropping payload: %v", err)
				}
				continue
			}
			p.decoded.Add(1)

			if p.recorder != nil {
				if err := p.recorder.RecordPosition(ctx, ev); err != nil && ctx.Err() == nil {
					logf("failed to record %s: %v", ev.EntityID, err)
				}
			}

			select {
			case p.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
