package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/testutil"
	"github.com/banshee-data/tagtrack/internal/timeutil"
)

type memRecorder struct {
	mu     sync.Mutex
	events []tags.PositionEvent
	err    error
}

func (r *memRecorder) RecordPosition(_ context.Context, ev tags.PositionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *memRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func startPipe(t *testing.T, rec Recorder) (*Mux, *Pipe) {
	t.Helper()
	testutil.MuteLogs(t)
	m := NewMux(nil)
	clock := timeutil.NewMockClock(time.UnixMilli(1_000_000))
	p := NewPipe(m, clock, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// The initial connection state marks the pipe as subscribed.
	select {
	case connected := <-p.Connection():
		require.False(t, connected)
	case <-time.After(time.Second):
		t.Fatal("pipe did not start")
	}
	return m, p
}

func nextEvent(t *testing.T, p *Pipe) tags.PositionEvent {
	t.Helper()
	select {
	case ev := <-p.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return tags.PositionEvent{}
}

func TestPipe_DecodesAndDropsMalformed(t *testing.T) {
	rec := &memRecorder{}
	m, p := startPipe(t, rec)

	m.Publish(`{"uid":"A","data":{"pos":[1,1],"time":1000}}`)
	m.Publish(`not json`)
	m.Publish(`{"data":{"pos":[1,1]}}`)
	m.Publish(`{"uid":"B","data":{"pos":[2,3]}}`)

	a := nextEvent(t, p)
	assert.Equal(t, "A", a.EntityID)
	b := nextEvent(t, p)
	assert.Equal(t, "B", b.EntityID)
	assert.EqualValues(t, 1_000_000, b.TimestampMs, "unstamped readings take the receive time")

	assert.EqualValues(t, 2, p.Decoded())
	assert.EqualValues(t, 2, p.Malformed())
	assert.Equal(t, 2, rec.Len())
}

func TestPipe_RecorderFailureDoesNotStopEvents(t *testing.T) {
	rec := &memRecorder{err: errors.New("database is locked")}
	m, p := startPipe(t, rec)

	m.Publish(`{"uid":"A","data":{"pos":[1,1],"time":1000}}`)
	assert.Equal(t, "A", nextEvent(t, p).EntityID)
}

func TestPipe_ForwardsConnectionChanges(t *testing.T) {
	m, p := startPipe(t, nil)

	m.SetConnected(true)
	select {
	case connected := <-p.Connection():
		assert.True(t, connected)
	case <-time.After(time.Second):
		t.Fatal("no connection change")
	}
}

func TestPipe_StopsWhenMuxCloses(t *testing.T) {
	m := NewMux(nil)
	p := NewPipe(m, nil, nil)
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	<-p.Connection()
	require.NoError(t, m.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pipe kept running after the mux closed")
	}
}
