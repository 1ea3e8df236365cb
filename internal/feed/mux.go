package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/tagtrack/internal/httputil"
	"github.com/banshee-data/tagtrack/internal/monitoring"
	"github.com/banshee-data/tagtrack/internal/timeutil"
)

// Reconnect backoff bounds used by Monitor.
const (
	MinBackoff = 500 * time.Millisecond
	MaxBackoff = 10 * time.Second
)

// subscriberBuffer is the per-subscriber payload queue. A subscriber that
// falls further behind misses payloads instead of blocking the source.
const subscriberBuffer = 256

var logf = monitoring.Prefixed("feed")

// Sink receives what a Source reads. Sources call SetConnected(true) once
// their transport is open; the Mux marks the feed disconnected when Run
// returns.
type Sink interface {
	Publish(payload string)
	SetConnected(connected bool)
}

// Source produces raw payloads until its transport fails, it runs out of
// data or ctx is cancelled. A nil return means the source is exhausted and
// must not be restarted.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// Mux fans payloads from one source out to any number of subscribers and
// tracks whether the source is currently connected.
type Mux struct {
	clock timeutil.Clock

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
	watchers     map[string]chan bool
	connected    bool
	closing      bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewMux creates a Mux. Backoff waits in Monitor use clock.
func NewMux(clock timeutil.Clock) *Mux {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Mux{
		clock:       clock,
		subscribers: make(map[string]chan string),
		watchers:    make(map[string]chan bool),
	}
}

// Subscribe creates a channel receiving every published payload. The id is
// used to unsubscribe.
func (m *Mux) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closing {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *Mux) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// WatchConnection returns a channel carrying connection transitions. The
// current state is delivered immediately. Only the latest state is kept for
// a watcher that has not read the previous one.
func (m *Mux) WatchConnection() (string, <-chan bool) {
	id := uuid.NewString()
	ch := make(chan bool, 1)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	ch <- m.connected
	if m.closing {
		close(ch)
		return id, ch
	}
	m.watchers[id] = ch
	return id, ch
}

// UnwatchConnection removes a connection watcher and closes its channel.
func (m *Mux) UnwatchConnection(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.watchers[id]; ok {
		close(ch)
		delete(m.watchers, id)
	}
}

// Publish sends payload to every subscriber without blocking.
func (m *Mux) Publish(payload string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closing {
		return
	}
	m.published.Add(1)
	for _, ch := range m.subscribers {
		select {
		case ch <- payload:
		default:
			m.dropped.Add(1)
		}
	}
}

// SetConnected records the source connection state and notifies watchers
// on change.
func (m *Mux) SetConnected(connected bool) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closing || m.connected == connected {
		return
	}
	m.connected = connected
	for _, ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- connected
	}
}

// Connected reports the last connection state set by the source.
func (m *Mux) Connected() bool {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	return m.connected
}

// Monitor runs src until ctx is cancelled, restarting it with exponential
// backoff whenever it fails. It returns nil once the source is exhausted.
func (m *Mux) Monitor(ctx context.Context, src Source) error {
	backoff := MinBackoff
	for {
		started := m.clock.Now()
		err := src.Run(ctx, m)
		m.SetConnected(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			logf("%s finished", src.Name())
			return nil
		}
		if m.clock.Since(started) > MaxBackoff {
			backoff = MinBackoff
		}
		logf("%s failed: %v, retrying in %s", src.Name(), err, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(backoff):
		}
		backoff *= 2
		if backoff > MaxBackoff {
			backoff = MaxBackoff
		}
	}
}

// Close closes every subscriber and watcher. Later publishes are ignored.
func (m *Mux) Close() error {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closing {
		return errors.New("feed mux already closed")
	}
	m.closing = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	for id, ch := range m.watchers {
		close(ch)
		delete(m.watchers, id)
	}
	return nil
}

// MuxStats is reported by the feed-status debug route.
type MuxStats struct {
	Connected   bool   `json:"connected"`
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns the current counters.
func (m *Mux) Stats() MuxStats {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	return MuxStats{
		Connected:   m.connected,
		Subscribers: len(m.subscribers),
		Published:   m.published.Load(),
		Dropped:     m.dropped.Load(),
	}
}

// AttachAdminRoutes mounts the feed debugging endpoints under /debug/. These
// routes are only reachable over localhost or the tailnet.
func (m *Mux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("feed-status", "Feed connection state and counters (JSON)", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, m.Stats())
	})

	// Inject a raw payload as if the source had read it.
	debug.HandleSilentFunc("feed-inject", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		payload := strings.TrimSpace(r.FormValue("payload"))
		if payload == "" {
			httputil.BadRequest(w, "missing payload")
			return
		}
		m.Publish(payload)
		httputil.WriteJSONOK(w, map[string]string{"status": fmt.Sprintf("published %d bytes", len(payload))})
	})

	// Server-Sent Events stream of raw payloads.
	debug.HandleSilentFunc("feed-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
