// Package testutil provides shared test helpers and fixtures for the
// packages above the core engine (feed, db, view, api, scenestream).
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/monitoring"
	"github.com/banshee-data/tagtrack/internal/tags"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewJSONRequest creates a test HTTP request whose body is v encoded as JSON.
// A nil v sends no body.
func NewJSONRequest(t *testing.T, method, path string, v interface{}) *http.Request {
	t.Helper()
	if v == nil {
		return httptest.NewRequest(method, path, nil)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Event builds a labelled position event for entity id.
func Event(id string, x, y float64, tsMs int64) tags.PositionEvent {
	return tags.PositionEvent{
		EntityID:    id,
		Label:       "tag " + id,
		Position:    geometry.WorldPoint{X: x, Y: y},
		TimestampMs: tsMs,
	}
}

// Track builds n events for id moving dx metres along X every stepMs,
// starting at (0, 0) and startMs.
func Track(id string, n int, dx float64, startMs, stepMs int64) []tags.PositionEvent {
	out := make([]tags.PositionEvent, n)
	for i := range out {
		out[i] = Event(id, float64(i)*dx, 0, startMs+int64(i)*stepMs)
	}
	return out
}

// MuteLogs silences the monitoring logger for the duration of the test.
func MuteLogs(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

// Eventually polls cond every few milliseconds until it is true or the
// timeout elapses, failing the test in the latter case.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v: %s", timeout, msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
