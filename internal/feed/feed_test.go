package feed

import (
	"sync"
)

// recordingSink collects what a source hands to its sink.
type recordingSink struct {
	mu       sync.Mutex
	payloads []string
	states   []bool
}

func (s *recordingSink) Publish(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
}

func (s *recordingSink) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, connected)
}

func (s *recordingSink) Payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

func (s *recordingSink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states) > 0 && s.states[len(s.states)-1]
}
