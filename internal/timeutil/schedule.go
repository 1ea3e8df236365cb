package timeutil

import (
	"sync"
	"time"
)

// Tick is one firing of a Schedule, tagged with the generation that
// produced it.
type Tick struct {
	Gen uint64
	At  time.Time
}

// Schedule is a cancellable repeating task handle. Consumers read ticks from
// C on their own goroutine; Start replaces any running generation and Stop
// halts it. After Stop or a replacing Start returns, no tick of the old
// generation is delivered, and IsCurrent rejects any that was already read.
type Schedule struct {
	clock    Clock
	interval time.Duration
	out      chan Tick

	mu      sync.Mutex
	gen     uint64
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSchedule creates a stopped schedule firing every interval once started.
func NewSchedule(clock Clock, interval time.Duration) *Schedule {
	return &Schedule{
		clock:    clock,
		interval: interval,
		out:      make(chan Tick, 1),
	}
}

// C returns the tick channel. It stays the same across generations.
func (s *Schedule) C() <-chan Tick {
	return s.out
}

// Start begins firing under a new generation, stopping the previous one
// first, and returns the new generation.
func (s *Schedule) Start() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	gen := s.gen
	ticker := s.clock.NewTicker(s.interval)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.pump(gen, ticker, s.stop, s.done)
	return gen
}

// Stop halts the current generation. It is safe to call when stopped.
func (s *Schedule) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Running reports whether a generation is active.
func (s *Schedule) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Generation returns the most recently started generation.
func (s *Schedule) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// IsCurrent reports whether t belongs to the running generation.
func (s *Schedule) IsCurrent(t Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && t.Gen == s.gen
}

func (s *Schedule) stopLocked() {
	if !s.running {
		return
	}
	close(s.stop)
	<-s.done
	s.running = false

	// drop a tick the old pump already buffered
	select {
	case <-s.out:
	default:
	}
}

func (s *Schedule) pump(gen uint64, ticker Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case at := <-ticker.C():
			select {
			case s.out <- Tick{Gen: gen, At: at}:
			case <-stop:
				return
			}
		}
	}
}
