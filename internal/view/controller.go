// Package view owns the display state. A single loop applies live events,
// playback ticks, settings changes and commands, and publishes immutable
// scenes to subscribers. Live and history modes are exclusive; switching
// mode or loading a range starts a new generation and discards any result
// fetched for an older one.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/tagtrack/internal/monitoring"
	"github.com/banshee-data/tagtrack/internal/playback"
	"github.com/banshee-data/tagtrack/internal/settings"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/timeutil"
	"github.com/banshee-data/tagtrack/internal/tracking"
)

var logf = monitoring.Prefixed("view")

// ErrNotRunning is returned by commands issued after Run has returned.
var ErrNotRunning = errors.New("view controller is not running")

// ErrNoRange is returned by playback commands before a range is loaded.
var ErrNoRange = errors.New("no history range loaded")

// Default cadences.
const (
	DefaultFreshnessInterval = time.Second
	DefaultFrameInterval     = 16 * time.Millisecond
	DefaultLiveStatsWindow   = time.Hour
	DefaultLiveStatsRefresh  = 30 * time.Second
)

// Status strings shown with the scene.
const (
	StatusLive         = "live"
	StatusDisconnected = "disconnected, showing last known positions"
	StatusSelectRange  = "select a time range"
	StatusLoading      = "loading history"
	StatusInvalidRange = "invalid time range"
	StatusNoData       = "no data in range"
	StatusPaused       = "paused"
	StatusPlaying      = "playing"
	StatusEnded        = "playback ended"
)

// HistorySource returns the ordered events recorded in a range.
type HistorySource interface {
	FetchHistory(ctx context.Context, r tags.TimeRange) ([]tags.PositionEvent, error)
}

// StatsSource returns aggregate statistics for a window.
type StatsSource interface {
	FetchStats(ctx context.Context, r tags.TimeRange) (tags.StatsWindow, error)
}

// BeaconSource returns the fixed reference points.
type BeaconSource interface {
	FetchBeacons(ctx context.Context) ([]tags.Beacon, error)
}

// Options configures a Controller. Settings is required; any source may be
// nil, in which case the matching feature is unavailable.
type Options struct {
	Clock    timeutil.Clock
	Settings *settings.Store
	History  HistorySource
	Stats    StatsSource
	Beacons  BeaconSource

	FreshnessInterval time.Duration
	FrameInterval     time.Duration
	LiveStatsWindow   time.Duration
	LiveStatsRefresh  time.Duration
}

// Inputs are the live channels read by Run. Either may be nil.
type Inputs struct {
	Events     <-chan tags.PositionEvent
	Connection <-chan bool
}

// Controller is the view state machine.
type Controller struct {
	opts  Options
	clock timeutil.Clock
	inbox chan func()
	done  chan struct{}

	running   atomic.Bool
	scene     atomic.Pointer[Scene]
	discarded atomic.Uint64

	subMu sync.Mutex
	subs  map[string]chan *Scene

	// Owned by the Run goroutine.
	runCtx     context.Context
	cfg        settings.Settings
	mode       Mode
	gen        uint64
	reconciler *tracking.Reconciler
	clockPB    *playback.Clock
	projector  *playback.Projector
	frames     *timeutil.Schedule
	lastFrame  time.Time
	loadRange  tags.TimeRange
	loading    bool
	noData     bool
	status     string
	stats      *tags.StatsWindow
	statsSeq   uint64
	statsShown uint64
	beacons    []tags.Beacon
	fetches    map[string]context.CancelFunc
}

// NewController creates a controller in live mode.
func NewController(opts Options) (*Controller, error) {
	if opts.Settings == nil {
		return nil, errors.New("view: settings store is required")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.FreshnessInterval <= 0 {
		opts.FreshnessInterval = DefaultFreshnessInterval
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.LiveStatsWindow <= 0 {
		opts.LiveStatsWindow = DefaultLiveStatsWindow
	}
	if opts.LiveStatsRefresh <= 0 {
		opts.LiveStatsRefresh = DefaultLiveStatsRefresh
	}

	cfg := opts.Settings.Snapshot()
	c := &Controller{
		opts:       opts,
		clock:      opts.Clock,
		inbox:      make(chan func(), 64),
		done:       make(chan struct{}),
		subs:       make(map[string]chan *Scene),
		cfg:        cfg,
		mode:       ModeLive,
		reconciler: tracking.NewReconciler(cfg.StaleThresholdMs),
		clockPB:    playback.NewClock(),
		frames:     timeutil.NewSchedule(opts.Clock, opts.FrameInterval),
		fetches:    make(map[string]context.CancelFunc),
	}
	c.publish()
	return c, nil
}

// Scene returns the most recently published scene.
func (c *Controller) Scene() *Scene {
	return c.scene.Load()
}

// Discarded returns how many fetch results were dropped because a newer
// generation or a newer statistics request had superseded them.
func (c *Controller) Discarded() uint64 {
	return c.discarded.Load()
}

// Subscribe registers for scene updates. The latest scene is delivered
// first; a subscriber that falls behind only sees the newest scene.
func (c *Controller) Subscribe() (string, <-chan *Scene) {
	id := uuid.NewString()
	ch := make(chan *Scene, 1)
	ch <- c.scene.Load()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (c *Controller) Unsubscribe(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if ch, ok := c.subs[id]; ok {
		close(ch)
		delete(c.subs, id)
	}
}

// Run is the controller loop. It is the only goroutine that mutates view
// state and returns when ctx is cancelled.
func (c *Controller) Run(ctx context.Context, in Inputs) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("view controller already running")
	}
	defer close(c.done)

	c.runCtx = ctx
	settingsID, settingsCh := c.opts.Settings.Subscribe()
	defer c.opts.Settings.Unsubscribe(settingsID)

	freshness := c.clock.NewTicker(c.opts.FreshnessInterval)
	defer freshness.Stop()
	statsRefresh := c.clock.NewTicker(c.opts.LiveStatsRefresh)
	defer statsRefresh.Stop()

	defer c.frames.Stop()
	defer c.cancelFetches()

	// pick up changes made between NewController and Run
	c.applySettings(c.opts.Settings.Snapshot())
	c.requestLiveStats()
	c.requestBeacons()
	c.render()

	events, connection := in.Events, in.Connection
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				c.setConnected(false)
				continue
			}
			c.applyEvent(ev)

		case connected, ok := <-connection:
			if !ok {
				connection = nil
				c.setConnected(false)
				continue
			}
			c.setConnected(connected)

		case now := <-freshness.C():
			if changed := c.reconciler.Sweep(now.UnixMilli()); len(changed) > 0 && c.mode == ModeLive {
				c.render()
			}

		case <-statsRefresh.C():
			c.requestLiveStats()

		case tick := <-c.frames.C():
			c.onFrame(tick)

		case _, ok := <-settingsCh:
			if !ok {
				settingsCh = nil
				continue
			}
			c.applySettings(c.opts.Settings.Snapshot())
			c.render()

		case fn := <-c.inbox:
			fn()
		}
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	cmd := func() { result <- fn() }

	select {
	case c.inbox <- cmd:
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn from a fetch goroutine. It gives up when the loop exits.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// SetMode switches between live and history. Switching to the current mode
// is a no-op.
func (c *Controller) SetMode(ctx context.Context, m Mode) error {
	if _, ok := ParseMode(string(m)); !ok {
		return fmt.Errorf("unknown mode %q", m)
	}
	return c.do(ctx, func() error {
		if m == c.mode {
			return nil
		}
		c.enterMode(m)
		c.render()
		return nil
	})
}

// LoadRange switches to history mode and loads r. The history and the
// window statistics are fetched asynchronously; the returned error only
// reports whether the command reached the loop. An invalid range leaves
// the scene showing no data.
func (c *Controller) LoadRange(ctx context.Context, r tags.TimeRange) error {
	return c.do(ctx, func() error {
		c.enterMode(ModeHistory)
		c.loadRange = r
		c.noData = true

		if !r.Valid() {
			c.status = StatusInvalidRange
			c.render()
			return nil
		}
		if err := c.clockPB.Load(r); err != nil {
			c.status = StatusInvalidRange
			c.render()
			return nil
		}

		c.loading = true
		c.status = StatusLoading
		c.requestHistory(r)
		c.requestStats(r)
		c.render()
		return nil
	})
}

// Play starts or resumes playback of the loaded range.
func (c *Controller) Play(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.requireLoaded(); err != nil {
			return err
		}
		c.clockPB.Play()
		if c.clockPB.State().Playing {
			c.lastFrame = c.clock.Now()
			c.frames.Start()
		}
		c.render()
		return nil
	})
}

// Pause stops playback at the current time.
func (c *Controller) Pause(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.requireLoaded(); err != nil {
			return err
		}
		c.clockPB.Pause()
		c.frames.Stop()
		c.render()
		return nil
	})
}

// Scrub moves playback to t, clamped into the range, and pauses.
func (c *Controller) Scrub(ctx context.Context, t int64) error {
	return c.do(ctx, func() error {
		if err := c.requireLoaded(); err != nil {
			return err
		}
		c.clockPB.Scrub(t)
		c.frames.Stop()
		c.render()
		return nil
	})
}

// SetSpeed changes the playback multiplier from the next frame on.
func (c *Controller) SetSpeed(ctx context.Context, m float64) error {
	return c.do(ctx, func() error {
		if err := c.clockPB.SetSpeed(m); err != nil {
			return err
		}
		c.render()
		return nil
	})
}

// RefreshBeacons refetches the beacon overlay.
func (c *Controller) RefreshBeacons(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.opts.Beacons == nil {
			return errors.New("no beacon source configured")
		}
		c.requestBeacons()
		return nil
	})
}

func (c *Controller) requireLoaded() error {
	if c.mode != ModeHistory {
		return fmt.Errorf("%w: not in history mode", ErrNoRange)
	}
	if c.projector == nil {
		return ErrNoRange
	}
	return nil
}

// enterMode starts a new generation: outstanding fetches are cancelled,
// frame ticks stop and history state is dropped.
func (c *Controller) enterMode(m Mode) {
	c.gen++
	c.cancelFetches()
	c.frames.Stop()
	c.projector = nil
	c.loading = false
	c.stats = nil
	c.mode = m

	switch m {
	case ModeLive:
		c.noData = false
		c.status = ""
		c.requestLiveStats()
	case ModeHistory:
		c.noData = true
		c.status = StatusSelectRange
	}
	logf("entered %s mode (generation %d)", m, c.gen)
}

func (c *Controller) applyEvent(ev tags.PositionEvent) {
	if c.reconciler.Apply(ev) == tracking.Discarded {
		return
	}
	if c.mode == ModeLive {
		c.render()
	}
}

func (c *Controller) setConnected(connected bool) {
	if c.reconciler.Connected() == connected {
		return
	}
	c.reconciler.SetConnected(connected)
	logf("feed connected=%v", connected)
	c.render()
}

func (c *Controller) applySettings(s settings.Settings) {
	c.cfg = s
	c.reconciler.SetStaleThreshold(s.StaleThresholdMs)
	c.reconciler.Sweep(timeutil.UnixMilli(c.clock))
	if c.projector != nil {
		c.projector.SetStaleThreshold(s.StaleThresholdMs)
	}
}

func (c *Controller) onFrame(tick timeutil.Tick) {
	if !c.frames.IsCurrent(tick) {
		return
	}
	elapsed := tick.At.Sub(c.lastFrame)
	c.lastFrame = tick.At
	if elapsed < 0 {
		elapsed = 0
	}
	c.clockPB.Advance(elapsed)
	if !c.clockPB.State().Playing {
		c.frames.Stop()
	}
	c.render()
}

// fetch runs fn on its own goroutine under a cancellable context and posts
// apply back to the loop. apply is skipped when the generation has moved
// on by the time the result arrives.
func (c *Controller) fetch(what string, fn func(ctx context.Context) func()) {
	if c.runCtx == nil {
		return
	}
	gen := c.gen
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(c.runCtx)
	c.fetches[id] = cancel

	go func() {
		apply := fn(ctx)
		c.post(func() {
			cancel()
			delete(c.fetches, id)
			if gen != c.gen {
				c.discarded.Add(1)
				logf("discarding %s from generation %d (now %d)", what, gen, c.gen)
				return
			}
			apply()
		})
	}()
}

func (c *Controller) cancelFetches() {
	for id, cancel := range c.fetches {
		cancel()
		delete(c.fetches, id)
	}
}

func (c *Controller) requestHistory(r tags.TimeRange) {
	if c.opts.History == nil {
		c.loading = false
		c.status = "history unavailable"
		return
	}
	c.fetch("history "+r.String(), func(ctx context.Context) func() {
		events, err := c.opts.History.FetchHistory(ctx, r)
		return func() { c.historyLoaded(r, events, err) }
	})
}

func (c *Controller) historyLoaded(r tags.TimeRange, events []tags.PositionEvent, err error) {
	c.loading = false
	if err != nil {
		logf("history %s failed: %v", r, err)
		c.noData = true
		c.status = "history unavailable: " + err.Error()
		c.render()
		return
	}

	l := playback.NewLog(r, events)
	c.projector = playback.NewProjector(l, c.cfg.StaleThresholdMs)
	c.noData = l.Empty()
	c.status = ""
	if c.noData {
		c.status = StatusNoData
	}
	logf("loaded %d events for %d tags in %s", l.Len(), len(l.EntityIDs()), r)
	c.render()
}

func (c *Controller) requestStats(r tags.TimeRange) {
	if c.opts.Stats == nil {
		return
	}
	c.statsSeq++
	seq := c.statsSeq
	c.fetch("stats "+r.String(), func(ctx context.Context) func() {
		w, err := c.opts.Stats.FetchStats(ctx, r)
		return func() {
			if err != nil {
				logf("stats %s failed: %v", r, err)
				return
			}
			// a slow older request must not replace a newer window
			if seq < c.statsShown {
				c.discarded.Add(1)
				logf("discarding stats %s: superseded", r)
				return
			}
			c.statsShown = seq
			c.stats = &w
			c.render()
		}
	})
}

func (c *Controller) requestLiveStats() {
	if c.mode != ModeLive {
		return
	}
	end := timeutil.UnixMilli(c.clock)
	c.requestStats(tags.TimeRange{Start: end - c.opts.LiveStatsWindow.Milliseconds(), End: end})
}

func (c *Controller) requestBeacons() {
	if c.opts.Beacons == nil || c.runCtx == nil {
		return
	}
	// Beacon results are independent of the generation.
	ctx, cancel := context.WithCancel(c.runCtx)
	go func() {
		defer cancel()
		beacons, err := c.opts.Beacons.FetchBeacons(ctx)
		c.post(func() {
			if err != nil {
				logf("beacons failed: %v", err)
				return
			}
			c.beacons = beacons
			c.render()
		})
	}()
}

// render builds and publishes a scene from the loop-owned state.
func (c *Controller) render() {
	s := &Scene{
		Mode:          c.mode,
		Connected:     c.reconciler.Connected(),
		View:          c.cfg.View,
		Beacons:       renderBeacons(c.cfg, c.beacons),
		Stats:         c.stats,
		Generation:    c.gen,
		GeneratedAtMs: timeutil.UnixMilli(c.clock),
		Entities:      []RenderedEntity{},
	}

	switch c.mode {
	case ModeLive:
		s.Status = StatusLive
		if !s.Connected {
			s.Status = StatusDisconnected
		}
		for _, st := range c.reconciler.Snapshot() {
			s.Entities = append(s.Entities, renderEntity(c.cfg, st.EntityID, st.Label, st.LastEvent, st.IsOffline))
		}

	case ModeHistory:
		s.NoData = c.noData
		s.Status = c.status
		if c.clockPB.Loaded() && c.loadRange.Valid() {
			st := c.clockPB.State()
			s.Playback = &st
		}
		if c.projector != nil {
			t := c.clockPB.State().CurrentMs
			for _, p := range c.projector.At(t) {
				s.Entities = append(s.Entities, renderEntity(c.cfg, p.Event.EntityID, p.Event.Label, p.Event, p.Offline))
			}
			if s.Status == "" {
				s.Status = playbackStatus(c.clockPB.State())
			}
		}
	}

	c.scene.Store(s)
	c.broadcast(s)
}

// publish stores an initial scene before Run starts.
func (c *Controller) publish() {
	s := &Scene{
		Mode:          c.mode,
		Status:        StatusDisconnected,
		View:          c.cfg.View,
		Entities:      []RenderedEntity{},
		Beacons:       []RenderedBeacon{},
		GeneratedAtMs: timeutil.UnixMilli(c.clock),
	}
	c.scene.Store(s)
}

func (c *Controller) broadcast(s *Scene) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func playbackStatus(st playback.State) string {
	switch {
	case st.Playing:
		return StatusPlaying
	case st.AtEnd():
		return StatusEnded
	default:
		return StatusPaused
	}
}
