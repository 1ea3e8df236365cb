// Package settings is the shared configuration store: the view transform,
// the offline threshold and the tag name mapping. Components receive the
// store explicitly and subscribe to changes instead of reading globals.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/tagtrack/internal/geometry"
)

// Setting keys accepted by Set.
const (
	KeyOriginX          = "view.origin_x"
	KeyOriginY          = "view.origin_y"
	KeyExtent           = "view.extent"
	KeyFlipX            = "view.flip_x"
	KeyFlipY            = "view.flip_y"
	KeyRotation         = "view.rotation"
	KeyStaleThresholdMs = "stale_threshold_ms"
	KeyClampToView      = "clamp_to_view"

	// KeyView and KeyNames identify changes made through SetView and the
	// name methods.
	KeyView  = "view"
	KeyNames = "names"
)

// Keys lists the settings accepted by Set, sorted.
var Keys = []string{
	KeyClampToView,
	KeyStaleThresholdMs,
	KeyExtent,
	KeyFlipX,
	KeyFlipY,
	KeyOriginX,
	KeyOriginY,
	KeyRotation,
}

var (
	ErrUnknownSetting = errors.New("settings: unknown setting")
	ErrInvalidValue   = errors.New("settings: invalid value")
)

// Settings is a snapshot of the store.
type Settings struct {
	View             geometry.ViewConfig `json:"view"`
	StaleThresholdMs int64               `json:"stale_threshold_ms"`
	ClampToView      bool                `json:"clamp_to_view"`
	Names            map[string]string   `json:"names"`
}

// Label returns the display name for id: the mapped name when there is one,
// else fallback, else the id itself.
func (s Settings) Label(id, fallback string) string {
	if n := s.Names[id]; n != "" {
		return n
	}
	if fallback != "" {
		return fallback
	}
	return id
}

// Change is broadcast to subscribers after every successful update.
// Subscribers that fall behind only see the latest one.
type Change struct {
	Key      string
	Settings Settings
}

// Persister stores settings durably. A nil Persister keeps the store in
// memory only.
type Persister interface {
	SaveSetting(ctx context.Context, key, value string) error
	// SaveSettings stores all of values or none of them.
	SaveSettings(ctx context.Context, values map[string]string) error
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveName(ctx context.Context, uid, name string) error
	DeleteName(ctx context.Context, uid string) error
	LoadNames(ctx context.Context) (map[string]string, error)
}

// Store holds the current settings and fans changes out to subscribers.
type Store struct {
	mu        sync.RWMutex
	cur       Settings
	persister Persister
	subs      map[string]chan Change
}

// NewStore creates a store seeded with initial. The view must be valid.
func NewStore(initial Settings, p Persister) (*Store, error) {
	if err := initial.View.Validate(); err != nil {
		return nil, err
	}
	names := make(map[string]string, len(initial.Names))
	for k, v := range initial.Names {
		names[k] = v
	}
	initial.Names = names
	return &Store{cur: initial, persister: p, subs: make(map[string]chan Change)}, nil
}

// Restore overlays values saved by the persister on the current settings.
// Saved values that no longer validate are skipped with a log line.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	saved, err := s.persister.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	names, err := s.persister.LoadNames(ctx)
	if err != nil {
		return fmt.Errorf("load names: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(saved))
	for k := range saved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		next, err := apply(s.cur, k, saved[k])
		if err != nil {
			log.Printf("[settings] skipping saved %s=%q: %v", k, saved[k], err)
			continue
		}
		s.cur = next
	}
	for uid, name := range names {
		s.cur.Names[uid] = name
	}
	return nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

// Label resolves the display name for id.
func (s *Store) Label(id, fallback string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Label(id, fallback)
}

// Set validates, persists and applies one named setting.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	next, err := apply(s.cur, key, value)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.persister != nil {
		if err := s.persister.SaveSetting(ctx, key, value); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("persist %s: %w", key, err)
		}
	}
	s.cur = next
	s.broadcastLocked(key)
	s.mu.Unlock()
	return nil
}

// SetView replaces the whole view transform in one change.
func (s *Store) SetView(ctx context.Context, v geometry.ViewConfig) error {
	if err := v.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persister != nil {
		if err := s.persister.SaveSettings(ctx, viewValues(v)); err != nil {
			return fmt.Errorf("persist view: %w", err)
		}
	}
	s.cur.View = v
	s.broadcastLocked(KeyView)
	return nil
}

// SetName maps a tag uid to a display name.
func (s *Store) SetName(ctx context.Context, uid, name string) error {
	if uid == "" || name == "" {
		return fmt.Errorf("%w: uid and name are required", ErrInvalidValue)
	}

	s.mu.Lock()
	if s.persister != nil {
		if err := s.persister.SaveName(ctx, uid, name); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("persist name %s: %w", uid, err)
		}
	}
	s.cur.Names[uid] = name
	s.broadcastLocked(KeyNames)
	s.mu.Unlock()
	return nil
}

// DeleteName removes the mapping for uid. Removing an unknown uid is not an
// error.
func (s *Store) DeleteName(ctx context.Context, uid string) error {
	s.mu.Lock()
	if _, ok := s.cur.Names[uid]; !ok {
		s.mu.Unlock()
		return nil
	}
	if s.persister != nil {
		if err := s.persister.DeleteName(ctx, uid); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("delete name %s: %w", uid, err)
		}
	}
	delete(s.cur.Names, uid)
	s.broadcastLocked(KeyNames)
	s.mu.Unlock()
	return nil
}

// Subscribe registers for change notifications. The channel holds one
// pending change; a newer change replaces an unread one, so a slow
// subscriber never blocks the writer and always ends on the latest state.
func (s *Store) Subscribe() (string, <-chan Change) {
	id := uuid.NewString()
	ch := make(chan Change, 1)

	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (s *Store) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// broadcastLocked delivers the current settings to every subscriber. The
// caller holds the write lock, so changes are delivered in commit order and
// the drain below cannot race another sender.
func (s *Store) broadcastLocked(key string) {
	c := Change{Key: key, Settings: s.cur.clone()}
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- c:
		default:
		}
	}
}

func (s Settings) clone() Settings {
	names := make(map[string]string, len(s.Names))
	for k, v := range s.Names {
		names[k] = v
	}
	s.Names = names
	return s
}

// apply returns cur with key set to the parsed value.
func apply(cur Settings, key, value string) (Settings, error) {
	next := cur
	switch key {
	case KeyOriginX, KeyOriginY, KeyExtent:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return cur, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidValue, key, value)
		}
		switch key {
		case KeyOriginX:
			next.View.OriginX = f
		case KeyOriginY:
			next.View.OriginY = f
		default:
			next.View.Extent = f
		}
	case KeyFlipX, KeyFlipY, KeyClampToView:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return cur, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidValue, key, value)
		}
		switch key {
		case KeyFlipX:
			next.View.FlipX = b
		case KeyFlipY:
			next.View.FlipY = b
		default:
			next.ClampToView = b
		}
	case KeyRotation:
		deg, err := strconv.Atoi(value)
		if err != nil {
			return cur, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidValue, key, value)
		}
		r, err := geometry.ParseRotation(deg)
		if err != nil {
			return cur, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		next.View.Rotation = r
	case KeyStaleThresholdMs:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ms <= 0 {
			return cur, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidValue, key, value)
		}
		next.StaleThresholdMs = ms
	default:
		return cur, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}

	if err := next.View.Validate(); err != nil {
		return cur, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return next, nil
}

// viewValues encodes v as the individual view settings.
func viewValues(v geometry.ViewConfig) map[string]string {
	return map[string]string{
		KeyOriginX:  strconv.FormatFloat(v.OriginX, 'g', -1, 64),
		KeyOriginY:  strconv.FormatFloat(v.OriginY, 'g', -1, 64),
		KeyExtent:   strconv.FormatFloat(v.Extent, 'g', -1, 64),
		KeyFlipX:    strconv.FormatBool(v.FlipX),
		KeyFlipY:    strconv.FormatBool(v.FlipY),
		KeyRotation: strconv.Itoa(int(v.Rotation)),
	}
}
