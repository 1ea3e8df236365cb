package view

import (
	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/playback"
	"github.com/banshee-data/tagtrack/internal/settings"
	"github.com/banshee-data/tagtrack/internal/tags"
)

// Mode selects what the scene shows. The controller is in exactly one mode.
type Mode string

const (
	ModeLive    Mode = "live"
	ModeHistory Mode = "history"
)

// ParseMode accepts "live" or "history".
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeLive, ModeHistory:
		return Mode(s), true
	}
	return "", false
}

// RenderedEntity is one tag as drawn: X and Y are normalized display
// coordinates, WorldX and WorldY the reading in meters.
type RenderedEntity struct {
	EntityID   string  `json:"entity_id"`
	Label      string  `json:"label"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	WorldX     float64 `json:"world_x"`
	WorldY     float64 `json:"world_y"`
	LastSeenMs int64   `json:"last_seen_ms"`
	IsOffline  bool    `json:"is_offline"`
}

// RenderedBeacon is a reference point drawn under the entities.
type RenderedBeacon struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	WorldX float64 `json:"world_x"`
	WorldY float64 `json:"world_y"`
}

// Scene is an immutable snapshot of everything the display needs.
type Scene struct {
	Mode          Mode                `json:"mode"`
	Connected     bool                `json:"connected"`
	Status        string              `json:"status"`
	NoData        bool                `json:"no_data"`
	Entities      []RenderedEntity    `json:"entities"`
	Beacons       []RenderedBeacon    `json:"beacons"`
	View          geometry.ViewConfig `json:"view"`
	Playback      *playback.State     `json:"playback,omitempty"`
	Stats         *tags.StatsWindow   `json:"stats,omitempty"`
	Generation    uint64              `json:"generation"`
	GeneratedAtMs int64               `json:"generated_at_ms"`
}

// Entity returns the rendered entity with id.
func (s *Scene) Entity(id string) (RenderedEntity, bool) {
	for _, e := range s.Entities {
		if e.EntityID == id {
			return e, true
		}
	}
	return RenderedEntity{}, false
}

// renderEntity projects one reading under cfg. With ClampToView the point is
// clamped into the view rectangle before projection, so tags that wander off
// the plan stay pinned to its edge.
func renderEntity(cfg settings.Settings, id, label string, ev tags.PositionEvent, offline bool) RenderedEntity {
	p := ev.Position
	if cfg.ClampToView {
		p = geometry.ClampToView(p, cfg.View)
	}
	n := geometry.Project(p, cfg.View)
	return RenderedEntity{
		EntityID:   id,
		Label:      cfg.Label(id, label),
		X:          n.X,
		Y:          n.Y,
		WorldX:     ev.Position.X,
		WorldY:     ev.Position.Y,
		LastSeenMs: ev.TimestampMs,
		IsOffline:  offline,
	}
}

func renderBeacons(cfg settings.Settings, beacons []tags.Beacon) []RenderedBeacon {
	out := make([]RenderedBeacon, 0, len(beacons))
	for _, b := range beacons {
		p := b.Coordinate
		if cfg.ClampToView {
			p = geometry.ClampToView(p, cfg.View)
		}
		n := geometry.Project(p, cfg.View)
		label := b.Label
		if label == "" {
			label = b.ID
		}
		out = append(out, RenderedBeacon{
			ID:     b.ID,
			Label:  label,
			X:      n.X,
			Y:      n.Y,
			WorldX: b.Coordinate.X,
			WorldY: b.Coordinate.Y,
		})
	}
	return out
}
