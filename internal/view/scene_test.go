package view

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/settings"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/testutil"
)

func TestRenderEntity(t *testing.T) {
	cfg := settings.Settings{
		View:  geometry.ViewConfig{OriginX: -4, OriginY: -4, Extent: 48, FlipX: true, FlipY: true},
		Names: map[string]string{"A": "Daisy"},
	}

	tests := []struct {
		name   string
		clamp  bool
		ev     tags.PositionEvent
		wantX  float64
		wantY  float64
		wantNm string
	}{
		{"named", false, testutil.Event("A", 20, 20, 1), 0.5, 0.5, "Daisy"},
		{"origin corner", false, testutil.Event("B", -4, -4, 1), 1, 1, "tag B"},
		{"off plan unclamped", false, testutil.Event("B", 92, -4, 1), -1, 1, "tag B"},
		{"off plan clamped", true, testutil.Event("B", 92, -4, 1), 0, 1, "tag B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			c.ClampToView = tt.clamp
			got := renderEntity(c, tt.ev.EntityID, tt.ev.Label, tt.ev, true)
			assert.InDelta(t, tt.wantX, got.X, 1e-9)
			assert.InDelta(t, tt.wantY, got.Y, 1e-9)
			assert.Equal(t, tt.wantNm, got.Label)
			assert.Equal(t, tt.ev.Position.X, got.WorldX)
			assert.True(t, got.IsOffline)
		})
	}
}

func TestRenderBeacons_LabelFallsBackToID(t *testing.T) {
	cfg := settings.Settings{View: geometry.ViewConfig{Extent: 10}}
	got := renderBeacons(cfg, []tags.Beacon{{ID: "b1", Coordinate: geometry.WorldPoint{X: 10}}})
	assert.Equal(t, []RenderedBeacon{{ID: "b1", Label: "b1", X: 1, WorldX: 10}}, got)
	assert.NotNil(t, renderBeacons(cfg, nil))
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("history")
	assert.True(t, ok)
	assert.Equal(t, ModeHistory, m)
	_, ok = ParseMode("LIVE")
	assert.False(t, ok)
}
