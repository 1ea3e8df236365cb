package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaddedView(t *testing.T) {
	cfg := PaddedView(40, DefaultPadFraction)

	assert.InDelta(t, -4, cfg.OriginX, eps)
	assert.InDelta(t, -4, cfg.OriginY, eps)
	assert.InDelta(t, 48, cfg.Extent, eps)
	assert.NoError(t, cfg.Validate())

	// Map corners land inside the padded square.
	lo := Project(WorldPoint{0, 0}, cfg)
	hi := Project(WorldPoint{40, 40}, cfg)
	assert.InDelta(t, 4.0/48, lo.X, eps)
	assert.InDelta(t, 44.0/48, hi.Y, eps)
}

func TestFitMapSize(t *testing.T) {
	tests := []struct {
		name   string
		points []WorldPoint
		want   float64
	}{
		{"empty", nil, 0},
		{"all negative", []WorldPoint{{-1, -2}}, 0},
		{"rounds up", []WorldPoint{{10, 3}, {4, 21.5}}, 26},
		{"exact", []WorldPoint{{25, 0}}, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, FitMapSize(tt.points, DefaultFitMargin), eps)
		})
	}
}

func TestClampToView(t *testing.T) {
	cfg := ViewConfig{OriginX: -4, OriginY: -4, Extent: 48}

	assert.Equal(t, WorldPoint{X: 44, Y: -4}, ClampToView(WorldPoint{X: 60, Y: -10}, cfg))
	assert.Equal(t, WorldPoint{X: 3, Y: 7}, ClampToView(WorldPoint{X: 3, Y: 7}, cfg))

	n := Project(ClampToView(WorldPoint{X: 1000, Y: 1000}, cfg), cfg)
	assert.True(t, n.InView())
}

func TestClampToMap(t *testing.T) {
	assert.Equal(t, WorldPoint{X: 0, Y: 40}, ClampToMap(WorldPoint{X: -2, Y: 41}, 40))
}
