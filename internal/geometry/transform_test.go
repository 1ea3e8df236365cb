package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func TestProject_IdentityWithoutFlipOrRotation(t *testing.T) {
	cfg := ViewConfig{OriginX: -4, OriginY: 10, Extent: 48}

	for _, p := range []WorldPoint{
		{X: -4, Y: 10},
		{X: 44, Y: 58},
		{X: 20, Y: 34},
		{X: 0, Y: 0},
		{X: 100, Y: -20},
	} {
		got := Project(p, cfg)
		assert.InDelta(t, (p.X+4)/48, got.X, eps, "x for %+v", p)
		assert.InDelta(t, (p.Y-10)/48, got.Y, eps, "y for %+v", p)
	}
}

func TestProject_FlipXScenario(t *testing.T) {
	cfg := ViewConfig{OriginX: 0, OriginY: 0, Extent: 10, FlipX: true}

	got := Project(WorldPoint{X: 2, Y: 5}, cfg)

	assert.InDelta(t, 0.8, got.X, eps)
	assert.InDelta(t, 0.5, got.Y, eps)
}

func TestProject_Rotations(t *testing.T) {
	base := ViewConfig{OriginX: 0, OriginY: 0, Extent: 10}
	p := WorldPoint{X: 2, Y: 3} // normalized (0.2, 0.3)

	tests := []struct {
		rot  Rotation
		want NormPoint
	}{
		{Rotate0, NormPoint{X: 0.2, Y: 0.3}},
		{Rotate90, NormPoint{X: 0.3, Y: 0.8}},
		{Rotate180, NormPoint{X: 0.8, Y: 0.7}},
		{Rotate270, NormPoint{X: 0.7, Y: 0.2}},
	}
	for _, tt := range tests {
		cfg := base
		cfg.Rotation = tt.rot
		got := Project(p, cfg)
		assert.InDelta(t, tt.want.X, got.X, eps, "rotation %d x", tt.rot)
		assert.InDelta(t, tt.want.Y, got.Y, eps, "rotation %d y", tt.rot)
	}
}

func TestProject_FlipAppliedBeforeRotation(t *testing.T) {
	cfg := ViewConfig{Extent: 10, FlipY: true, Rotation: Rotate90}

	// normalize (0.2, 0.3) -> flipY (0.2, 0.7) -> rotate90 (0.7, 0.8)
	got := Project(WorldPoint{X: 2, Y: 3}, cfg)

	assert.InDelta(t, 0.7, got.X, eps)
	assert.InDelta(t, 0.8, got.Y, eps)
}

func TestProject_Rotate90FourTimesIsIdentity(t *testing.T) {
	unit := ViewConfig{Extent: 1, Rotation: Rotate90}

	for _, start := range []WorldPoint{{0.1, 0.9}, {0.5, 0.5}, {-0.3, 1.7}, {0, 0}} {
		p := start
		for i := 0; i < 4; i++ {
			n := Project(p, unit)
			p = WorldPoint{X: n.X, Y: n.Y}
		}
		assert.InDelta(t, start.X, p.X, eps)
		assert.InDelta(t, start.Y, p.Y, eps)
	}
}

func TestProject_OutsidePointsAreNotClamped(t *testing.T) {
	cfg := ViewConfig{Extent: 10}

	got := Project(WorldPoint{X: 25, Y: -5}, cfg)

	assert.InDelta(t, 2.5, got.X, eps)
	assert.InDelta(t, -0.5, got.Y, eps)
	assert.False(t, got.InView())
}

func TestProject_UnknownRotationActsAsZero(t *testing.T) {
	cfg := ViewConfig{Extent: 10, Rotation: Rotation(45)}

	got := Project(WorldPoint{X: 2, Y: 3}, cfg)

	assert.InDelta(t, 0.2, got.X, eps)
	assert.InDelta(t, 0.3, got.Y, eps)
}

func TestViewConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ViewConfig
		wantErr bool
	}{
		{"valid", ViewConfig{Extent: 1}, false},
		{"valid rotated", ViewConfig{Extent: 48, OriginX: -4, Rotation: Rotate270}, false},
		{"zero extent", ViewConfig{Extent: 0}, true},
		{"negative extent", ViewConfig{Extent: -3}, true},
		{"nan extent", ViewConfig{Extent: math.NaN()}, true},
		{"inf extent", ViewConfig{Extent: math.Inf(1)}, true},
		{"nan origin", ViewConfig{Extent: 1, OriginY: math.NaN()}, true},
		{"bad rotation", ViewConfig{Extent: 1, Rotation: 45}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidView))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRotation_NextAndParse(t *testing.T) {
	assert.Equal(t, Rotate90, Rotate0.Next())
	assert.Equal(t, Rotate0, Rotate270.Next())

	r := Rotate0
	for i := 0; i < 4; i++ {
		r = r.Next()
	}
	assert.Equal(t, Rotate0, r)

	got, err := ParseRotation(180)
	require.NoError(t, err)
	assert.Equal(t, Rotate180, got)

	_, err = ParseRotation(30)
	assert.ErrorIs(t, err, ErrInvalidView)
}

func TestNormPoint_ToSurface(t *testing.T) {
	left, bottom := NormPoint{X: 0.25, Y: 0.5}.ToSurface(800, 600)
	assert.InDelta(t, 200, left, eps)
	assert.InDelta(t, 300, bottom, eps)
}
