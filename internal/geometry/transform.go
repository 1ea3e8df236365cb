// Package geometry maps sensor-frame world coordinates onto the normalized
// plan view used by every renderer.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidView is returned when a ViewConfig cannot describe a viewport.
var ErrInvalidView = errors.New("invalid view config")

// WorldPoint is a position in the sensor's native frame, in meters.
type WorldPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NormPoint is a fraction-of-viewport position. Values inside [0,1] are on
// screen; anything else is legal and simply off-screen.
type NormPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rotation is a quarter-turn applied after flipping.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// ParseRotation accepts degrees in {0,90,180,270}.
func ParseRotation(deg int) (Rotation, error) {
	r := Rotation(deg)
	if !r.Valid() {
		return Rotate0, fmt.Errorf("%w: rotation must be one of 0, 90, 180, 270, got %d", ErrInvalidView, deg)
	}
	return r, nil
}

// Valid reports whether r is one of the four supported quarter-turns.
func (r Rotation) Valid() bool {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	}
	return false
}

// Next returns the rotation a further 90 degrees on, wrapping at 360.
func (r Rotation) Next() Rotation {
	return Rotation((int(r) + 90) % 360)
}

// ViewConfig maps the square [OriginX, OriginX+Extent] x [OriginY, OriginY+Extent]
// onto the unit square, then flips, then rotates.
type ViewConfig struct {
	OriginX  float64  `json:"origin_x"`
	OriginY  float64  `json:"origin_y"`
	Extent   float64  `json:"extent"`
	FlipX    bool     `json:"flip_x"`
	FlipY    bool     `json:"flip_y"`
	Rotation Rotation `json:"rotation"`
}

// Validate checks the extent and rotation invariants.
func (c ViewConfig) Validate() error {
	if !(c.Extent > 0) || math.IsInf(c.Extent, 0) {
		return fmt.Errorf("%w: extent must be > 0, got %v", ErrInvalidView, c.Extent)
	}
	if math.IsNaN(c.OriginX) || math.IsNaN(c.OriginY) {
		return fmt.Errorf("%w: origin must be a number", ErrInvalidView)
	}
	if !c.Rotation.Valid() {
		return fmt.Errorf("%w: unsupported rotation %d", ErrInvalidView, c.Rotation)
	}
	return nil
}

// Project converts a world point into normalized display coordinates.
//
// The order normalize, flip, rotate is fixed; stored configurations depend on
// it. Points outside the configured rectangle are not clamped.
func Project(p WorldPoint, cfg ViewConfig) NormPoint {
	nx := (p.X - cfg.OriginX) / cfg.Extent
	ny := (p.Y - cfg.OriginY) / cfg.Extent

	if cfg.FlipX {
		nx = 1 - nx
	}
	if cfg.FlipY {
		ny = 1 - ny
	}

	switch cfg.Rotation {
	case Rotate90:
		return NormPoint{X: ny, Y: 1 - nx}
	case Rotate180:
		return NormPoint{X: 1 - nx, Y: 1 - ny}
	case Rotate270:
		return NormPoint{X: 1 - ny, Y: nx}
	default:
		return NormPoint{X: nx, Y: ny}
	}
}

// InView reports whether n falls within the unit square.
func (n NormPoint) InView() bool {
	return n.X >= 0 && n.X <= 1 && n.Y >= 0 && n.Y <= 1
}

// ToSurface scales n onto a width x height surface whose origin is the
// bottom-left corner, returning the left and bottom offsets.
func (n NormPoint) ToSurface(width, height float64) (left, bottom float64) {
	return n.X * width, n.Y * height
}
