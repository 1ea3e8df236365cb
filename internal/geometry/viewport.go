package geometry

import "math"

const (
	// DefaultPadFraction is the margin kept around the map on every side.
	DefaultPadFraction = 0.1
	// DefaultFitMargin scales the furthest beacon when sizing the map.
	DefaultFitMargin = 1.2
)

// PaddedView returns a view showing [0, mapSize] on both axes with
// padFraction*mapSize of margin on each side. Orientation flags are left at
// their zero values for the caller to fill in.
func PaddedView(mapSize, padFraction float64) ViewConfig {
	pad := mapSize * padFraction
	return ViewConfig{
		OriginX: -pad,
		OriginY: -pad,
		Extent:  mapSize + 2*pad,
	}
}

// FitMapSize returns the map size needed to show every point, scaled by
// margin and rounded up to whole meters. It returns 0 when no point has a
// positive coordinate.
func FitMapSize(points []WorldPoint, margin float64) float64 {
	maxCoord := 0.0
	for _, p := range points {
		maxCoord = math.Max(maxCoord, math.Max(p.X, p.Y))
	}
	if maxCoord <= 0 {
		return 0
	}
	return math.Ceil(maxCoord * margin)
}

// ClampToView pins p inside the world rectangle described by cfg.
func ClampToView(p WorldPoint, cfg ViewConfig) WorldPoint {
	return WorldPoint{
		X: clamp(p.X, cfg.OriginX, cfg.OriginX+cfg.Extent),
		Y: clamp(p.Y, cfg.OriginY, cfg.OriginY+cfg.Extent),
	}
}

// ClampToMap pins p inside [0, mapSize] on both axes.
func ClampToMap(p WorldPoint, mapSize float64) WorldPoint {
	return WorldPoint{X: clamp(p.X, 0, mapSize), Y: clamp(p.Y, 0, mapSize)}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
