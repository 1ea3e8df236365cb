package render

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/tagtrack/internal/view"
)

// DefaultPNGSize is the edge length of scene snapshots.
const DefaultPNGSize = 6 * vg.Inch

var (
	onlineColor  = color.RGBA{R: 0x1f, G: 0x9e, B: 0x89, A: 0xff}
	offlineColor = color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff}
	beaconColor  = color.RGBA{R: 0xd9, G: 0x53, B: 0x4f, A: 0xff}
)

// ScenePlot lays s out on the unit square with labelled entities.
func ScenePlot(s *view.Scene) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = sceneTitle(s)
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	var online, offline plotter.XYs
	var onlineNames, offlineNames []string
	for _, e := range s.Entities {
		pt := plotter.XY{X: e.X, Y: 1 - e.Y}
		if e.IsOffline {
			offline = append(offline, pt)
			offlineNames = append(offlineNames, e.Label)
		} else {
			online = append(online, pt)
			onlineNames = append(onlineNames, e.Label)
		}
	}
	var beacons plotter.XYs
	var beaconNames []string
	for _, b := range s.Beacons {
		beacons = append(beacons, plotter.XY{X: b.X, Y: 1 - b.Y})
		beaconNames = append(beaconNames, b.Label)
	}

	layers := []struct {
		name   string
		pts    plotter.XYs
		labels []string
		color  color.Color
		glyph  draw.GlyphDrawer
	}{
		{"beacons", beacons, beaconNames, beaconColor, draw.TriangleGlyph{}},
		{"offline", offline, offlineNames, offlineColor, draw.RingGlyph{}},
		{"online", online, onlineNames, onlineColor, draw.CircleGlyph{}},
	}
	for _, l := range layers {
		if len(l.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(l.pts)
		if err != nil {
			return nil, fmt.Errorf("%s scatter: %w", l.name, err)
		}
		sc.GlyphStyle.Color = l.color
		sc.GlyphStyle.Shape = l.glyph
		sc.GlyphStyle.Radius = vg.Points(4)

		lb, err := plotter.NewLabels(plotter.XYLabels{XYs: l.pts, Labels: l.labels})
		if err != nil {
			return nil, fmt.Errorf("%s labels: %w", l.name, err)
		}
		for i := range lb.TextStyle {
			lb.TextStyle[i].Color = l.color
		}
		lb.Offset = vg.Point{X: vg.Points(6), Y: vg.Points(2)}

		p.Add(sc, lb)
		p.Legend.Add(l.name, sc)
	}
	p.Legend.Top = true
	return p, nil
}

// WriteScenePNG renders ScenePlot as a square PNG of the given size.
func WriteScenePNG(w io.Writer, s *view.Scene, size vg.Length) error {
	if size <= 0 {
		size = DefaultPNGSize
	}
	p, err := ScenePlot(s)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return fmt.Errorf("scene png: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write scene png: %w", err)
	}
	return nil
}
