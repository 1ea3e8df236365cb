// Package render draws scenes and statistics for the debug pages: echarts
// HTML for interactive inspection and PNG snapshots for reports.
package render

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/units"
	"github.com/banshee-data/tagtrack/internal/view"
)

// DefaultAssetsHost serves the echarts script. Deployments without internet
// access point this at a local copy.
const DefaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// ChartOptions tunes the HTML pages. Zero values pick defaults.
type ChartOptions struct {
	AssetsHost    string
	DistanceUnits string
	DurationUnits string
}

func (o ChartOptions) assets() string {
	if o.AssetsHost == "" {
		return DefaultAssetsHost
	}
	return o.AssetsHost
}

// SceneChart builds a scatter chart of s in display space. The display Y
// axis points down, so points are plotted at 1-Y to read like the plan.
func SceneChart(s *view.Scene, o ChartOptions) *charts.Scatter {
	var online, offline, beacons []opts.ScatterData
	for _, e := range s.Entities {
		d := opts.ScatterData{
			Name:  fmt.Sprintf("%s (%.2f, %.2f)", e.Label, e.WorldX, e.WorldY),
			Value: []interface{}{e.X, 1 - e.Y},
		}
		if e.IsOffline {
			offline = append(offline, d)
		} else {
			online = append(online, d)
		}
	}
	for _, b := range s.Beacons {
		beacons = append(beacons, opts.ScatterData{
			Name:   b.Label,
			Value:  []interface{}{b.X, 1 - b.Y},
			Symbol: "triangle",
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "tagtrack scene", Width: "800px", Height: "800px", AssetsHost: o.assets()}),
		charts.WithTitleOpts(opts.Title{Title: sceneTitle(s), Subtitle: s.Status}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: 1, Name: "x"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "y"}),
	)
	scatter.AddSeries("online", online, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	scatter.AddSeries("offline", offline, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	scatter.AddSeries("beacons", beacons, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

// WriteSceneHTML renders SceneChart as a standalone page.
func WriteSceneHTML(w io.Writer, s *view.Scene, o ChartOptions) error {
	if err := SceneChart(s, o).Render(w); err != nil {
		return fmt.Errorf("render scene chart: %w", err)
	}
	return nil
}

// StatsChart builds a bar chart with distance and moving time per tag,
// converted to the requested units.
func StatsChart(win tags.StatsWindow, o ChartOptions) *charts.Bar {
	distUnits, durUnits := o.DistanceUnits, o.DurationUnits
	if !units.IsValidDistance(distUnits) {
		distUnits = units.Meters
	}
	if !units.IsValidDuration(durUnits) {
		durUnits = units.Minutes
	}

	ids := make([]string, 0, len(win.PerEntity))
	for id := range win.PerEntity {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	names := make([]string, 0, len(ids))
	dist := make([]opts.BarData, 0, len(ids))
	moving := make([]opts.BarData, 0, len(ids))
	for _, id := range ids {
		st := win.PerEntity[id]
		name := st.Label
		if name == "" {
			name = id
		}
		names = append(names, name)
		dist = append(dist, opts.BarData{Value: units.ConvertDistance(st.TotalDistanceMeters, distUnits)})
		moving = append(moving, opts.BarData{Value: units.ConvertDuration(st.MovingTimeMinutes, durUnits)})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "tagtrack stats", Width: "100%", Height: "480px", AssetsHost: o.assets()}),
		charts.WithTitleOpts(opts.Title{Title: "Distance and moving time", Subtitle: windowLabel(win)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
	)
	bar.SetXAxis(names).
		AddSeries("distance ("+distUnits+")", dist).
		AddSeries("moving ("+durUnits+")", moving)
	return bar
}

// WriteStatsHTML renders StatsChart as a standalone page.
func WriteStatsHTML(w io.Writer, win tags.StatsWindow, o ChartOptions) error {
	if err := StatsChart(win, o).Render(w); err != nil {
		return fmt.Errorf("render stats chart: %w", err)
	}
	return nil
}

func sceneTitle(s *view.Scene) string {
	if s.Playback != nil {
		return fmt.Sprintf("%s %s", s.Mode, time.UnixMilli(s.Playback.CurrentMs).UTC().Format(time.RFC3339))
	}
	return string(s.Mode)
}

func windowLabel(win tags.StatsWindow) string {
	return fmt.Sprintf("%s to %s",
		time.UnixMilli(win.WindowStart).UTC().Format(time.RFC3339),
		time.UnixMilli(win.WindowEnd).UTC().Format(time.RFC3339))
}
