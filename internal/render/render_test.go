package render

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagtrack/internal/playback"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/view"
)

func testScene() *view.Scene {
	return &view.Scene{
		Mode:   view.ModeHistory,
		Status: view.StatusPaused,
		Entities: []view.RenderedEntity{
			{EntityID: "A", Label: "Daisy", X: 0.25, Y: 0.75, WorldX: 8, WorldY: 32},
			{EntityID: "B", Label: "Bella", X: 0.5, Y: 0.5, IsOffline: true},
		},
		Beacons:  []view.RenderedBeacon{{ID: "n", Label: "North gate", X: 0.5, Y: 0}},
		Playback: &playback.State{CurrentMs: 1_700_000_000_000, RangeStart: 0, RangeEnd: 1_800_000_000_000, Speed: 1},
	}
}

func TestWriteSceneHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSceneHTML(&buf, testScene(), ChartOptions{AssetsHost: "/assets/"}))

	page := buf.String()
	assert.Contains(t, page, "/assets/echarts.min.js")
	assert.Contains(t, page, "Daisy (8.00, 32.00)")
	assert.Contains(t, page, "North gate")
	assert.Contains(t, page, "2023-11-14T22:13:20Z")
}

func TestSceneChart_SplitsOnlineAndOffline(t *testing.T) {
	c := SceneChart(testScene(), ChartOptions{})
	require.Len(t, c.MultiSeries, 3)

	assert.Equal(t, "online", c.MultiSeries[0].Name)
	assert.Equal(t, "offline", c.MultiSeries[1].Name)
	assert.Equal(t, "beacons", c.MultiSeries[2].Name)
}

func TestWriteStatsHTML(t *testing.T) {
	win := tags.StatsWindow{
		WindowStart: 0,
		WindowEnd:   3_600_000,
		PerEntity: map[string]tags.EntityStats{
			"B": {TotalDistanceMeters: 1609.344, MovingTimeMinutes: 90},
			"A": {Label: "Daisy", TotalDistanceMeters: 2000, MovingTimeMinutes: 30},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteStatsHTML(&buf, win, ChartOptions{DistanceUnits: "km", DurationUnits: "h"}))
	page := buf.String()
	assert.Contains(t, page, "distance (km)")
	assert.Contains(t, page, "moving (h)")
	assert.Contains(t, page, "Daisy")

	bar := StatsChart(win, ChartOptions{DistanceUnits: "furlong"})
	assert.Equal(t, "distance (m)", bar.MultiSeries[0].Name, "unknown units fall back to meters")
}

func TestWriteScenePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteScenePNG(&buf, testScene(), 0))
	require.Greater(t, buf.Len(), 8)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), buf.Bytes()[:8])
}

func TestWriteScenePNG_EmptyScene(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteScenePNG(&buf, &view.Scene{Mode: view.ModeLive}, 2*72))
	assert.NotZero(t, buf.Len())
}
