package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/httputil"
	"github.com/banshee-data/tagtrack/internal/tags"
)

// beaconDeviceType is the uBeacon device type of fixed anchors.
const beaconDeviceType = 2

type ubeaconDevices struct {
	Data struct {
		Records []ubeaconDevice `json:"records"`
	} `json:"data"`
}

type ubeaconDevice struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	Coordinate struct {
		Coords []float64 `json:"coords"`
	} `json:"coordinate"`
}

// UBeaconClient lists anchors from the uBeacon service.
type UBeaconClient struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

// NewUBeaconClient returns a client for the uBeacon API at baseURL, for
// example http://localhost:8088.
func NewUBeaconClient(baseURL string, c httputil.HTTPClient) *UBeaconClient {
	if c == nil {
		c = httputil.NewStandardClient(nil)
	}
	return &UBeaconClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: c}
}

// FetchBeacons returns every anchor with at least two coordinates. Anchors
// without a position are skipped with a log line.
func (u *UBeaconClient) FetchBeacons(ctx context.Context) ([]tags.Beacon, error) {
	var resp ubeaconDevices
	url := fmt.Sprintf("%s/openapi/v1/devices?deviceType=%d", u.BaseURL, beaconDeviceType)
	if err := httputil.GetJSON(ctx, u.HTTP, url, &resp); err != nil {
		return nil, fmt.Errorf("fetch ubeacon devices: %w", err)
	}

	out := make([]tags.Beacon, 0, len(resp.Data.Records))
	for _, d := range resp.Data.Records {
		coords := d.Coordinate.Coords
		if len(coords) < 2 {
			logf("skipping beacon %q without coordinates", d.Name)
			continue
		}
		b := tags.Beacon{
			ID:         d.UID,
			Label:      d.Name,
			Coordinate: geometry.WorldPoint{X: coords[0], Y: coords[1]},
		}
		if b.ID == "" {
			b.ID = d.Name
		}
		if len(coords) > 2 {
			b.Z = coords[2]
		}
		out = append(out, b)
	}
	return out, nil
}
