// Package remote implements the history, statistics and beacon
// collaborators over HTTP: against another tagtrack instance, and against
// the uBeacon positioning service for anchor coordinates.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/tagtrack/internal/httputil"
	"github.com/banshee-data/tagtrack/internal/monitoring"
	"github.com/banshee-data/tagtrack/internal/tags"
)

var logf = monitoring.Prefixed("remote")

// HistoryResponse is the body of GET /api/history.
type HistoryResponse struct {
	Range  tags.TimeRange       `json:"range"`
	Events []tags.PositionEvent `json:"events"`
}

// BeaconsResponse is the body of GET /api/beacons.
type BeaconsResponse struct {
	Beacons []tags.Beacon `json:"beacons"`
}

// Client reads history, statistics and beacons from another tagtrack API.
type Client struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

// NewClient returns a client for the API rooted at baseURL.
func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	if c == nil {
		c = httputil.NewStandardClient(nil)
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: c}
}

func (c *Client) rangeURL(path string, r tags.TimeRange) string {
	q := url.Values{}
	q.Set("start", strconv.FormatInt(r.Start, 10))
	q.Set("end", strconv.FormatInt(r.End, 10))
	return c.BaseURL + path + "?" + q.Encode()
}

// FetchHistory returns the ordered events recorded in r.
func (c *Client) FetchHistory(ctx context.Context, r tags.TimeRange) ([]tags.PositionEvent, error) {
	var resp HistoryResponse
	if err := httputil.GetJSON(ctx, c.HTTP, c.rangeURL("/api/history", r), &resp); err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", r, err)
	}
	return resp.Events, nil
}

// FetchStats returns the statistics window for r.
func (c *Client) FetchStats(ctx context.Context, r tags.TimeRange) (tags.StatsWindow, error) {
	var w tags.StatsWindow
	if err := httputil.GetJSON(ctx, c.HTTP, c.rangeURL("/api/stats", r), &w); err != nil {
		return tags.StatsWindow{}, fmt.Errorf("fetch stats %s: %w", r, err)
	}
	if w.PerEntity == nil {
		w.PerEntity = map[string]tags.EntityStats{}
	}
	return w, nil
}

// FetchBeacons returns the beacons configured on the remote instance.
func (c *Client) FetchBeacons(ctx context.Context) ([]tags.Beacon, error) {
	var resp BeaconsResponse
	if err := httputil.GetJSON(ctx, c.HTTP, c.BaseURL+"/api/beacons", &resp); err != nil {
		return nil, fmt.Errorf("fetch beacons: %w", err)
	}
	return resp.Beacons, nil
}
