package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tagtrack/internal/db"
	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/httputil"
	"github.com/banshee-data/tagtrack/internal/playback"
	"github.com/banshee-data/tagtrack/internal/remote"
	"github.com/banshee-data/tagtrack/internal/render"
	"github.com/banshee-data/tagtrack/internal/settings"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/units"
	"github.com/banshee-data/tagtrack/internal/version"
	"github.com/banshee-data/tagtrack/internal/view"
)

// maxBody caps request bodies for the command endpoints.
const maxBody = 1 << 16

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) scene(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.ctrl.Scene())
}

func (s *Server) sceneHTML(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := render.WriteSceneHTML(&buf, s.ctrl.Scene(), s.charts); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) scenePNG(w http.ResponseWriter, r *http.Request) {
	size := render.DefaultPNGSize
	if v := r.URL.Query().Get("size"); v != "" {
		px, err := strconv.Atoi(v)
		if err != nil || px < 64 || px > 4096 {
			httputil.BadRequest(w, "size must be between 64 and 4096 pixels")
			return
		}
		// vg lengths are points; PNG output is 96 dpi.
		size = vg.Length(px) * vg.Inch / 96
	}

	var buf bytes.Buffer
	if err := render.WriteScenePNG(&buf, s.ctrl.Scene(), size); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteBody(w, "image/png", buf.Bytes())
}

// parseRange reads start and end query parameters. When both are absent
// and fallback is set, the window ending now is used.
func (s *Server) parseRange(r *http.Request, fallback bool) (tags.TimeRange, error) {
	q := r.URL.Query()
	startStr, endStr := q.Get("start"), q.Get("end")
	if startStr == "" && endStr == "" && fallback {
		end := s.now().UnixMilli()
		return tags.TimeRange{Start: end - s.DefaultStatsWindow.Milliseconds(), End: end}, nil
	}
	start, err1 := strconv.ParseInt(startStr, 10, 64)
	end, err2 := strconv.ParseInt(endStr, 10, 64)
	if err1 != nil || err2 != nil {
		return tags.TimeRange{}, ErrBadRange
	}
	tr := tags.TimeRange{Start: start, End: end}
	if !tr.Valid() {
		return tags.TimeRange{}, ErrBadRange
	}
	return tr, nil
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	tr, err := s.parseRange(r, false)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	events, err := s.db.HistoryRange(r.Context(), tr)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load history: %v", err))
		return
	}
	if events == nil {
		events = []tags.PositionEvent{}
	}
	httputil.WriteJSONOK(w, remote.HistoryResponse{Range: tr, Events: events})
}

// ConvertedStats is one tag's statistics in the requested units.
type ConvertedStats struct {
	Label      string  `json:"label,omitempty"`
	Distance   float64 `json:"distance"`
	MovingTime float64 `json:"moving_time"`
}

// StatsResponse is the body of GET /api/stats. The embedded window keeps
// the canonical meters and minutes; Converted repeats them in the
// requested units.
type StatsResponse struct {
	tags.StatsWindow
	DistanceUnits string                    `json:"distance_units"`
	DurationUnits string                    `json:"duration_units"`
	Converted     map[string]ConvertedStats `json:"converted"`
}

func (s *Server) loadStats(w http.ResponseWriter, r *http.Request) (tags.StatsWindow, bool) {
	tr, err := s.parseRange(r, true)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return tags.StatsWindow{}, false
	}
	win, err := s.db.FetchStats(r.Context(), tr)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to compute stats: %v", err))
		return tags.StatsWindow{}, false
	}
	return win, true
}

func (s *Server) chartUnits(w http.ResponseWriter, r *http.Request) (render.ChartOptions, bool) {
	o := s.charts
	if o.DistanceUnits == "" {
		o.DistanceUnits = units.Meters
	}
	if o.DurationUnits == "" {
		o.DurationUnits = units.Minutes
	}
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValidDistance(u) {
			httputil.BadRequest(w, "units must be one of "+units.GetValidDistanceUnitsString())
			return o, false
		}
		o.DistanceUnits = u
	}
	if u := r.URL.Query().Get("duration_units"); u != "" {
		if !units.IsValidDuration(u) {
			httputil.BadRequest(w, "duration_units must be one of "+units.GetValidDurationUnitsString())
			return o, false
		}
		o.DurationUnits = u
	}
	return o, true
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	o, ok := s.chartUnits(w, r)
	if !ok {
		return
	}
	win, ok := s.loadStats(w, r)
	if !ok {
		return
	}

	resp := StatsResponse{
		StatsWindow:   win,
		DistanceUnits: o.DistanceUnits,
		DurationUnits: o.DurationUnits,
		Converted:     make(map[string]ConvertedStats, len(win.PerEntity)),
	}
	for id, st := range win.PerEntity {
		resp.Converted[id] = ConvertedStats{
			Label:      st.Label,
			Distance:   units.ConvertDistance(st.TotalDistanceMeters, o.DistanceUnits),
			MovingTime: units.ConvertDuration(st.MovingTimeMinutes, o.DurationUnits),
		}
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) statsHTML(w http.ResponseWriter, r *http.Request) {
	o, ok := s.chartUnits(w, r)
	if !ok {
		return
	}
	win, ok := s.loadStats(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render.WriteStatsHTML(&buf, win, o); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) beacons(w http.ResponseWriter, r *http.Request) {
	bs, err := s.db.Beacons(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load beacons: %v", err))
		return
	}
	if bs == nil {
		bs = []tags.Beacon{}
	}
	httputil.WriteJSONOK(w, remote.BeaconsResponse{Beacons: bs})
}

// refreshBeacons makes the view refetch the overlay, for example after
// fetch-beacons replaced the stored set.
func (s *Server) refreshBeacons(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.ctrl.RefreshBeacons(r.Context()))
}

// fitBeacons sizes the view so every beacon is visible, keeping the
// current orientation.
func (s *Server) fitBeacons(w http.ResponseWriter, r *http.Request) {
	bs, err := s.db.Beacons(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load beacons: %v", err))
		return
	}
	points := make([]geometry.WorldPoint, len(bs))
	for i, b := range bs {
		points[i] = b.Coordinate
	}
	size := geometry.FitMapSize(points, geometry.DefaultFitMargin)
	if size <= 0 {
		httputil.WriteJSONError(w, http.StatusConflict, "no beacons with positive coordinates to fit")
		return
	}

	cur := s.settings.Snapshot().View
	v := geometry.PaddedView(size, geometry.DefaultPadFraction)
	v.FlipX, v.FlipY, v.Rotation = cur.FlipX, cur.FlipY, cur.Rotation
	if err := s.settings.SetView(r.Context(), v); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"map_size": size, "view": v})
}

// HistoryBoundsResponse is the recorded time span. Start and End are zero
// when Empty is set.
type HistoryBoundsResponse struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Empty bool  `json:"empty"`
}

func (s *Server) historyBounds(w http.ResponseWriter, r *http.Request) {
	b, ok, err := s.db.HistoryBounds(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read history bounds: %v", err))
		return
	}
	httputil.WriteJSONOK(w, HistoryBoundsResponse{Start: b.Start, End: b.End, Empty: !ok})
}

// tagStates lists the last stored position of every tag with its
// hibernation flag.
func (s *Server) tagStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.db.TagStates(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load tag states: %v", err))
		return
	}
	if states == nil {
		states = []db.TagState{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"tags": states})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.settings.Snapshot())
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if key == settings.KeyView {
		var v geometry.ViewConfig
		if !decodeBody(w, r, &v) {
			return
		}
		if err := s.settings.SetView(r.Context(), v); err != nil {
			s.settingsError(w, err)
			return
		}
		httputil.WriteJSONOK(w, s.settings.Snapshot())
		return
	}

	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	value, err := settingValue(body.Value)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.settings.Set(r.Context(), key, value); err != nil {
		s.settingsError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.settings.Snapshot())
}

// settingValue accepts a JSON string, number or boolean.
func settingValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("value is required")
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("invalid value: %w", err)
	}
	switch v.(type) {
	case float64, bool:
		return string(raw), nil
	}
	return "", errors.New("value must be a string, number or boolean")
}

func (s *Server) settingsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settings.ErrUnknownSetting):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, settings.ErrInvalidValue), errors.Is(err, geometry.ErrInvalidView):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) names(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.settings.Snapshot().Names)
}

func (s *Server) putName(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	var body struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.settings.SetName(r.Context(), uid, body.Name); err != nil {
		s.settingsError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"uid": uid, "name": body.Name})
}

func (s *Server) deleteName(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.DeleteName(r.Context(), mux.Vars(r)["uid"]); err != nil {
		s.settingsError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	m, ok := view.ParseMode(body.Mode)
	if !ok {
		httputil.BadRequest(w, `mode must be "live" or "history"`)
		return
	}
	s.command(w, s.ctrl.SetMode(r.Context(), m))
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	// an invalid range is accepted; the scene reports it
	s.command(w, s.ctrl.LoadRange(r.Context(), tags.TimeRange{Start: body.Start, End: body.End}))
}

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.ctrl.Play(r.Context()))
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.ctrl.Pause(r.Context()))
}

func (s *Server) seek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		T *int64 `json:"t"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.T == nil {
		httputil.BadRequest(w, "t is required")
		return
	}
	s.command(w, s.ctrl.Scrub(r.Context(), *body.T))
}

func (s *Server) speed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Speed float64 `json:"speed"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.command(w, s.ctrl.SetSpeed(r.Context(), body.Speed))
}

// command answers with the resulting scene or maps the controller error.
func (s *Server) command(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		httputil.WriteJSONOK(w, s.ctrl.Scene())
	case errors.Is(err, view.ErrNoRange):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, playback.ErrInvalidSpeed):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, view.ErrNotRunning):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}
