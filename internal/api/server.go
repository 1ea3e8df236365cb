// Package api is the REST surface: scenes, history and statistics, beacons,
// settings and the view controller's commands.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/banshee-data/tagtrack/internal/db"
	"github.com/banshee-data/tagtrack/internal/httputil"
	"github.com/banshee-data/tagtrack/internal/render"
	"github.com/banshee-data/tagtrack/internal/settings"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/view"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the view controller as seen by the API.
type Controller interface {
	Scene() *view.Scene
	SetMode(ctx context.Context, m view.Mode) error
	LoadRange(ctx context.Context, r tags.TimeRange) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Scrub(ctx context.Context, t int64) error
	SetSpeed(ctx context.Context, m float64) error
	RefreshBeacons(ctx context.Context) error
}

type Server struct {
	db       *db.DB
	settings *settings.Store
	ctrl     Controller
	charts   render.ChartOptions

	// DefaultStatsWindow is used by /api/stats when no range is given.
	DefaultStatsWindow time.Duration
	now                func() time.Time
}

// NewServer wires the handlers to their collaborators. charts carries the
// default units and the echarts assets host for the HTML pages.
func NewServer(database *db.DB, store *settings.Store, ctrl Controller, charts render.ChartOptions) *Server {
	return &Server{
		db:                 database,
		settings:           store,
		ctrl:               ctrl,
		charts:             charts,
		DefaultStatsWindow: view.DefaultLiveStatsWindow,
		now:                time.Now,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Router returns the API routes. The websocket hub and admin routes are
// mounted next to it by the caller.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.MethodNotAllowed(w)
	})

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	r.HandleFunc("/api/scene", s.scene).Methods(http.MethodGet)
	r.HandleFunc("/api/scene.html", s.sceneHTML).Methods(http.MethodGet)
	r.HandleFunc("/api/scene.png", s.scenePNG).Methods(http.MethodGet)

	r.HandleFunc("/api/history", s.history).Methods(http.MethodGet)
	r.HandleFunc("/api/history/bounds", s.historyBounds).Methods(http.MethodGet)
	r.HandleFunc("/api/tags", s.tagStates).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/stats.html", s.statsHTML).Methods(http.MethodGet)

	r.HandleFunc("/api/beacons", s.beacons).Methods(http.MethodGet)
	r.HandleFunc("/api/beacons/fit", s.fitBeacons).Methods(http.MethodPost)
	r.HandleFunc("/api/beacons/refresh", s.refreshBeacons).Methods(http.MethodPost)

	r.HandleFunc("/api/settings", s.getSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/settings/{key}", s.putSetting).Methods(http.MethodPut)
	r.HandleFunc("/api/names", s.names).Methods(http.MethodGet)
	r.HandleFunc("/api/names/{uid}", s.putName).Methods(http.MethodPut)
	r.HandleFunc("/api/names/{uid}", s.deleteName).Methods(http.MethodDelete)

	r.HandleFunc("/api/mode", s.setMode).Methods(http.MethodPost)
	pb := r.PathPrefix("/api/playback").Subrouter()
	pb.HandleFunc("/load", s.load).Methods(http.MethodPost)
	pb.HandleFunc("/play", s.play).Methods(http.MethodPost)
	pb.HandleFunc("/pause", s.pause).Methods(http.MethodPost)
	pb.HandleFunc("/seek", s.seek).Methods(http.MethodPost)
	pb.HandleFunc("/speed", s.speed).Methods(http.MethodPost)

	return r
}

// ErrBadRange is reported for missing or inverted time ranges.
var ErrBadRange = errors.New("start and end must be epoch milliseconds with end > start")
