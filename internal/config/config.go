// Package config loads the tagtrack JSON configuration file.
//
// Every field is optional. Fields omitted from the file fall back to the
// defaults returned by the Get* accessors, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/tagtrack/internal/fsutil"
	"github.com/banshee-data/tagtrack/internal/geometry"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/tagtrack.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration.
type Config struct {
	// Listeners
	Listen     *string `json:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`

	// Feed sources; the first one set wins, in this order
	UDPListen  *string `json:"udp_listen,omitempty"`
	SerialPort *string `json:"serial_port,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty"`
	PCAPFile   *string `json:"pcap_file,omitempty"`
	FeedURL    *string `json:"feed_url,omitempty"`

	UBeaconURL *string `json:"ubeacon_url,omitempty"`

	// Engine timing, duration strings like "5s"
	StaleThreshold     *string `json:"stale_threshold,omitempty"`
	FreshnessInterval  *string `json:"freshness_interval,omitempty"`
	FrameInterval      *string `json:"frame_interval,omitempty"`
	LiveStatsWindow    *string `json:"live_stats_window,omitempty"`
	LiveStatsRefresh   *string `json:"live_stats_refresh,omitempty"`
	HibernationTimeout *string `json:"hibernation_timeout,omitempty"`

	// Initial view
	MapSize     *float64 `json:"map_size,omitempty"`
	Padding     *float64 `json:"padding,omitempty"`
	FlipX       *bool    `json:"flip_x,omitempty"`
	FlipY       *bool    `json:"flip_y,omitempty"`
	Rotation    *int     `json:"rotation,omitempty"`
	ClampToView *bool    `json:"clamp_to_view,omitempty"`

	// Statistics
	StatsGapLimit    *string  `json:"stats_gap_limit,omitempty"`
	StatsMovingSpeed *float64 `json:"stats_moving_speed,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file on the OS filesystem.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadConfigFS loads a Config through fsys. The file must have a .json
// extension and be under 1MB.
func LoadConfigFS(fsys fsutil.FileSystem, path string) (*Config, error) {
	data, err := fsutil.ReadLimited(fsys, path, maxFileSize, ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *Config {
	for _, prefix := range []string{"", "../", "../../", "../../../"} {
		if cfg, err := LoadConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	durations := map[string]*string{
		"stale_threshold":     c.StaleThreshold,
		"freshness_interval":  c.FreshnessInterval,
		"frame_interval":      c.FrameInterval,
		"live_stats_window":   c.LiveStatsWindow,
		"live_stats_refresh":  c.LiveStatsRefresh,
		"hibernation_timeout": c.HibernationTimeout,
		"stats_gap_limit":     c.StatsGapLimit,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.MapSize != nil && *c.MapSize <= 0 {
		return fmt.Errorf("map_size must be positive, got %f", *c.MapSize)
	}
	if c.Padding != nil && (*c.Padding < 0 || *c.Padding >= 0.5) {
		return fmt.Errorf("padding must be in [0, 0.5), got %f", *c.Padding)
	}
	if c.Rotation != nil {
		if _, err := geometry.ParseRotation(*c.Rotation); err != nil {
			return err
		}
	}
	if c.SerialBaud != nil && *c.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be positive, got %d", *c.SerialBaud)
	}
	if c.StatsMovingSpeed != nil && *c.StatsMovingSpeed < 0 {
		return fmt.Errorf("stats_moving_speed must be non-negative, got %f", *c.StatsMovingSpeed)
	}
	return nil
}

func duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func str(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string { return str(c.Listen, ":8080") }

// GetGRPCListen returns the gRPC listen address. Empty disables gRPC.
func (c *Config) GetGRPCListen() string { return str(c.GRPCListen, ":50051") }

// GetDBPath returns the sqlite database path.
func (c *Config) GetDBPath() string { return str(c.DBPath, "tagtrack.db") }

// GetUDPListen returns the UDP feed address. Default ":7000".
func (c *Config) GetUDPListen() string { return str(c.UDPListen, ":7000") }

// GetSerialPort returns the serial device path, empty when unset.
func (c *Config) GetSerialPort() string { return str(c.SerialPort, "") }

// GetSerialBaud returns the serial baud rate.
func (c *Config) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return 115200
	}
	return *c.SerialBaud
}

// GetPCAPFile returns the capture file to replay, empty when unset.
func (c *Config) GetPCAPFile() string { return str(c.PCAPFile, "") }

// GetFeedURL returns the websocket URL of a remote feed, empty when unset.
func (c *Config) GetFeedURL() string { return str(c.FeedURL, "") }

// GetUBeaconURL returns the base URL of the uBeacon service, empty when unset.
func (c *Config) GetUBeaconURL() string { return str(c.UBeaconURL, "") }

// GetStaleThreshold returns the offline threshold shared by live and
// historical views.
func (c *Config) GetStaleThreshold() time.Duration {
	return duration(c.StaleThreshold, 5*time.Second)
}

// GetFreshnessInterval returns how often live entities are checked for staleness.
func (c *Config) GetFreshnessInterval() time.Duration {
	return duration(c.FreshnessInterval, time.Second)
}

// GetFrameInterval returns the playback frame period.
func (c *Config) GetFrameInterval() time.Duration {
	return duration(c.FrameInterval, 16*time.Millisecond)
}

// GetLiveStatsWindow returns the trailing window requested in live mode.
func (c *Config) GetLiveStatsWindow() time.Duration {
	return duration(c.LiveStatsWindow, time.Hour)
}

// GetLiveStatsRefresh returns how often live statistics are refreshed.
func (c *Config) GetLiveStatsRefresh() time.Duration {
	return duration(c.LiveStatsRefresh, 30*time.Second)
}

// GetHibernationTimeout returns how long a tag may be silent before the
// store marks it hibernating.
func (c *Config) GetHibernationTimeout() time.Duration {
	return duration(c.HibernationTimeout, 3*time.Second)
}

// GetMapSize returns the side of the square monitored area in meters.
func (c *Config) GetMapSize() float64 {
	if c.MapSize == nil {
		return 40
	}
	return *c.MapSize
}

// GetPadding returns the fraction of the map added around each side.
func (c *Config) GetPadding() float64 {
	if c.Padding == nil {
		return geometry.DefaultPadFraction
	}
	return *c.Padding
}

// GetFlipX returns the initial horizontal flip. Default true.
func (c *Config) GetFlipX() bool {
	if c.FlipX == nil {
		return true
	}
	return *c.FlipX
}

// GetFlipY returns the initial vertical flip. Default true.
func (c *Config) GetFlipY() bool {
	if c.FlipY == nil {
		return true
	}
	return *c.FlipY
}

// GetRotation returns the initial rotation.
func (c *Config) GetRotation() geometry.Rotation {
	if c.Rotation == nil {
		return geometry.Rotate0
	}
	r, err := geometry.ParseRotation(*c.Rotation)
	if err != nil {
		return geometry.Rotate0
	}
	return r
}

// GetClampToView reports whether points are clamped into the view before
// projection. Default true.
func (c *Config) GetClampToView() bool {
	if c.ClampToView == nil {
		return true
	}
	return *c.ClampToView
}

// GetStatsGapLimit returns the longest gap between samples that still
// counts toward distance and moving time.
func (c *Config) GetStatsGapLimit() time.Duration {
	return duration(c.StatsGapLimit, 5*time.Second)
}

// GetStatsMovingSpeed returns the speed in m/s above which a tag counts as moving.
func (c *Config) GetStatsMovingSpeed() float64 {
	if c.StatsMovingSpeed == nil {
		return 0.05
	}
	return *c.StatsMovingSpeed
}

// InitialView returns the view showing the configured map with padding.
func (c *Config) InitialView() geometry.ViewConfig {
	v := geometry.PaddedView(c.GetMapSize(), c.GetPadding())
	v.FlipX = c.GetFlipX()
	v.FlipY = c.GetFlipY()
	v.Rotation = c.GetRotation()
	return v
}
