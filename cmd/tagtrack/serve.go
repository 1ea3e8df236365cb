package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/tagtrack/internal/api"
	"github.com/banshee-data/tagtrack/internal/config"
	"github.com/banshee-data/tagtrack/internal/db"
	"github.com/banshee-data/tagtrack/internal/feed"
	"github.com/banshee-data/tagtrack/internal/remote"
	"github.com/banshee-data/tagtrack/internal/render"
	"github.com/banshee-data/tagtrack/internal/scenestream"
	"github.com/banshee-data/tagtrack/internal/settings"
	"github.com/banshee-data/tagtrack/internal/timeutil"
	"github.com/banshee-data/tagtrack/internal/view"
)

// Feed source names accepted by --source.
const (
	sourceAuto      = ""
	sourceUDP       = "udp"
	sourceSerial    = "serial"
	sourcePCAP      = "pcap"
	sourceWebsocket = "websocket"
	sourceSynthetic = "synthetic"
)

type serveOptions struct {
	devMode     bool
	source      string
	listen      string
	grpcListen  string
	pcapRate    float64
	devTags     int
	historyURL  string
	noRecord    bool
	assetsHost  string
	syncBeacons bool
}

func serveCmd() *cobra.Command {
	var o serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest the live feed and serve the tracking view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, o)
		},
	}

	cmd.Flags().BoolVar(&o.devMode, "dev", false, "Run in dev mode with synthetic tags")
	cmd.Flags().StringVar(&o.source, "source", sourceAuto, "Feed source: udp, serial, pcap, websocket or synthetic (default picks from the config)")
	cmd.Flags().StringVar(&o.listen, "listen", "", "HTTP listen address (overrides listen in the config)")
	cmd.Flags().StringVar(&o.grpcListen, "grpc-listen", "", "gRPC listen address (overrides grpc_listen in the config)")
	cmd.Flags().Float64Var(&o.pcapRate, "pcap-rate", 1, "Replay speed for --source pcap; 0 replays as fast as possible")
	cmd.Flags().IntVar(&o.devTags, "dev-tags", 4, "Number of synthetic tags in dev mode")
	cmd.Flags().StringVar(&o.historyURL, "history-url", "", "Read history, statistics and beacons from another tagtrack API instead of the local database")
	cmd.Flags().BoolVar(&o.noRecord, "no-record", false, "Do not record live positions to the database")
	cmd.Flags().StringVar(&o.assetsHost, "assets-host", render.DefaultAssetsHost, "Base URL for chart JavaScript assets")
	cmd.Flags().BoolVar(&o.syncBeacons, "sync-beacons", true, "Refresh beacons from ubeacon_url at startup when it is configured")
	return cmd
}

// selectSource picks the feed source. With no explicit choice the first
// configured of serial port, pcap file and feed url wins, then UDP.
func selectSource(cfg *config.Config, o serveOptions, clock timeutil.Clock) (feed.Source, error) {
	name := o.source
	if o.devMode && name == sourceAuto {
		name = sourceSynthetic
	}
	if name == sourceAuto {
		switch {
		case cfg.GetSerialPort() != "":
			name = sourceSerial
		case cfg.GetPCAPFile() != "":
			name = sourcePCAP
		case cfg.GetFeedURL() != "":
			name = sourceWebsocket
		default:
			name = sourceUDP
		}
	}

	switch name {
	case sourceUDP:
		return &feed.UDPSource{Address: cfg.GetUDPListen()}, nil
	case sourceSerial:
		if cfg.GetSerialPort() == "" {
			return nil, errors.New("serial source needs serial_port in the config")
		}
		return &feed.SerialSource{
			Path:    cfg.GetSerialPort(),
			Options: feed.PortOptions{BaudRate: cfg.GetSerialBaud()},
		}, nil
	case sourcePCAP:
		if cfg.GetPCAPFile() == "" {
			return nil, errors.New("pcap source needs pcap_file in the config")
		}
		return &feed.PCAPSource{Path: cfg.GetPCAPFile(), Rate: o.pcapRate, Clock: clock}, nil
	case sourceWebsocket:
		if cfg.GetFeedURL() == "" {
			return nil, errors.New("websocket source needs feed_url in the config")
		}
		return &feed.Client{URL: cfg.GetFeedURL()}, nil
	case sourceSynthetic:
		return &feed.SyntheticSource{Tags: o.devTags, MapSize: cfg.GetMapSize(), Clock: clock}, nil
	}
	return nil, fmt.Errorf("unknown feed source %q", name)
}

// dataSources is where the controller reads history, statistics and beacons.
type dataSources struct {
	history view.HistorySource
	stats   view.StatsSource
	beacons view.BeaconSource
}

func newDataSources(database *db.DB, historyURL string) dataSources {
	if historyURL != "" {
		c := remote.NewClient(historyURL, nil)
		return dataSources{history: c, stats: c, beacons: c}
	}
	return dataSources{history: database, stats: database, beacons: database}
}

func runServe(cmd *cobra.Command, o serveOptions) error {
	cfg, database, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	if o.listen == "" {
		o.listen = cfg.GetListen()
	}
	if o.grpcListen == "" {
		o.grpcListen = cfg.GetGRPCListen()
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := settings.NewStore(settings.Settings{
		View:             cfg.InitialView(),
		StaleThresholdMs: cfg.GetStaleThreshold().Milliseconds(),
		ClampToView:      cfg.GetClampToView(),
	}, database)
	if err != nil {
		return fmt.Errorf("initial settings: %w", err)
	}
	if err := store.Restore(ctx); err != nil {
		return err
	}

	if url := cfg.GetUBeaconURL(); url != "" && o.syncBeacons {
		if n, err := syncBeacons(ctx, database, remote.NewUBeaconClient(url, nil)); err != nil {
			log.Printf("[beacons] sync from %s failed, keeping stored beacons: %v", url, err)
		} else {
			log.Printf("[beacons] synced %d beacons from %s", n, url)
		}
	}

	clock := timeutil.RealClock{}
	src, err := selectSource(cfg, o, clock)
	if err != nil {
		return err
	}

	m := feed.NewMux(clock)
	var rec feed.Recorder
	if !o.noRecord {
		rec = database
	}
	pipe := feed.NewPipe(m, clock, rec)

	sources := newDataSources(database, o.historyURL)
	ctrl, err := view.NewController(view.Options{
		Clock:             clock,
		Settings:          store,
		History:           sources.history,
		Stats:             sources.stats,
		Beacons:           sources.beacons,
		FreshnessInterval: cfg.GetFreshnessInterval(),
		FrameInterval:     cfg.GetFrameInterval(),
		LiveStatsWindow:   cfg.GetLiveStatsWindow(),
		LiveStatsRefresh:  cfg.GetLiveStatsRefresh(),
	})
	if err != nil {
		return err
	}

	// run the monitor routine to manage the feed source; the mux is closed
	// once it returns so the pipe drains and stops
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer m.Close()
		log.Printf("[feed] reading from %s", src.Name())
		if err := m.Monitor(ctx, src); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[feed] monitor failed: %v", err)
		}
		log.Print("[feed] monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[feed] pipe failed: %v", err)
		}
		log.Printf("[feed] pipe stopped: %d decoded, %d malformed", pipe.Decoded(), pipe.Malformed())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Run(ctx, view.Inputs{Events: pipe.Events(), Connection: pipe.Connection()}); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[view] controller failed: %v", err)
		}
		log.Print("[view] controller stopped")
	}()

	if !o.noRecord {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runHibernation(ctx, database, clock, cfg.GetHibernationTimeout())
		}()
	}

	pub := scenestream.NewPublisher(scenestream.Config{ListenAddr: o.grpcListen}, ctrl)
	if err := pub.Start(); err != nil {
		stop()
		wg.Wait()
		return fmt.Errorf("scene stream: %w", err)
	}
	defer pub.Stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(database, store, ctrl, render.ChartOptions{AssetsHost: o.assetsHost})
		apiServer.DefaultStatsWindow = cfg.GetLiveStatsWindow()
		mux := http.NewServeMux()
		mux.Handle("/", apiServer.Router())
		mux.Handle("/ws", feed.NewHub(m))
		m.AttachAdminRoutes(mux)
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("[api] admin routes unavailable: %v", err)
		}

		server := &http.Server{
			Addr:    o.listen,
			Handler: mux,
		}

		go func() {
			log.Printf("[api] listening on %s", o.listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[api] failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("[api] shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[api] HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("[api] HTTP server force close error: %v", err)
			}
		}
		log.Printf("[api] HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return nil
}

// runHibernation marks tags that stopped reporting until ctx is cancelled.
func runHibernation(ctx context.Context, database *db.DB, clock timeutil.Clock, timeout time.Duration) {
	ticker := clock.NewTicker(timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			n, err := database.MarkHibernating(ctx, now.UnixMilli(), timeout)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[db] %v", err)
				}
				continue
			}
			if n > 0 {
				log.Printf("[db] %d tags hibernating", n)
			}
		}
	}
}
