package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/tagtrack/internal/db"
	"github.com/banshee-data/tagtrack/internal/feed"
	"github.com/banshee-data/tagtrack/internal/fsutil"
	"github.com/banshee-data/tagtrack/internal/remote"
	"github.com/banshee-data/tagtrack/internal/roster"
	"github.com/banshee-data/tagtrack/internal/security"
	"github.com/banshee-data/tagtrack/internal/tags"
	"github.com/banshee-data/tagtrack/internal/timeutil"
	"github.com/banshee-data/tagtrack/internal/view"
)

// importRosterCmd loads tag names and metadata from a YAML roster.
func importRosterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-roster <file.yaml>",
		Short: "Import tag names from a YAML roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := security.ValidateInputFile(path, ".yaml", ".yml"); err != nil {
				return err
			}
			r, err := roster.Load(fsutil.OSFileSystem{}, path)
			if err != nil {
				return err
			}

			_, database, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			n, err := r.Import(cmd.Context(), database, nil)
			if err != nil {
				return fmt.Errorf("import roster: %d of %d written: %w", n, len(r.Tags), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d tags from %s\n", n, path)
			return nil
		},
	}
}

// exportRosterCmd writes the stored tag names as a YAML roster.
func exportRosterCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export-roster",
		Short: "Export tag names as a YAML roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			names, err := database.TagNames(cmd.Context())
			if err != nil {
				return err
			}
			data, err := (&roster.Roster{Tags: names}).Marshal()
			if err != nil {
				return err
			}
			if out == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			return writeRoster(fsutil.OSFileSystem{}, out, data)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func writeRoster(fsys fsutil.FileSystem, path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return fmt.Errorf("roster %s: expected a .yaml file", path)
	}
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	return nil
}

// fetchBeaconsCmd replaces the stored beacons with the uBeacon anchors.
func fetchBeaconsCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "fetch-beacons",
		Short: "Replace the stored beacons with the anchors from uBeacon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, database, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			if url == "" {
				url = cfg.GetUBeaconURL()
			}
			if url == "" {
				return errors.New("no uBeacon url: set ubeacon_url in the config or pass --url")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			n, err := syncBeacons(ctx, database, remote.NewUBeaconClient(url, nil))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Stored %d beacons from %s\n", n, url)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "uBeacon API base url (overrides ubeacon_url in the config)")
	return cmd
}

type beaconStore interface {
	ReplaceBeacons(ctx context.Context, bs []tags.Beacon) error
}

var _ beaconStore = (*db.DB)(nil)

// syncBeacons copies src's beacons into dst. An empty result leaves dst
// untouched so a misconfigured service does not wipe the overlay.
func syncBeacons(ctx context.Context, dst beaconStore, src view.BeaconSource) (int, error) {
	bs, err := src.FetchBeacons(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch beacons: %w", err)
	}
	if len(bs) == 0 {
		return 0, errors.New("fetch beacons: service returned no anchors")
	}
	if err := dst.ReplaceBeacons(ctx, bs); err != nil {
		return 0, err
	}
	return len(bs), nil
}

// recordCmd captures the live feed to a pcap file for later replay with
// serve --source pcap.
func recordCmd() *cobra.Command {
	var (
		out      string
		source   string
		duration time.Duration
		port     int
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture the live feed to a pcap file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.ToLower(filepath.Ext(out)) != ".pcap" {
				return fmt.Errorf("%s: output must have a .pcap extension", out)
			}
			if source == sourcePCAP {
				return errors.New("record cannot read from a pcap source")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			clock := timeutil.RealClock{}
			src, err := selectSource(cfg, serveOptions{source: source}, clock)
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create capture: %w", err)
			}
			defer f.Close()
			w, err := feed.NewCaptureWriter(f, port)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			m := feed.NewMux(clock)
			done := make(chan error, 1)
			go func() {
				done <- w.Record(ctx, m, clock)
			}()
			log.Printf("[record] capturing %s to %s", src.Name(), out)
			monitorErr := m.Monitor(ctx, src)
			m.Close()
			recordErr := <-done

			st := m.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Captured %d payloads to %s\n", st.Published, out)
			if recordErr != nil && !isStopped(recordErr) {
				return recordErr
			}
			if monitorErr != nil && !isStopped(monitorErr) {
				return monitorErr
			}
			return f.Sync()
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "capture.pcap", "Output pcap file")
	cmd.Flags().StringVar(&source, "source", sourceAuto, "Feed source: udp, serial, websocket or synthetic (default picks from the config)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (default until interrupted)")
	cmd.Flags().IntVar(&port, "port", feed.DefaultFeedPort, "UDP port written into the captured datagrams")
	return cmd
}

func isStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
