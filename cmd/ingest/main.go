// Command ingest loads a GTFS archive into the local store cache without
// starting the API server, rendering build progress on the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"transitlens.dev/internal/config"
	"transitlens.dev/internal/extract"
	"transitlens.dev/internal/gtfs"
	"transitlens.dev/internal/logging"
)

func main() {
	var (
		configPath string
		cacheDir   string
		verbose    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to a YAML config file (optional)")
	flag.StringVar(&cacheDir, "cache-dir", "", "Cache directory (overrides config)")
	flag.BoolVar(&verbose, "v", false, "Log build steps instead of drawing a progress bar")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ingest [flags] <feed.zip>")
		os.Exit(2)
	}
	archivePath := flag.Arg(0)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cacheDir != "" {
		cfg.Cache.Dir = cacheDir
	}

	logger := logging.NewStructuredLogger(io.Discard, slog.LevelError)
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	manager, err := gtfs.NewManager(gtfs.Config{
		CacheDir: cfg.Cache.Dir,
		Thresholds: extract.Thresholds{
			StreamArchiveBytes: cfg.Ingest.StreamArchiveMB << 20,
			MaxMemberBytes:     cfg.Ingest.MaxMemberMB << 20,
		},
		QueryTimeout: cfg.Query.Timeout,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer manager.Shutdown()

	if !verbose {
		bar := progressbar.NewOptions(100,
			progressbar.OptionSetDescription("ingesting"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		manager.OnProgress(func(ev gtfs.ProgressEvent) {
			if ev.Error {
				return
			}
			bar.Describe(ev.Step)
			_ = bar.Set(ev.Percent)
		})
	}

	start := time.Now()
	result, err := manager.Load(context.Background(), archivePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	source := "built"
	if result.FromCache {
		source = "cache"
	}
	fmt.Printf("loaded %s (%s) in %s: %d routes, %d trips, %d stops, %d stop times\n",
		archivePath, source, time.Since(start).Round(time.Millisecond),
		result.Stats.RouteCount, result.Stats.TripCount,
		result.Stats.StopCount, result.Stats.StopTimeCount)
}
