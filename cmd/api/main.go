package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transitlens.dev/internal/app"
	"transitlens.dev/internal/config"
	"transitlens.dev/internal/extract"
	"transitlens.dev/internal/gtfs"
	"transitlens.dev/internal/logging"
	"transitlens.dev/internal/restapi"
)

func main() {
	var (
		configPath string
		port       int
		env        string
		feedPath   string
	)

	flag.StringVar(&configPath, "config", "", "Path to a YAML config file (optional)")
	flag.IntVar(&port, "port", 0, "API server port (overrides config)")
	flag.StringVar(&env, "env", "", "Environment (development|test|production, overrides config)")
	flag.StringVar(&feedPath, "gtfs", "", "Path to a GTFS zip to load on startup")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if port != 0 {
		cfg.Port = port
	}
	if env != "" {
		cfg.Env = env
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var logger *slog.Logger
	if cfg.Env == "production" {
		logger = logging.NewStructuredLogger(os.Stdout, slog.LevelInfo)
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	manager, err := gtfs.NewManager(gtfs.Config{
		CacheDir: cfg.Cache.Dir,
		Thresholds: extract.Thresholds{
			StreamArchiveBytes: cfg.Ingest.StreamArchiveMB << 20,
			MaxMemberBytes:     cfg.Ingest.MaxMemberMB << 20,
		},
		QueryTimeout: cfg.Query.Timeout,
		WatchSource:  cfg.Ingest.WatchSource,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to initialize feed manager", "error", err)
		os.Exit(1)
	}
	defer manager.Shutdown()

	if feedPath != "" {
		if _, err := manager.Load(context.Background(), feedPath); err != nil {
			logger.Error("failed to load initial feed", "path", feedPath, "error", err)
			os.Exit(1)
		}
	}

	application := &app.Application{
		Config:      cfg,
		Logger:      logger,
		FeedManager: manager,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      restapi.NewRestAPI(application).Routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Minute, // loads block the response for their full duration
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("starting server", "addr", srv.Addr, "env", cfg.Env)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err.Error())
		os.Exit(1)
	}
	logger.Info("server stopped")
}
