// Command server is the process entrypoint: it loads configuration,
// wires the subscription manager, housekeeping sweeps and diagnostics
// HTTP surface, then blocks until told to shut down.
//
// Per-display owners are not created here — callers embedding this
// engine (a renderer process, a test harness, cmd/replay) construct
// them against the shared feed.Manager and display.Registry this
// process wires up, per spec.md §4.I's "any number of displays, each
// with an independent lifecycle" ownership model.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/visualrange-engine/internal/candlecache"
	"github.com/aristath/visualrange-engine/internal/config"
	"github.com/aristath/visualrange-engine/internal/display"
	"github.com/aristath/visualrange-engine/internal/feed"
	"github.com/aristath/visualrange-engine/internal/housekeeping"
	"github.com/aristath/visualrange-engine/internal/server"
	"github.com/aristath/visualrange-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("starting visualrange-engine")

	cache, err := candlecache.Open(cfg.DataDir+"/candles.db", log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open candle cache")
	}
	defer cache.Close()

	manager := feed.NewManager(cfg.FeedURL, cfg.FeedToken, feed.JSONCodec, log)
	if err := manager.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start subscription manager")
	}
	defer manager.Stop()
	log.Info().Str("feed_url", cfg.FeedURL).Msg("subscription manager started")

	displays := display.NewRegistry()
	sweepers := housekeeping.NewRegistry()

	scheduler := housekeeping.New(log)
	markerJob := housekeeping.NewMarkerSweepJob(sweepers, nil)
	if err := scheduler.AddJob(cfg.MarkerSweepInterval, markerJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register marker sweep job")
	}
	refcountJob := housekeeping.NewRefcountSweepJob(manager, cfg.RefcountWarnThreshold, log)
	if err := scheduler.AddJob("@every 1m", refcountJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register refcount sweep job")
	}
	scheduler.Start()
	defer scheduler.Stop()

	diagServer := server.New(server.Config{
		Port:      cfg.DiagnosticsPort,
		Log:       log,
		Manager:   manager,
		Displays:  displays,
		StartedAt: time.Now(),
		DevMode:   cfg.DevMode,
	})

	go func() {
		if err := diagServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("diagnostics server failed")
		}
	}()
	log.Info().Int("port", cfg.DiagnosticsPort).Msg("diagnostics server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := diagServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("diagnostics server forced to shutdown")
	}

	log.Info().Msg("shutdown complete")
}
