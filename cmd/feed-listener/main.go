package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gemfeed/internal/config"
	"gemfeed/internal/connectors"
	"gemfeed/internal/coordinator"
	"gemfeed/internal/feeds"
	"gemfeed/internal/listener"
	"gemfeed/internal/logger"
	"gemfeed/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	log, err := logger.New(cfg.LogMode)
	must(err)
	defer log.Sync()

	db, err := storage.Open(cfg.MailDBPath())
	must(err)
	defer db.Close()
	mail := connectors.NewMailStore(db, cfg.RawMailDir)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// LISTENER_PROVIDER=none imports on schedule without pulling mail.
	var fetcher listener.Fetcher
	if cfg.ListenerProvider != "none" {
		conn, err := connectors.Open(ctx, cfg, cfg.ListenerProvider)
		must(err)
		fetcher = connectors.NewFetchService(conn, mail)
	}

	coord := coordinator.New(coordinator.ConfigOpener(cfg), feeds.NewClient(cfg), mail, log, coordinator.OptionsFromConfig(cfg))
	sites := func() ([]config.Site, error) { return config.LoadSites(cfg.SitesFile) }
	svc := listener.NewService(cfg, fetcher, coord, sites, log)

	log.Info("feed listener started", "provider", cfg.ListenerProvider, "interval_sec", cfg.ListenerIntervalSec)
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
