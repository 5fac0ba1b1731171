// Package listener runs the feed cycle on an interval: pull mailed feeds,
// then import every site.
package listener

import (
	"context"
	"time"

	"gemfeed/internal"
	"gemfeed/internal/config"
	"gemfeed/internal/connectors"
	"gemfeed/internal/coordinator"
	"gemfeed/internal/logger"
)

type Fetcher interface {
	FetchAndStore(ctx context.Context, label string, max int) (connectors.FetchResult, error)
}

type Importer interface {
	RunAll(ctx context.Context, sites []config.Site) ([]internal.ImportRun, error)
}

type Service struct {
	cfg      config.Config
	fetcher  Fetcher
	importer Importer
	sites    func() ([]config.Site, error)
	log      *logger.Logger
	after    func(time.Duration) <-chan time.Time
}

// NewService wires a listener. fetcher may be nil when no mailbox is
// configured; sites is re-read every cycle so edits apply without a restart.
func NewService(cfg config.Config, fetcher Fetcher, importer Importer, sites func() ([]config.Site, error), log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{cfg: cfg, fetcher: fetcher, importer: importer, sites: sites, log: log, after: time.After}
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.ListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	for {
		s.runCycle(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(interval):
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	started := time.Now()
	fetched, stored := 0, 0
	if s.fetcher != nil {
		res, err := s.fetcher.FetchAndStore(ctx, s.cfg.ListenerLabel, s.cfg.ListenerFetchMax)
		if err != nil {
			s.log.Error("mail fetch failed", "provider", s.cfg.ListenerProvider, "error", err)
		}
		fetched, stored = res.Fetched, res.Stored
	}

	if !s.cfg.ListenerImportAll {
		s.log.Info("listener cycle done", "fetched", fetched, "stored", stored)
		return
	}
	sites, err := s.sites()
	if err != nil {
		s.log.Error("load sites failed", "error", err)
		return
	}
	runs, err := s.importer.RunAll(ctx, sites)
	if err != nil {
		s.log.Error("import cycle had failures", "error", err)
	}
	successes, errs := coordinator.Totals(runs)
	s.log.Info("listener cycle done",
		"fetched", fetched,
		"stored", stored,
		"sites", len(sites),
		"runs", len(runs),
		"successes", successes,
		"errors", errs,
		"elapsed", time.Since(started).String(),
	)
}
