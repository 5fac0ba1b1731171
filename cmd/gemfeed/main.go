package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gemfeed/internal"
	"gemfeed/internal/backends"
	"gemfeed/internal/config"
	"gemfeed/internal/connectors"
	"gemfeed/internal/coordinator"
	"gemfeed/internal/feeds"
	"gemfeed/internal/listener"
	"gemfeed/internal/logger"
	"gemfeed/internal/refs"
	"gemfeed/internal/report"
	"gemfeed/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	must(err)
	defer log.Sync()

	ctx := context.Background()
	cmd := os.Args[1]
	switch cmd {
	case "import:file":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		name := fs.String("backend", "", "backend name (detected from the header row when empty)")
		file := fs.String("file", "", "feed file path")
		siteName := fs.String("site", "", "site to import into")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" || strings.TrimSpace(*siteName) == "" {
			must(fmt.Errorf("--file and --site are required"))
		}
		site := loadSite(cfg, *siteName)
		backend := *name
		if backend == "" {
			backend = detectBackend(*file)
		}
		opts := coordinator.OptionsFromConfig(cfg)
		opts.Debug = false
		opts.Only, opts.File = backend, *file
		runs := runSite(ctx, cfg, log, opts, site)
		printTotals(runs)
	case "import:site":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		siteName := fs.String("site", "", "site name")
		dryRun := fs.Bool("dry-run", false, "report what would run without touching the database")
		noDebug := fs.Bool("nodebug", false, "use live sources even when DEBUG is set")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*siteName) == "" {
			must(fmt.Errorf("--site is required"))
		}
		site := loadSite(cfg, *siteName)
		opts := coordinator.OptionsFromConfig(cfg)
		opts.DryRun = *dryRun
		if *noDebug {
			opts.Debug = false
		}
		runs := runSite(ctx, cfg, log, opts, site)
		printTotals(runs)
	case "import:all":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		dryRun := fs.Bool("dry-run", false, "report what would run without touching the database")
		noDebug := fs.Bool("nodebug", false, "use live sources even when DEBUG is set")
		_ = fs.Parse(os.Args[2:])
		sites, err := config.LoadSites(cfg.SitesFile)
		must(err)
		opts := coordinator.OptionsFromConfig(cfg)
		opts.DryRun = *dryRun
		if *noDebug {
			opts.Debug = false
		}
		mail := openMailStore(cfg)
		defer mail.close()
		coord := coordinator.New(coordinator.ConfigOpener(cfg), feeds.NewClient(cfg), mail.store, log, opts)
		runs, err := coord.RunAll(ctx, sites)
		if err != nil {
			log.Error("import had failures", "error", err)
		}
		printTotals(runs)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.ListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.ListenerLabel, "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := connectors.Open(ctx, cfg, *provider)
		must(err)
		mail := openMailStore(cfg)
		defer mail.close()
		result, err := connectors.NewFetchService(conn, mail.store).FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", *provider, result.Fetched, result.Stored)
	case "mail:listen":
		mail := openMailStore(cfg)
		defer mail.close()
		svc := newListener(ctx, cfg, log, mail.store)
		must(svc.Run(ctx))
	case "refs:seed":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "reference seed yaml")
		siteName := fs.String("site", "", "site to seed (every site when empty)")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		seed, err := refs.LoadSeed(*file)
		must(err)
		sites, err := config.LoadSites(cfg.SitesFile)
		must(err)
		if *siteName != "" {
			site, err := config.FindSite(sites, *siteName)
			must(err)
			sites = []config.Site{site}
		}
		for _, site := range sites {
			store, err := coordinator.OpenSiteStore(ctx, cfg, site)
			must(err)
			err = seed.Apply(ctx, store)
			_ = store.Close()
			must(err)
			fmt.Printf("seeded site=%s tables=%d\n", site.Name, len(seed.Tables))
		}
	case "export:runs":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		siteName := fs.String("site", "", "site name")
		out := fs.String("out", "", "output xlsx path")
		limit := fs.Int("limit", 100, "most recent runs to export")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*siteName) == "" {
			must(fmt.Errorf("--site is required"))
		}
		path := *out
		if path == "" {
			path = filepath.Join(cfg.OutputDir, *siteName+"-runs.xlsx")
		}
		site := loadSite(cfg, *siteName)
		store, err := coordinator.OpenSiteStore(ctx, cfg, site)
		must(err)
		defer store.Close()
		runs, err := store.ListImportRuns(ctx, *limit)
		must(err)
		if len(runs) == 0 {
			must(fmt.Errorf("no import runs for site=%s", *siteName))
		}
		must(report.WriteRuns(runs, path))
		fmt.Printf("exported %d runs to %s\n", len(runs), path)
	default:
		usage()
		os.Exit(1)
	}
}

type mailStore struct {
	db    *storage.DB
	store *connectors.MailStore
}

func (m mailStore) close() { _ = m.db.Close() }

// The mail index is always sqlite; it is shared by every site.
func openMailStore(cfg config.Config) mailStore {
	db, err := storage.Open(cfg.MailDBPath())
	must(err)
	return mailStore{db: db, store: connectors.NewMailStore(db, cfg.RawMailDir)}
}

func loadSite(cfg config.Config, name string) config.Site {
	sites, err := config.LoadSites(cfg.SitesFile)
	must(err)
	site, err := config.FindSite(sites, name)
	must(err)
	return site
}

func runSite(ctx context.Context, cfg config.Config, log *logger.Logger, opts coordinator.Options, site config.Site) []internal.ImportRun {
	mail := openMailStore(cfg)
	defer mail.close()
	coord := coordinator.New(coordinator.ConfigOpener(cfg), feeds.NewClient(cfg), mail.store, log, opts)
	runs, err := coord.RunSite(ctx, site)
	must(err)
	return runs
}

func detectBackend(path string) string {
	data, err := os.ReadFile(path)
	must(err)
	table, err := backends.ReadTable(path, data)
	must(err)
	b, ok := backends.Detect(table.Header)
	if !ok {
		must(fmt.Errorf("cannot detect backend from header of %s; pass --backend", path))
	}
	return b.Name()
}

func newListener(ctx context.Context, cfg config.Config, log *logger.Logger, mail *connectors.MailStore) *listener.Service {
	var fetcher listener.Fetcher
	if cfg.ListenerProvider != "none" {
		conn, err := connectors.Open(ctx, cfg, cfg.ListenerProvider)
		must(err)
		fetcher = connectors.NewFetchService(conn, mail)
	}
	coord := coordinator.New(coordinator.ConfigOpener(cfg), feeds.NewClient(cfg), mail, log, coordinator.OptionsFromConfig(cfg))
	sites := func() ([]config.Site, error) { return config.LoadSites(cfg.SitesFile) }
	return listener.NewService(cfg, fetcher, coord, sites, log)
}

func printTotals(runs []internal.ImportRun) {
	for _, run := range runs {
		status := "ok"
		if run.Fatal != "" {
			status = "fatal: " + run.Fatal
		}
		fmt.Printf("site=%s source=%s inserted=%d updated=%d deactivated=%d deleted=%d %s\n",
			run.Site, run.Source, run.Inserted, run.Updated, run.Deactivated, run.Deleted, status)
	}
	successes, errs := coordinator.Totals(runs)
	fmt.Printf("successes=%d errors=%d\n", successes, errs)
}

func usage() {
	fmt.Println(`gemfeed commands:
  import:file --file path --site name [--backend name]
  import:site --site name [--dry-run] [--nodebug]
  import:all [--dry-run] [--nodebug]
  mail:fetch [--provider imap|gmail] [--label INBOX] [--max 50]
  mail:listen
  refs:seed --file refs.yaml [--site name]
  export:runs --site name [--out path] [--limit 100]`)
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
