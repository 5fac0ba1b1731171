// Package coordinator runs every enabled backend of every site and records
// what each run did.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gemfeed/internal"
	"gemfeed/internal/backends"
	"gemfeed/internal/config"
	"gemfeed/internal/feeds"
	"gemfeed/internal/logger"
	"gemfeed/internal/markup"
	"gemfeed/internal/pipeline"
	"gemfeed/internal/refs"
	"gemfeed/internal/sink"
)

const topMissing = 10

// Store is a site database as the coordinator sees it.
type Store interface {
	sink.Store
	refs.CertifierCreator
	LoadReferenceTables(ctx context.Context) (map[string][]internal.ReferenceEntry, error)
	LoadMarkups(ctx context.Context) ([]internal.MarkupBand, []internal.MarkupBand, error)
	DeleteSource(ctx context.Context, source string) (int64, error)
	InsertImportRun(ctx context.Context, run internal.ImportRun) error
	Close() error
}

// Opener opens the database of one site.
type Opener func(ctx context.Context, site config.Site) (Store, error)

type Options struct {
	DryRun bool
	// Debug reads each backend's sample file from DebugDir instead of the
	// live source.
	Debug    bool
	DebugDir string
	FeedDir  string
	// Only restricts a run to one backend, which then runs whether or not
	// the site enables it. File overrides that backend's source.
	Only string
	File string

	BufferSize int
	Workers    int
	Paging     feeds.PageOptions
}

// OptionsFromConfig fills the environment-driven options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Debug:      cfg.Debug,
		DebugDir:   cfg.DebugDataDir,
		FeedDir:    cfg.FeedDir,
		BufferSize: cfg.SinkBufferSize,
		Workers:    cfg.SiteWorkers,
		Paging:     feeds.PageOptionsFromConfig(cfg),
	}
}

type Coordinator struct {
	open     Opener
	client   *feeds.Client
	mail     backends.MailSource
	log      *logger.Logger
	opts     Options
	backends []backends.Backend
	now      func() time.Time
}

func New(open Opener, client *feeds.Client, mail backends.MailSource, log *logger.Logger, opts Options) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		open:     open,
		client:   client,
		mail:     mail,
		log:      log,
		opts:     opts,
		backends: backends.All(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithBackends replaces the registered backend list.
func (c *Coordinator) WithBackends(list []backends.Backend) *Coordinator {
	c.backends = list
	return c
}

// RunAll imports every site, several at a time. A failing site never stops
// the others; their errors are joined in the result.
func (c *Coordinator) RunAll(ctx context.Context, sites []config.Site) ([]internal.ImportRun, error) {
	workers := c.opts.Workers
	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		runs []internal.ImportRun
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, site := range sites {
		g.Go(func() error {
			siteRuns, err := c.RunSite(ctx, site)
			mu.Lock()
			defer mu.Unlock()
			runs = append(runs, siteRuns...)
			if err != nil {
				errs = append(errs, fmt.Errorf("site %s: %w", site.Name, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return runs, errors.Join(errs...)
}

// RunSite runs the site's backends one after another. Backends the site does
// not enable have their listings removed.
func (c *Coordinator) RunSite(ctx context.Context, site config.Site) ([]internal.ImportRun, error) {
	log := c.log.With("site", site.Name)

	store, err := c.open(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close store failed", "error", err)
		}
	}()

	entries, err := store.LoadReferenceTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reference tables: %w", err)
	}
	standard, lab, err := store.LoadMarkups(ctx)
	if err != nil {
		return nil, fmt.Errorf("load markups: %w", err)
	}
	tables := refs.Build(entries, store)
	engine := markup.NewEngine(standard, lab)
	if engine.Empty() {
		log.Warn("no markup bands configured, every row will fail pricing")
	}

	var runs []internal.ImportRun
	for _, b := range c.backends {
		if c.opts.Only != "" && b.Name() != c.opts.Only {
			continue
		}
		blog := log.With("backend", b.Name())

		if c.opts.Only == "" && !b.Enabled(site) {
			if c.opts.DryRun {
				blog.Debug("would remove listings of disabled backend")
				continue
			}
			n, err := store.DeleteSource(ctx, b.Name())
			if err != nil {
				blog.Error("remove disabled backend listings failed", "error", err)
				continue
			}
			if n > 0 {
				blog.Info("removed listings of disabled backend", "deleted", n)
				now := c.now()
				run := internal.ImportRun{RunID: uuid.NewString(), Site: site.Name, Source: b.Name(), Started: now, Finished: now, Deleted: int(n)}
				if err := store.InsertImportRun(ctx, run); err != nil {
					blog.Error("record import run failed", "run_id", run.RunID, "error", err)
				}
				runs = append(runs, run)
			}
			continue
		}
		if c.opts.DryRun {
			blog.Info("would run backend")
			continue
		}

		run := c.runBackend(ctx, store, site, b, tables, engine)
		if err := store.InsertImportRun(ctx, run); err != nil {
			blog.Error("record import run failed", "run_id", run.RunID, "error", err)
		}
		runs = append(runs, run)
	}
	if n := tables.CreatedCertifiers(); n > 0 {
		log.Info("certifiers created from feeds", "count", n)
	}
	return runs, nil
}

func (c *Coordinator) runBackend(ctx context.Context, store Store, site config.Site, b backends.Backend, tables *refs.Tables, engine *markup.Engine) (run internal.ImportRun) {
	run = internal.ImportRun{
		RunID:   uuid.NewString(),
		Site:    site.Name,
		Source:  b.Name(),
		Started: c.now(),
	}
	log := c.log.With("site", site.Name, "backend", b.Name(), "run_id", run.RunID)
	log.Info("import started")

	tally := pipeline.NewTally()
	var result sink.Result
	defer func() {
		if r := recover(); r != nil {
			run.Fatal = fmt.Sprintf("panic: %v", r)
			log.Error("import panicked", "panic", r)
		}
		fillRun(&run, tally, result)
		run.Finished = c.now()
		log.Info("import finished",
			"successes", run.Successes,
			"inserted", run.Inserted,
			"updated", run.Updated,
			"deactivated", run.Deactivated,
			"skips", run.Skips,
			"errors", run.Errors,
			"top_missing", tally.TopMissing(topMissing),
			"fatal", run.Fatal,
		)
	}()

	out, err := sink.New(ctx, store, b.Name(), c.opts.BufferSize)
	if err != nil {
		run.Fatal = err.Error()
		return run
	}

	opts := pipeline.Options{
		Source: b.Name(),
		Prefs:  site.Prefs,
		Tables: tables,
		Markup: engine,
		Now:    run.Started,
	}
	if c.client != nil {
		opts.Images = c.client
	}
	pipe := pipeline.New(opts)
	tally = pipe.Tally()

	settings, _ := site.Backend(b.Name())
	env := backends.Env{
		Site:     site,
		Settings: settings,
		File:     c.opts.File,
		Debug:    c.opts.Debug,
		DebugDir: c.opts.DebugDir,
		FeedDir:  c.opts.FeedDir,
		Client:   c.client,
		Paging:   c.opts.Paging,
		Mail:     c.mail,
		Log:      log,
	}

	fetchErr := b.Fetch(ctx, env, func(rec backends.Record) error {
		fields, err := b.Map(rec)
		if err != nil {
			var skip *backends.SkipError
			if errors.As(err, &skip) {
				tally.RecordSkip(skip.Reason)
				return nil
			}
			tally.RecordFailure("malformed record")
			log.Debug("record rejected", "error", err)
			return nil
		}
		o := pipe.Process(ctx, fields)
		if o.Kind != pipeline.Emit {
			return nil
		}
		return out.Accept(ctx, o.Row)
	})
	if fetchErr != nil {
		run.Fatal = fetchErr.Error()
		log.Error("import failed", "error", fetchErr)
	}

	res, err := out.Close(ctx, fetchErr == nil)
	result = res
	if err != nil {
		if run.Fatal == "" {
			run.Fatal = err.Error()
		}
		log.Error("flush failed", "error", err)
	}
	return run
}

func fillRun(run *internal.ImportRun, tally *pipeline.Tally, result sink.Result) {
	run.Successes = result.Accepted()
	run.Inserted = result.Inserted
	run.Updated = result.Updated
	run.Deactivated = result.Deactivated
	run.Skips = tally.Skips
	run.Errors = tally.Errors
	run.SkipReasons = tally.SkipReasons
	run.ErrorReasons = tally.ErrorReasons
	run.MissingAliases = tally.MissingAliases
}

// Totals sums successes and errors across runs, which is what the CLI prints.
func Totals(runs []internal.ImportRun) (successes, errs int) {
	for _, r := range runs {
		successes += r.Successes
		errs += r.Errors
		if r.Fatal != "" {
			errs++
		}
	}
	return successes, errs
}
