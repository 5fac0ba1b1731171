package coordinator

import (
	"context"

	"gemfeed/internal"
	"gemfeed/internal/config"
	"gemfeed/internal/storage"
	"gemfeed/internal/storage/pgstore"
)

// SiteStore is a site database with the maintenance operations the CLI
// needs on top of an import.
type SiteStore interface {
	Store
	UpsertReferenceEntries(ctx context.Context, table string, entries []internal.ReferenceEntry) error
	ReplaceMarkups(ctx context.Context, standard, lab []internal.MarkupBand) error
	ListImportRuns(ctx context.Context, limit int) ([]internal.ImportRun, error)
}

// OpenSiteStore opens the site's schema in Postgres when DB_DRIVER is
// postgres, and its own sqlite file otherwise.
func OpenSiteStore(ctx context.Context, cfg config.Config, site config.Site) (SiteStore, error) {
	if cfg.DBDriver == "postgres" {
		if err := cfg.Require("PG_DSN", cfg.PostgresDSN); err != nil {
			return nil, err
		}
		s, err := pgstore.Open(ctx, cfg.PostgresDSN, cfg.PostgresMax, site.Schema)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	db, err := storage.Open(cfg.SiteDBPath(site.Name))
	if err != nil {
		return nil, err
	}
	return db, nil
}

func ConfigOpener(cfg config.Config) Opener {
	return func(ctx context.Context, site config.Site) (Store, error) {
		s, err := OpenSiteStore(ctx, cfg, site)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
