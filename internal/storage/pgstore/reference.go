package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"gemfeed/internal"
)

func (s *Store) LoadReferenceTables(ctx context.Context) (map[string][]internal.ReferenceEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, table_name, abbr, name, aliases, disabled FROM `+s.table("reference_entries")+` ORDER BY table_name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]internal.ReferenceEntry{}
	for rows.Next() {
		var e internal.ReferenceEntry
		var table string
		if err := rows.Scan(&e.ID, &table, &e.Abbr, &e.Name, &e.Aliases, &e.Disabled); err != nil {
			return nil, err
		}
		out[table] = append(out[table], e)
	}
	return out, rows.Err()
}

func (s *Store) UpsertReferenceEntries(ctx context.Context, table string, entries []internal.ReferenceEntry) error {
	b := &pgx.Batch{}
	for _, e := range entries {
		abbr := strings.ToUpper(strings.TrimSpace(e.Abbr))
		if abbr == "" {
			abbr = strings.ToUpper(strings.TrimSpace(e.Name))
		}
		if abbr == "" {
			return fmt.Errorf("%s entry without abbr or name", table)
		}
		b.Queue(`INSERT INTO `+s.table("reference_entries")+` (table_name, abbr, name, aliases, disabled)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (table_name, abbr) DO UPDATE SET name = EXCLUDED.name, aliases = EXCLUDED.aliases, disabled = EXCLUDED.disabled`,
			table, abbr, e.Name, e.Aliases, e.Disabled)
	}
	return s.pool.SendBatch(ctx, b).Close()
}

func (s *Store) CreateCertifier(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
WITH ins AS (
  INSERT INTO `+s.table("reference_entries")+` (table_name, abbr, name) VALUES ($1, $2, $2)
  ON CONFLICT (table_name, abbr) DO NOTHING
  RETURNING id
)
SELECT id FROM ins
UNION ALL
SELECT id FROM `+s.table("reference_entries")+` WHERE table_name = $1 AND abbr = $2
LIMIT 1`, internal.TableCertifier, name).Scan(&id)
	return id, err
}

func (s *Store) ReplaceMarkups(ctx context.Context, standard, lab []internal.MarkupBand) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM `+s.table("markups")); err != nil {
		return err
	}
	insert := `INSERT INTO ` + s.table("markups") + ` (kind, position, lower, upper, percent)
VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric)`
	for kind, bands := range map[string][]internal.MarkupBand{"standard": standard, "lab": lab} {
		for i, b := range bands {
			if _, err := tx.Exec(ctx, insert, kind, i, b.Lower.String(), b.Upper.String(), b.Percent.String()); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) LoadMarkups(ctx context.Context) ([]internal.MarkupBand, []internal.MarkupBand, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, lower::text, upper::text, percent::text FROM `+s.table("markups")+` ORDER BY kind, position`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var standard, lab []internal.MarkupBand
	for rows.Next() {
		var kind, lower, upper, pct string
		if err := rows.Scan(&kind, &lower, &upper, &pct); err != nil {
			return nil, nil, err
		}
		band := internal.MarkupBand{}
		if band.Lower, err = decimal.NewFromString(lower); err != nil {
			return nil, nil, err
		}
		if band.Upper, err = decimal.NewFromString(upper); err != nil {
			return nil, nil, err
		}
		if band.Percent, err = decimal.NewFromString(pct); err != nil {
			return nil, nil, err
		}
		if kind == "lab" {
			lab = append(lab, band)
		} else {
			standard = append(standard, band)
		}
	}
	return standard, lab, rows.Err()
}

func (s *Store) InsertImportRun(ctx context.Context, run internal.ImportRun) error {
	counts, _ := json.Marshal(map[string]int{
		"successes":   run.Successes,
		"inserted":    run.Inserted,
		"updated":     run.Updated,
		"deactivated": run.Deactivated,
		"deleted":     run.Deleted,
		"skips":       run.Skips,
		"errors":      run.Errors,
	})
	skips, _ := json.Marshal(orEmpty(run.SkipReasons))
	errs, _ := json.Marshal(orEmpty(run.ErrorReasons))
	missing, _ := json.Marshal(orEmpty(run.MissingAliases))
	_, err := s.pool.Exec(ctx, `INSERT INTO `+s.table("import_runs")+`
(run_id, site, source, started_at, finished_at, counts, skip_reasons, error_reasons, missing_aliases, fatal)
VALUES ($1::text::uuid, $2, $3, $4, $5, $6::text::jsonb, $7::text::jsonb, $8::text::jsonb, $9::text::jsonb, $10)`,
		run.RunID, run.Site, run.Source, run.Started, run.Finished, string(counts), string(skips), string(errs), string(missing), run.Fatal)
	return err
}

func (s *Store) ListImportRuns(ctx context.Context, limit int) ([]internal.ImportRun, error) {
	rows, err := s.pool.Query(ctx, `SELECT run_id::text, site, source, started_at, finished_at, counts, skip_reasons, error_reasons, missing_aliases, fatal
FROM `+s.table("import_runs")+` ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ImportRun
	for rows.Next() {
		var run internal.ImportRun
		var counts map[string]int
		if err := rows.Scan(&run.RunID, &run.Site, &run.Source, &run.Started, &run.Finished,
			&counts, &run.SkipReasons, &run.ErrorReasons, &run.MissingAliases, &run.Fatal); err != nil {
			return nil, err
		}
		run.Successes = counts["successes"]
		run.Inserted = counts["inserted"]
		run.Updated = counts["updated"]
		run.Deactivated = counts["deactivated"]
		run.Deleted = counts["deleted"]
		run.Skips = counts["skips"]
		run.Errors = counts["errors"]
		out = append(out, run)
	}
	return out, rows.Err()
}

func orEmpty(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
