package storage

import (
	"context"
	"encoding/json"
	"time"

	"gemfeed/internal"
)

func (d *DB) InsertImportRun(ctx context.Context, run internal.ImportRun) error {
	counts, skips, errs, missing := encodeRunMaps(run)
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO import_runs (runId, site, source, startedAt, finishedAt, countsJson, skipReasonsJson, errorReasonsJson, missingJson, fatal)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.RunID, run.Site, run.Source, run.Started.UTC().Format(time.RFC3339), run.Finished.UTC().Format(time.RFC3339),
		counts, skips, errs, missing, run.Fatal)
	return err
}

// ListImportRuns returns the most recent runs first.
func (d *DB) ListImportRuns(ctx context.Context, limit int) ([]internal.ImportRun, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT runId, site, source, startedAt, finishedAt, countsJson, skipReasonsJson, errorReasonsJson, missingJson, fatal
FROM import_runs ORDER BY id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ImportRun
	for rows.Next() {
		var run internal.ImportRun
		var started, finished, counts, skips, errs, missing string
		if err := rows.Scan(&run.RunID, &run.Site, &run.Source, &started, &finished, &counts, &skips, &errs, &missing, &run.Fatal); err != nil {
			return nil, err
		}
		run.Started, _ = time.Parse(time.RFC3339, started)
		run.Finished, _ = time.Parse(time.RFC3339, finished)
		decodeRunMaps(&run, counts, skips, errs, missing)
		out = append(out, run)
	}
	return out, rows.Err()
}

type runCounts struct {
	Successes   int `json:"successes"`
	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	Deactivated int `json:"deactivated"`
	Deleted     int `json:"deleted"`
	Skips       int `json:"skips"`
	Errors      int `json:"errors"`
}

func encodeRunMaps(run internal.ImportRun) (counts, skips, errs, missing string) {
	c, _ := json.Marshal(runCounts{
		Successes:   run.Successes,
		Inserted:    run.Inserted,
		Updated:     run.Updated,
		Deactivated: run.Deactivated,
		Deleted:     run.Deleted,
		Skips:       run.Skips,
		Errors:      run.Errors,
	})
	s, _ := json.Marshal(nonNil(run.SkipReasons))
	e, _ := json.Marshal(nonNil(run.ErrorReasons))
	m, _ := json.Marshal(nonNil(run.MissingAliases))
	return string(c), string(s), string(e), string(m)
}

func decodeRunMaps(run *internal.ImportRun, counts, skips, errs, missing string) {
	var c runCounts
	_ = json.Unmarshal([]byte(counts), &c)
	run.Successes = c.Successes
	run.Inserted = c.Inserted
	run.Updated = c.Updated
	run.Deactivated = c.Deactivated
	run.Deleted = c.Deleted
	run.Skips = c.Skips
	run.Errors = c.Errors
	_ = json.Unmarshal([]byte(skips), &run.SkipReasons)
	_ = json.Unmarshal([]byte(errs), &run.ErrorReasons)
	_ = json.Unmarshal([]byte(missing), &run.MissingAliases)
}

func nonNil(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
