// Package report writes import run statistics to a workbook operators can
// open directly.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"gemfeed/internal"
)

const (
	runsSheet    = "runs"
	reasonsSheet = "reasons"
)

var runHeaders = []string{
	"run_id", "site", "source", "started", "finished", "seconds",
	"successes", "inserted", "updated", "deactivated", "deleted", "skips", "errors", "fatal",
}

var reasonHeaders = []string{"run_id", "site", "source", "kind", "reason", "count"}

// WriteRuns writes one row per run and a second sheet breaking down skip
// reasons, error reasons and missing aliases.
func WriteRuns(runs []internal.ImportRun, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), runsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(reasonsSheet); err != nil {
		return err
	}

	writeHeader(f, runsSheet, runHeaders)
	writeHeader(f, reasonsSheet, reasonHeaders)

	reasonRow := 2
	for i, run := range runs {
		r := i + 2
		values := []any{
			run.RunID, run.Site, run.Source, stamp(run.Started), stamp(run.Finished),
			seconds(run.Started, run.Finished),
			run.Successes, run.Inserted, run.Updated, run.Deactivated, run.Deleted, run.Skips, run.Errors, run.Fatal,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, r)
			_ = f.SetCellValue(runsSheet, cell, v)
		}

		for _, group := range []struct {
			kind   string
			counts map[string]int
		}{
			{"skip", run.SkipReasons},
			{"error", run.ErrorReasons},
			{"missing", run.MissingAliases},
		} {
			for _, key := range sortedKeys(group.counts) {
				row := []any{run.RunID, run.Site, run.Source, group.kind, key, group.counts[key]}
				for col, v := range row {
					cell, _ := excelize.CoordinatesToCellName(col+1, reasonRow)
					_ = f.SetCellValue(reasonsSheet, cell, v)
				}
				reasonRow++
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("save %s: %w", outputPath, err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func seconds(start, end time.Time) any {
	if start.IsZero() || end.IsZero() {
		return ""
	}
	return end.Sub(start).Seconds()
}

// sortedKeys orders by count descending, then key.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
