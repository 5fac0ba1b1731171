package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gemfeed/internal"
)

const (
	markupStandard = "standard"
	markupLab      = "lab"
)

func (d *DB) LoadReferenceTables(ctx context.Context) (map[string][]internal.ReferenceEntry, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, tableName, abbr, name, aliases, disabled
FROM reference_entries ORDER BY tableName, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]internal.ReferenceEntry{}
	for rows.Next() {
		var e internal.ReferenceEntry
		var table string
		var disabled int
		if err := rows.Scan(&e.ID, &table, &e.Abbr, &e.Name, &e.Aliases, &disabled); err != nil {
			return nil, err
		}
		e.Disabled = disabled != 0
		out[table] = append(out[table], e)
	}
	return out, rows.Err()
}

// UpsertReferenceEntries seeds a reference table keyed by abbreviation.
func (d *DB) UpsertReferenceEntries(ctx context.Context, table string, entries []internal.ReferenceEntry) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO reference_entries (tableName, abbr, name, aliases, disabled)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(tableName, abbr) DO UPDATE SET
  name=excluded.name,
  aliases=excluded.aliases,
  disabled=excluded.disabled
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		abbr := strings.ToUpper(strings.TrimSpace(e.Abbr))
		if abbr == "" {
			abbr = strings.ToUpper(strings.TrimSpace(e.Name))
		}
		if abbr == "" {
			return fmt.Errorf("%s entry without abbr or name", table)
		}
		if _, err := stmt.ExecContext(ctx, table, abbr, e.Name, e.Aliases, boolInt(e.Disabled)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateCertifier registers a certifier seen in a feed. Calling it twice
// with the same name returns the same id.
func (d *DB) CreateCertifier(ctx context.Context, name string) (int64, error) {
	if _, err := d.conn.ExecContext(ctx, `
INSERT INTO reference_entries (tableName, abbr, name) VALUES (?, ?, ?)
ON CONFLICT(tableName, abbr) DO NOTHING
`, internal.TableCertifier, name, name); err != nil {
		return 0, err
	}
	var id int64
	err := d.conn.QueryRowContext(ctx, `SELECT id FROM reference_entries WHERE tableName = ? AND abbr = ?`, internal.TableCertifier, name).Scan(&id)
	return id, err
}

func (d *DB) ReplaceMarkups(ctx context.Context, standard, lab []internal.MarkupBand) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM markups`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO markups (kind, position, lower, upper, percent) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for kind, bands := range map[string][]internal.MarkupBand{markupStandard: standard, markupLab: lab} {
		for i, b := range bands {
			if _, err := stmt.ExecContext(ctx, kind, i, b.Lower.String(), b.Upper.String(), b.Percent.String()); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// LoadMarkups returns both band lists in persisted order.
func (d *DB) LoadMarkups(ctx context.Context) ([]internal.MarkupBand, []internal.MarkupBand, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT kind, lower, upper, percent FROM markups ORDER BY kind, position`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	return scanMarkups(rows)
}

func scanMarkups(rows *sql.Rows) ([]internal.MarkupBand, []internal.MarkupBand, error) {
	var standard, lab []internal.MarkupBand
	for rows.Next() {
		var kind, lower, upper, pct string
		if err := rows.Scan(&kind, &lower, &upper, &pct); err != nil {
			return nil, nil, err
		}
		band, err := parseBand(lower, upper, pct)
		if err != nil {
			return nil, nil, err
		}
		if kind == markupLab {
			lab = append(lab, band)
		} else {
			standard = append(standard, band)
		}
	}
	return standard, lab, rows.Err()
}

func parseBand(lower, upper, pct string) (internal.MarkupBand, error) {
	l, err := decimal.NewFromString(lower)
	if err != nil {
		return internal.MarkupBand{}, fmt.Errorf("markup lower %q: %w", lower, err)
	}
	u, err := decimal.NewFromString(upper)
	if err != nil {
		return internal.MarkupBand{}, fmt.Errorf("markup upper %q: %w", upper, err)
	}
	p, err := decimal.NewFromString(pct)
	if err != nil {
		return internal.MarkupBand{}, fmt.Errorf("markup percent %q: %w", pct, err)
	}
	return internal.MarkupBand{Lower: l, Upper: u, Percent: p}, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
