package storage

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gemfeed/internal"
	"gemfeed/internal/sink"
)

var boolColumns = map[string]bool{"active": true, "manmade": true, "laser_inscribed": true}

func (d *DB) ExistingStockNumbers(ctx context.Context, source string) (map[string]struct{}, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT stock_number FROM diamonds WHERE source = ?`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var stock string
		if err := rows.Scan(&stock); err != nil {
			return nil, err
		}
		out[stock] = struct{}{}
	}
	return out, rows.Err()
}

// LoadSpool inserts every spool line in one transaction.
func (d *DB) LoadSpool(ctx context.Context, spool io.Reader) (int64, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sink.Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO diamonds (%s) VALUES (%s) ON CONFLICT(source, stock_number) DO NOTHING`,
		strings.Join(sink.Columns, ", "), placeholders,
	))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	scanner := bufio.NewScanner(spool)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var loaded int64
	for scanner.Scan() {
		values := sink.DecodeLine(scanner.Text())
		if len(values) != len(sink.Columns) {
			return loaded, fmt.Errorf("spool line %d: %d values for %d columns", loaded+1, len(values), len(sink.Columns))
		}
		args := make([]any, len(values))
		for i, v := range values {
			switch {
			case v == nil:
				args[i] = nil
			case boolColumns[sink.Columns[i]]:
				args[i] = boolInt(*v == "t")
			default:
				args[i] = *v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return loaded, err
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, err
	}
	return loaded, tx.Commit()
}

// UpdateDiamonds refreshes active, price, carat_price, data and certifier.
// A nil certifier keeps the stored value.
func (d *DB) UpdateDiamonds(ctx context.Context, source string, updates []internal.DiamondUpdate) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
UPDATE diamonds SET
  active = ?,
  price = ?,
  carat_price = ?,
  data = ?,
  certifier = COALESCE(?, certifier),
  updated = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE source = ? AND stock_number = ?
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		var data any
		if len(u.Data) > 0 {
			blob, err := json.Marshal(u.Data)
			if err != nil {
				return err
			}
			data = string(blob)
		}
		var certifier any
		if u.Certifier != nil {
			certifier = *u.Certifier
		}
		if _, err := stmt.ExecContext(ctx, boolInt(u.Active), u.Price.StringFixed(2), u.CaratPrice.StringFixed(2), data, certifier, source, u.StockNumber); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) DeactivateMissing(ctx context.Context, source string, seen map[string]struct{}) (int64, error) {
	existing, err := d.ExistingStockNumbers(ctx, source)
	if err != nil {
		return 0, err
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE diamonds SET active = 0 WHERE source = ? AND stock_number = ? AND active = 1`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var total int64
	for stock := range existing {
		if _, ok := seen[stock]; ok {
			continue
		}
		res, err := stmt.ExecContext(ctx, source, stock)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, tx.Commit()
}

// DeleteSource removes every listing a backend ever loaded.
func (d *DB) DeleteSource(ctx context.Context, source string) (int64, error) {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM diamonds WHERE source = ?`, source)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) CountDiamonds(ctx context.Context, source string) (int, error) {
	var n int
	err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM diamonds WHERE source = ?`, source).Scan(&n)
	return n, err
}

// StoredDiamond is the subset of a listing read back for reports and checks.
type StoredDiamond struct {
	StockNumber string
	Active      bool
	Price       string
	CaratPrice  string
	Cost        string
	Culet       string
	Certifier   *int64
	Data        *string
}

func (d *DB) GetDiamond(ctx context.Context, source, stock string) (*StoredDiamond, error) {
	var out StoredDiamond
	var active int
	var certifier sql.NullInt64
	var data sql.NullString
	err := d.conn.QueryRowContext(ctx, `
SELECT stock_number, active, price, carat_price, cost, culet, certifier, data
FROM diamonds WHERE source = ? AND stock_number = ?
`, source, stock).Scan(&out.StockNumber, &active, &out.Price, &out.CaratPrice, &out.Cost, &out.Culet, &certifier, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out.Active = active != 0
	if certifier.Valid {
		out.Certifier = &certifier.Int64
	}
	if data.Valid {
		out.Data = &data.String
	}
	return &out, nil
}
