package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"

	"gemfeed/internal"
	"gemfeed/internal/sink"
)

const updateBatch = 200

func (s *Store) ExistingStockNumbers(ctx context.Context, source string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT stock_number FROM `+s.table("diamonds")+` WHERE source = $1`, source)
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

// LoadSpool copies the spool into a transaction-scoped staging table in
// text format, then moves new stock numbers into diamonds.
func (s *Store) LoadSpool(ctx context.Context, spool io.Reader) (int64, error) {
	cols := strings.Join(sink.Columns, ", ")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `CREATE TEMP TABLE diamonds_spool ON COMMIT DROP AS SELECT `+cols+` FROM `+s.table("diamonds")+` WITH NO DATA`); err != nil {
		return 0, fmt.Errorf("create spool table: %w", err)
	}
	copySQL := fmt.Sprintf(`COPY diamonds_spool (%s) FROM STDIN WITH (FORMAT text, NULL '%s')`, cols, sink.Null)
	if _, err := tx.Conn().PgConn().CopyFrom(ctx, spool, copySQL); err != nil {
		return 0, fmt.Errorf("copy spool: %w", err)
	}
	tag, err := tx.Exec(ctx, `INSERT INTO `+s.table("diamonds")+` (`+cols+`) SELECT `+cols+` FROM diamonds_spool ON CONFLICT (source, stock_number) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("move spool: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdateDiamonds sends the updates in batches. A nil certifier keeps the
// stored value.
func (s *Store) UpdateDiamonds(ctx context.Context, source string, updates []internal.DiamondUpdate) error {
	stmt := `UPDATE ` + s.table("diamonds") + ` SET
  active = $1, price = $2::text::numeric, carat_price = $3::text::numeric, data = $4::text::jsonb,
  certifier = COALESCE($5::bigint, certifier), updated = now()
WHERE source = $6 AND stock_number = $7`

	for i := 0; i < len(updates); i += updateBatch {
		j := i + updateBatch
		if j > len(updates) {
			j = len(updates)
		}
		b := &pgx.Batch{}
		for _, u := range updates[i:j] {
			var data any
			if len(u.Data) > 0 {
				blob, err := json.Marshal(u.Data)
				if err != nil {
					return err
				}
				data = string(blob)
			}
			b.Queue(stmt, u.Active, u.Price.StringFixed(2), u.CaratPrice.StringFixed(2), data, u.Certifier, source, u.StockNumber)
		}
		br := s.pool.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeactivateMissing(ctx context.Context, source string, seen map[string]struct{}) (int64, error) {
	stocks := make([]string, 0, len(seen))
	for stock := range seen {
		stocks = append(stocks, stock)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE `+s.table("diamonds")+` SET active = FALSE
WHERE source = $1 AND active AND NOT (stock_number = ANY($2::text[]))`, source, stocks)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteSource(ctx context.Context, source string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("diamonds")+` WHERE source = $1`, source)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
