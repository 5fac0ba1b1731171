// Package pgstore keeps a site's inventory in its own Postgres schema.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool   *pgxpool.Pool
	schema string
}

// Open connects to dsn and makes sure the site schema and its tables exist.
func Open(ctx context.Context, dsn string, maxConns int, schema string) (*Store, error) {
	if strings.TrimSpace(schema) == "" {
		return nil, errors.New("pgstore: schema is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("PG_DSN parse: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("PG connect: %w", err)
	}
	s := &Store{pool: pool, schema: schema}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + s.table("reference_entries") + ` (
  id BIGSERIAL PRIMARY KEY,
  table_name TEXT NOT NULL,
  abbr TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  aliases TEXT NOT NULL DEFAULT '',
  disabled BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(table_name, abbr)
)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("markups") + ` (
  id BIGSERIAL PRIMARY KEY,
  kind TEXT NOT NULL,
  position INTEGER NOT NULL,
  lower NUMERIC(14,2) NOT NULL,
  upper NUMERIC(14,2) NOT NULL,
  percent NUMERIC(8,2) NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("diamonds") + ` (
  id BIGSERIAL PRIMARY KEY,
  added TIMESTAMPTZ NOT NULL,
  updated TIMESTAMPTZ NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  source TEXT NOT NULL,
  lot_num TEXT NOT NULL DEFAULT '',
  stock_number TEXT NOT NULL,
  owner TEXT NOT NULL DEFAULT '',
  cut BIGINT,
  cut_grade BIGINT,
  color BIGINT,
  clarity BIGINT,
  carat_weight NUMERIC(8,3) NOT NULL,
  cost NUMERIC(14,2) NOT NULL,
  carat_price NUMERIC(14,2) NOT NULL,
  price NUMERIC(14,2) NOT NULL,
  certifier BIGINT,
  cert_num TEXT NOT NULL DEFAULT '',
  cert_image TEXT NOT NULL DEFAULT '',
  cert_image_local TEXT NOT NULL DEFAULT '',
  depth_percent NUMERIC(6,2),
  table_percent NUMERIC(6,2),
  girdle TEXT NOT NULL DEFAULT '',
  culet TEXT NOT NULL DEFAULT '',
  polish BIGINT,
  symmetry BIGINT,
  fluorescence BIGINT,
  fluorescence_color BIGINT,
  fancy_color BIGINT,
  fancy_color_intensity BIGINT,
  fancy_color_overtone BIGINT,
  length NUMERIC(6,2),
  width NUMERIC(6,2),
  depth NUMERIC(6,2),
  comment TEXT NOT NULL DEFAULT '',
  city TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT '',
  country TEXT NOT NULL DEFAULT '',
  manmade BOOLEAN NOT NULL DEFAULT FALSE,
  laser_inscribed BOOLEAN NOT NULL DEFAULT FALSE,
  rap_date TIMESTAMPTZ,
  data JSONB,
  UNIQUE(source, stock_number)
)`,
		`CREATE INDEX IF NOT EXISTS diamonds_source_active_idx ON ` + s.table("diamonds") + ` (source, active)`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("import_runs") + ` (
  id BIGSERIAL PRIMARY KEY,
  run_id UUID NOT NULL,
  site TEXT NOT NULL,
  source TEXT NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL,
  counts JSONB NOT NULL,
  skip_reasons JSONB NOT NULL,
  error_reasons JSONB NOT NULL,
  missing_aliases JSONB NOT NULL,
  fatal TEXT NOT NULL DEFAULT ''
)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore init %s: %w", s.schema, err)
		}
	}
	return nil
}
