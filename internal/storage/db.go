package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB is one site's inventory database.
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS reference_entries (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  tableName TEXT NOT NULL,
  abbr TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  aliases TEXT NOT NULL DEFAULT '',
  disabled INTEGER NOT NULL DEFAULT 0,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(tableName, abbr)
);

CREATE TABLE IF NOT EXISTS markups (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  position INTEGER NOT NULL,
  lower TEXT NOT NULL,
  upper TEXT NOT NULL,
  percent TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_markups_kind ON markups(kind, position);

CREATE TABLE IF NOT EXISTS diamonds (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  added TEXT NOT NULL,
  updated TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  source TEXT NOT NULL,
  lot_num TEXT NOT NULL DEFAULT '',
  stock_number TEXT NOT NULL,
  owner TEXT NOT NULL DEFAULT '',
  cut INTEGER,
  cut_grade INTEGER,
  color INTEGER,
  clarity INTEGER,
  carat_weight TEXT NOT NULL,
  cost TEXT NOT NULL,
  carat_price TEXT NOT NULL,
  price TEXT NOT NULL,
  certifier INTEGER,
  cert_num TEXT NOT NULL DEFAULT '',
  cert_image TEXT NOT NULL DEFAULT '',
  cert_image_local TEXT NOT NULL DEFAULT '',
  depth_percent TEXT,
  table_percent TEXT,
  girdle TEXT NOT NULL DEFAULT '',
  culet TEXT NOT NULL DEFAULT '',
  polish INTEGER,
  symmetry INTEGER,
  fluorescence INTEGER,
  fluorescence_color INTEGER,
  fancy_color INTEGER,
  fancy_color_intensity INTEGER,
  fancy_color_overtone INTEGER,
  length TEXT,
  width TEXT,
  depth TEXT,
  comment TEXT NOT NULL DEFAULT '',
  city TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT '',
  country TEXT NOT NULL DEFAULT '',
  manmade INTEGER NOT NULL DEFAULT 0,
  laser_inscribed INTEGER NOT NULL DEFAULT 0,
  rap_date TEXT,
  data TEXT,
  UNIQUE(source, stock_number)
);
CREATE INDEX IF NOT EXISTS idx_diamonds_source ON diamonds(source, active);

CREATE TABLE IF NOT EXISTS import_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  site TEXT NOT NULL,
  source TEXT NOT NULL,
  startedAt TEXT NOT NULL,
  finishedAt TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  skipReasonsJson TEXT NOT NULL,
  errorReasonsJson TEXT NOT NULL,
  missingJson TEXT NOT NULL,
  fatal TEXT NOT NULL DEFAULT '',
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS feed_messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(ctx context.Context, key string) (*string, error) {
	var value string
	err := d.conn.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
