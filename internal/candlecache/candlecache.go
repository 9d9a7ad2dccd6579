// Package candlecache provides a sqlite-backed store of per-symbol M1
// candles, used to seed a fresh processor's market profile without a
// live upstream connection (seed_from_history) and to drive the
// fixture-replay tool deterministically.
//
// Grounded on the teacher's database.DB/repository split:
// internal/database/db.go's sql.Open("sqlite", ...) WAL-mode wrapper,
// and internal/database/repositories/base.go's BaseRepository-over-
// *sql.DB shape, adapted to a single purpose-built repository instead
// of the teacher's generic base.
package candlecache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"

	"github.com/aristath/visualrange-engine/internal/marketprofile"
)

const schema = `
CREATE TABLE IF NOT EXISTS m1_candles (
	symbol       TEXT    NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	open         REAL    NOT NULL,
	high         REAL    NOT NULL,
	low          REAL    NOT NULL,
	close        REAL    NOT NULL,
	volume       REAL    NOT NULL,
	PRIMARY KEY (symbol, timestamp_ms)
);
`

// Store wraps a sqlite-backed cache of M1 candles, one row per
// symbol/minute.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the sqlite database at path in WAL mode and
// ensures the schema exists.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("candlecache: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("candlecache: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("candlecache: ping: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("candlecache: migrate: %w", err)
	}

	return &Store{db: db, log: log.With().Str("component", "candlecache").Logger()}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Put upserts one M1 candle for symbol.
func (s *Store) Put(symbol string, c marketprofile.Candle) error {
	_, err := s.db.Exec(`
		INSERT INTO m1_candles (symbol, timestamp_ms, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timestamp_ms) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume
	`, symbol, c.TimestampMs, c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("candlecache: put %s: %w", symbol, err)
	}
	return nil
}

// PutBatch upserts many candles for symbol inside a single transaction.
func (s *Store) PutBatch(symbol string, candles []marketprofile.Candle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("candlecache: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO m1_candles (symbol, timestamp_ms, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timestamp_ms) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume
	`)
	if err != nil {
		return fmt.Errorf("candlecache: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(symbol, c.TimestampMs, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("candlecache: exec: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit candles for symbol, oldest first, ending
// at the most recently cached minute — the shape seed_from_history
// expects.
func (s *Store) Recent(symbol string, limit int) ([]marketprofile.Candle, error) {
	rows, err := s.db.Query(`
		SELECT timestamp_ms, open, high, low, close, volume
		FROM m1_candles
		WHERE symbol = ?
		ORDER BY timestamp_ms DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("candlecache: query recent %s: %w", symbol, err)
	}
	defer rows.Close()

	var reversed []marketprofile.Candle
	for rows.Next() {
		var c marketprofile.Candle
		if err := rows.Scan(&c.TimestampMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("candlecache: scan %s: %w", symbol, err)
		}
		reversed = append(reversed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candlecache: iterate %s: %w", symbol, err)
	}

	candles := make([]marketprofile.Candle, len(reversed))
	for i, c := range reversed {
		candles[len(reversed)-1-i] = c
	}
	return candles, nil
}

// Symbols returns every distinct symbol with at least one cached
// candle, sorted by symbol.
func (s *Store) Symbols() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT symbol FROM m1_candles ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("candlecache: query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("candlecache: scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}
