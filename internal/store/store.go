// Package store persists completed bars to sqlite and serves backfill
// queries for the dashboard.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/quantrail/barstream/internal/bars"
)

const schema = `
CREATE TABLE IF NOT EXISTS bars (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instrument_key TEXT NOT NULL,
	bucket_start TEXT NOT NULL,
	open TEXT NOT NULL,
	high TEXT NOT NULL,
	low TEXT NOT NULL,
	close TEXT NOT NULL,
	volume INTEGER NOT NULL,
	UNIQUE(instrument_key, bucket_start)
);
CREATE INDEX IF NOT EXISTS idx_bars_key_bucket ON bars (instrument_key, bucket_start);
`

// BarStore stores one row per (instrument, minute bucket). Prices are kept
// as decimal strings so nothing is lost to float rounding.
type BarStore struct {
	db *sql.DB
}

// Open creates or opens the sqlite database at path and ensures the schema.
// Use ":memory:" for tests.
func Open(path string) (*BarStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open bar store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bar store: %w", err)
	}
	return &BarStore{db: db}, nil
}

// Append upserts a completed bar. Duplicate delivery of the same
// (instrument, bucket) overwrites the row instead of creating another.
func (s *BarStore) Append(b bars.Bar) error {
	_, err := s.db.Exec(`
		INSERT INTO bars (instrument_key, bucket_start, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument_key, bucket_start) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume`,
		b.InstrumentKey, b.BucketStart.UTC().Format(time.RFC3339),
		b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume,
	)
	if err != nil {
		return fmt.Errorf("append bar %s@%s: %w", b.InstrumentKey, b.BucketStart, err)
	}
	return nil
}

// LoadRange returns bars for one instrument with from <= bucket < to, in
// bucket order.
func (s *BarStore) LoadRange(instrumentKey string, from, to time.Time) ([]bars.Bar, error) {
	rows, err := s.db.Query(`
		SELECT instrument_key, bucket_start, open, high, low, close, volume
		FROM bars
		WHERE instrument_key = ? AND bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start`,
		instrumentKey, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("load bars %s: %w", instrumentKey, err)
	}
	defer rows.Close()

	var out []bars.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LoadDay returns every bar of one instrument for a calendar day (UTC).
func (s *BarStore) LoadDay(instrumentKey string, day civil.Date) ([]bars.Bar, error) {
	from := day.In(time.UTC)
	return s.LoadRange(instrumentKey, from, from.AddDate(0, 0, 1))
}

func (s *BarStore) Close() error {
	return s.db.Close()
}

func scanBar(rows *sql.Rows) (bars.Bar, error) {
	var (
		b                       bars.Bar
		bucket                  string
		open, high, low, closeP string
	)
	if err := rows.Scan(&b.InstrumentKey, &bucket, &open, &high, &low, &closeP, &b.Volume); err != nil {
		return bars.Bar{}, fmt.Errorf("scan bar: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, bucket)
	if err != nil {
		return bars.Bar{}, fmt.Errorf("scan bar bucket: %w", err)
	}
	b.BucketStart = ts
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&b.Open, open}, {&b.High, high}, {&b.Low, low}, {&b.Close, closeP},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return bars.Bar{}, fmt.Errorf("scan bar price: %w", err)
		}
		*f.dst = d
	}
	return b, nil
}
