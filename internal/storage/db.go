package storage

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed row does not exist
var ErrNotFound = errors.New("not found")

// DB wraps SQLite database
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// NewDB creates a new database connection
func NewDB(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db, now: time.Now}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS active_trades (
		ca TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		score INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		amount_sol REAL NOT NULL,
		tx_id TEXT NOT NULL,
		bought_at INTEGER NOT NULL,
		current_price REAL NOT NULL DEFAULT 0,
		remaining_percent REAL NOT NULL DEFAULT 100,
		executed_rungs TEXT NOT NULL DEFAULT '[]',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sold_trades (
		id TEXT PRIMARY KEY,
		ca TEXT NOT NULL,
		symbol TEXT NOT NULL,
		score INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		amount_sol REAL NOT NULL,
		buy_tx_id TEXT NOT NULL,
		bought_at INTEGER NOT NULL,
		final_price REAL NOT NULL,
		sold_percent REAL NOT NULL,
		reason TEXT NOT NULL,
		time_to_peak_sec REAL,
		time_to_sell_sec REAL NOT NULL,
		peak_multiple REAL NOT NULL,
		realized_sol REAL NOT NULL,
		pnl_sol REAL NOT NULL,
		sold_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS detected_tokens (
		ca TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		score INTEGER NOT NULL,
		initial_price REAL NOT NULL,
		detection_latency_sec REAL NOT NULL,
		detected_at INTEGER NOT NULL,
		bought INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS blacklist (
		ca TEXT PRIMARY KEY,
		reason TEXT NOT NULL DEFAULT '',
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_stats (
		day TEXT PRIMARY KEY,
		total_loss REAL NOT NULL DEFAULT 0,
		total_profit REAL NOT NULL DEFAULT 0,
		trades INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sold_trades_sold_at ON sold_trades(sold_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
