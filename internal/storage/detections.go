package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RecordDetection stores the first sighting of a token. Later sightings
// keep the original reference price.
func (d *DB) RecordDetection(ctx context.Context, ca, symbol string, score int, initialPrice float64, latency time.Duration) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO detected_tokens (ca, symbol, score, initial_price, detection_latency_sec, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ca, symbol, score, initialPrice, latency.Seconds(), d.now().Unix())
	return err
}

// MarkBought flags a detected token as traded
func (d *DB) MarkBought(ctx context.Context, ca string) error {
	_, err := d.db.ExecContext(ctx, "UPDATE detected_tokens SET bought = 1 WHERE ca = ?", ca)
	return err
}

// InitialPrice returns the signal-time reference price of a token.
// ok is false when the token was never detected or had no price.
func (d *DB) InitialPrice(ctx context.Context, ca string) (price float64, ok bool, err error) {
	err = d.db.QueryRowContext(ctx, "SELECT initial_price FROM detected_tokens WHERE ca = ?", ca).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return price, price > 0, nil
}
