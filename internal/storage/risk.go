package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// Blacklist is an in-memory set of banned tokens backed by the blacklist table.
// Construct it once at startup and share it.
type Blacklist struct {
	db  *DB
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewBlacklist loads the persisted blacklist
func NewBlacklist(ctx context.Context, db *DB) (*Blacklist, error) {
	rows, err := db.db.QueryContext(ctx, "SELECT ca FROM blacklist")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	b := &Blacklist{db: db, set: make(map[string]struct{})}
	for rows.Next() {
		var ca string
		if err := rows.Scan(&ca); err != nil {
			return nil, err
		}
		b.set[ca] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Info().Int("tokens", len(b.set)).Msg("blacklist loaded")
	return b, nil
}

// IsBlacklisted reports whether ca is banned
func (b *Blacklist) IsBlacklisted(ca string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.set[ca]
	return ok
}

// Add bans ca
func (b *Blacklist) Add(ctx context.Context, ca, reason string) error {
	_, err := b.db.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO blacklist (ca, reason, added_at) VALUES (?, ?, ?)",
		ca, reason, b.db.now().Unix())
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.set[ca] = struct{}{}
	b.mu.Unlock()
	return nil
}

// Remove lifts a ban
func (b *Blacklist) Remove(ctx context.Context, ca string) error {
	if _, err := b.db.db.ExecContext(ctx, "DELETE FROM blacklist WHERE ca = ?", ca); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.set, ca)
	b.mu.Unlock()
	return nil
}

// DailyStats is the realized result of one UTC day
type DailyStats struct {
	Day         string
	TotalLoss   float64
	TotalProfit float64
	Trades      int
}

// NetLoss is loss minus profit; negative on a winning day
func (s DailyStats) NetLoss() float64 {
	return s.TotalLoss - s.TotalProfit
}

// Today returns the current day's stats, zero when nothing was sold yet
func (d *DB) Today(ctx context.Context) (DailyStats, error) {
	s := DailyStats{Day: d.day(d.now())}
	err := d.db.QueryRowContext(ctx,
		"SELECT total_loss, total_profit, trades FROM daily_stats WHERE day = ?", s.Day).
		Scan(&s.TotalLoss, &s.TotalProfit, &s.Trades)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s, err
	}
	return s, nil
}

// LossGuard answers whether today's net loss reached the limit.
// A limit of zero disables the check.
type LossGuard struct {
	db       *DB
	limitSol func() float64
}

// NewLossGuard reads the limit through fn so config reloads apply
func NewLossGuard(db *DB, limitSol func() float64) *LossGuard {
	return &LossGuard{db: db, limitSol: limitSol}
}

// DailyLossLimitReached reports whether new buys must stop for today
func (g *LossGuard) DailyLossLimitReached(ctx context.Context) (bool, error) {
	limit := g.limitSol()
	if limit <= 0 {
		return false, nil
	}
	s, err := g.db.Today(ctx)
	if err != nil {
		return false, err
	}
	return s.NetLoss() >= limit, nil
}
