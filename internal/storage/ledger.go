package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ActiveTrade is an open position as last reported to the ledger
type ActiveTrade struct {
	CA               string
	Symbol           string
	Score            int
	EntryPrice       float64
	AmountSol        float64
	TxID             string
	BoughtAt         time.Time
	CurrentPrice     float64
	RemainingPercent float64
	ExecutedRungs    []float64
	UpdatedAt        time.Time
}

// Sale describes how a position was closed
type Sale struct {
	FinalPrice   float64
	SoldPercent  float64
	Reason       string
	TimeToPeak   *time.Duration // nil when the position never rose
	TimeToSell   time.Duration
	PeakMultiple float64
	// RealizedSol is the SOL received across every sell of the position.
	// Zero means unknown and the P/L is estimated from prices.
	RealizedSol float64
}

// SoldTrade is a closed position
type SoldTrade struct {
	ID           string
	CA           string
	Symbol       string
	Score        int
	EntryPrice   float64
	AmountSol    float64
	BuyTxID      string
	BoughtAt     time.Time
	FinalPrice   float64
	SoldPercent  float64
	Reason       string
	TimeToPeak   *time.Duration
	TimeToSell   time.Duration
	PeakMultiple float64
	RealizedSol  float64
	PnLSol       float64
	SoldAt       time.Time
}

// LogBought records a confirmed buy as an active trade
func (d *DB) LogBought(ctx context.Context, symbol, ca string, entryPrice, amountSol float64, score int, txID string) error {
	now := d.now().Unix()
	_, err := d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO active_trades
		(ca, symbol, score, entry_price, amount_sol, tx_id, bought_at, current_price, remaining_percent, executed_rungs, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 100, '[]', ?)`,
		ca, symbol, score, entryPrice, amountSol, txID, now, entryPrice, now)
	return err
}

// LogUpdated stores the latest monitor observation for an active trade
func (d *DB) LogUpdated(ctx context.Context, ca string, currentPrice, remainingPercent float64, executedRungs []float64) error {
	if executedRungs == nil {
		executedRungs = []float64{}
	}
	rungs, err := json.Marshal(executedRungs)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE active_trades
		SET current_price = ?, remaining_percent = ?, executed_rungs = ?, updated_at = ?
		WHERE ca = ?`,
		currentPrice, remainingPercent, string(rungs), d.now().Unix(), ca)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("active trade %s: %w", ca, ErrNotFound)
	}
	return nil
}

// LogSold moves an active trade to the sold history and books its P/L
// against the current day, in one transaction.
func (d *DB) LogSold(ctx context.Context, ca string, sale Sale) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var active ActiveTrade
	var boughtAt int64
	err = tx.QueryRowContext(ctx, `
		SELECT symbol, score, entry_price, amount_sol, tx_id, bought_at
		FROM active_trades WHERE ca = ?`, ca).Scan(
		&active.Symbol, &active.Score, &active.EntryPrice, &active.AmountSol, &active.TxID, &boughtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("active trade %s: %w", ca, ErrNotFound)
	}
	if err != nil {
		return err
	}

	pnl := profitLoss(active.AmountSol, active.EntryPrice, sale)
	now := d.now()

	var ttp interface{}
	if sale.TimeToPeak != nil {
		ttp = sale.TimeToPeak.Seconds()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sold_trades
		(id, ca, symbol, score, entry_price, amount_sol, buy_tx_id, bought_at, final_price, sold_percent,
		 reason, time_to_peak_sec, time_to_sell_sec, peak_multiple, realized_sol, pnl_sol, sold_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ca, active.Symbol, active.Score, active.EntryPrice, active.AmountSol, active.TxID, boughtAt,
		sale.FinalPrice, sale.SoldPercent, sale.Reason, ttp, sale.TimeToSell.Seconds(), sale.PeakMultiple,
		sale.RealizedSol, pnl, now.Unix())
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM active_trades WHERE ca = ?", ca); err != nil {
		return err
	}

	loss, profit := 0.0, 0.0
	if pnl < 0 {
		loss = -pnl
	} else {
		profit = pnl
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_stats (day, total_loss, total_profit, trades) VALUES (?, ?, ?, 1)
		ON CONFLICT(day) DO UPDATE SET
			total_loss = total_loss + excluded.total_loss,
			total_profit = total_profit + excluded.total_profit,
			trades = trades + 1`,
		d.day(now), loss, profit)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Info().
		Str("ca", ca).
		Str("symbol", active.Symbol).
		Str("reason", sale.Reason).
		Float64("pnlSol", pnl).
		Msg("trade moved to history")
	return nil
}

// profitLoss prefers the realized SOL; without it the sold fraction is
// valued at the final price multiple.
func profitLoss(amountSol, entryPrice float64, sale Sale) float64 {
	spent := decimal.NewFromFloat(amountSol)
	if sale.RealizedSol > 0 {
		return decimal.NewFromFloat(sale.RealizedSol).Sub(spent).Round(9).InexactFloat64()
	}
	if entryPrice <= 0 {
		return 0
	}
	multiple := decimal.NewFromFloat(sale.FinalPrice).Div(decimal.NewFromFloat(entryPrice))
	fraction := decimal.NewFromFloat(sale.SoldPercent).Div(decimal.NewFromInt(100))
	return spent.Mul(fraction).Mul(multiple.Sub(decimal.NewFromInt(1))).Round(9).InexactFloat64()
}

// ActiveTrades lists trades that were bought and not yet sold
func (d *DB) ActiveTrades(ctx context.Context) ([]*ActiveTrade, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT ca, symbol, score, entry_price, amount_sol, tx_id, bought_at,
		       current_price, remaining_percent, executed_rungs, updated_at
		FROM active_trades ORDER BY bought_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ActiveTrade
	for rows.Next() {
		var t ActiveTrade
		var bought, updated int64
		var rungs string
		if err := rows.Scan(&t.CA, &t.Symbol, &t.Score, &t.EntryPrice, &t.AmountSol, &t.TxID, &bought,
			&t.CurrentPrice, &t.RemainingPercent, &rungs, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rungs), &t.ExecutedRungs); err != nil {
			log.Warn().Err(err).Str("ca", t.CA).Msg("bad executed_rungs column")
		}
		t.BoughtAt = time.Unix(bought, 0)
		t.UpdatedAt = time.Unix(updated, 0)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// RecentSold retrieves the most recent closed trades
func (d *DB) RecentSold(ctx context.Context, limit int) ([]*SoldTrade, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, ca, symbol, score, entry_price, amount_sol, buy_tx_id, bought_at, final_price, sold_percent,
		       reason, time_to_peak_sec, time_to_sell_sec, peak_multiple, realized_sol, pnl_sol, sold_at
		FROM sold_trades ORDER BY sold_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SoldTrade
	for rows.Next() {
		var t SoldTrade
		var bought, sold int64
		var ttp sql.NullFloat64
		var tts float64
		if err := rows.Scan(&t.ID, &t.CA, &t.Symbol, &t.Score, &t.EntryPrice, &t.AmountSol, &t.BuyTxID, &bought,
			&t.FinalPrice, &t.SoldPercent, &t.Reason, &ttp, &tts, &t.PeakMultiple, &t.RealizedSol, &t.PnLSol, &sold); err != nil {
			return nil, err
		}
		if ttp.Valid {
			peak := time.Duration(ttp.Float64 * float64(time.Second))
			t.TimeToPeak = &peak
		}
		t.TimeToSell = time.Duration(tts * float64(time.Second))
		t.BoughtAt = time.Unix(bought, 0)
		t.SoldAt = time.Unix(sold, 0)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// GetTradingStats returns aggregate stats over closed trades
func (d *DB) GetTradingStats(ctx context.Context) (totalTrades int, winRate float64, totalPnL float64, err error) {
	var wins sql.NullInt64
	err = d.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN pnl_sol > 0 THEN 1 ELSE 0 END),
			COALESCE(SUM(pnl_sol), 0)
		FROM sold_trades`).Scan(&totalTrades, &wins, &totalPnL)
	if err != nil {
		return
	}
	if totalTrades > 0 {
		winRate = float64(wins.Int64) / float64(totalTrades) * 100
	}
	return
}
