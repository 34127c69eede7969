package trading

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"solana-tp-bot/internal/blockchain"
	"solana-tp-bot/internal/config"
	"solana-tp-bot/internal/storage"
	"solana-tp-bot/internal/swap"
)

const (
	// entry prices below this are treated as bad data
	minEntryPrice = 1e-8
	// multiples above this are treated as bad data
	maxPlausibleMultiple = 1000.0

	ReasonStopLoss   = "stop_loss_time"
	ReasonTakeProfit = "take_profit"
)

// PriceSource returns a USD price, ok=false when no provider answered
type PriceSource interface {
	GetPrice(ctx context.Context, mint string) (float64, bool)
}

// Seller sells raw token amounts for SOL
type Seller interface {
	Sell(ctx context.Context, mint string, amount uint64) (*swap.Result, error)
}

// Ledger records the trade lifecycle
type Ledger interface {
	LogBought(ctx context.Context, symbol, ca string, entryPrice, amountSol float64, score int, txID string) error
	LogUpdated(ctx context.Context, ca string, currentPrice, remainingPercent float64, executedRungs []float64) error
	LogSold(ctx context.Context, ca string, sale storage.Sale) error
}

// DetectionHistory knows the price a token had when it was first detected
type DetectionHistory interface {
	InitialPrice(ctx context.Context, ca string) (float64, bool, error)
}

// StopLossPolicy liquidates positions that stayed flat or fell below the
// floor once TimeWindow has passed since the buy.
type StopLossPolicy struct {
	TimeWindow          time.Duration
	NeverMovedThreshold float64
	MinMultipleFloor    float64
}

func DefaultStopLoss() StopLossPolicy {
	return StopLossPolicy{
		TimeWindow:          5 * time.Minute,
		NeverMovedThreshold: 1.1,
		MinMultipleFloor:    1.0,
	}
}

// StopLossFrom fills unset fields from DefaultStopLoss
func StopLossFrom(c config.StopLossConfig) StopLossPolicy {
	p := DefaultStopLoss()
	if c.TimeWindowMinutes > 0 {
		p.TimeWindow = time.Duration(c.TimeWindowMinutes) * time.Minute
	}
	if c.NeverMovedThreshold > 0 {
		p.NeverMovedThreshold = c.NeverMovedThreshold
	}
	if c.MinMultipleFloor > 0 {
		p.MinMultipleFloor = c.MinMultipleFloor
	}
	return p
}

// triggered keeps both conditions: no momentum, or an active drawdown
func (s StopLossPolicy) triggered(held time.Duration, maxMultiple, multiple float64) (bool, string) {
	if held < s.TimeWindow {
		return false, ""
	}
	if maxMultiple < s.NeverMovedThreshold {
		return true, "never moved"
	}
	if multiple < s.MinMultipleFloor {
		return true, "below floor"
	}
	return false, ""
}

// MonitorState is where a monitor is within its tick
type MonitorState int32

const (
	StateActive MonitorState = iota
	StateEvaluating
	StateSellInFlight
	StateClosed
)

func (s MonitorState) String() string {
	switch s {
	case StateEvaluating:
		return "evaluating"
	case StateSellInFlight:
		return "sell_in_flight"
	case StateClosed:
		return "closed"
	}
	return "active"
}

// Monitor drives one position: one tick at a time, it polls the price and
// applies the stop-loss and take-profit ladder. It mutates only its own
// position.
type Monitor struct {
	pos      *Position
	prices   PriceSource
	seller   Seller
	ledger   Ledger
	history  DetectionHistory
	stopLoss func() StopLossPolicy
	interval time.Duration
	now      func() time.Time

	state         atomic.Int32
	invalidSkips  int
	implausible   int
	stopLossFails int
}

func newMonitor(pos *Position, d Deps) *Monitor {
	return &Monitor{
		pos:      pos,
		prices:   d.Prices,
		seller:   d.Seller,
		ledger:   d.Ledger,
		history:  d.History,
		stopLoss: d.StopLoss,
		interval: d.Tick,
		now:      d.Now,
	}
}

// State returns the current monitor state
func (m *Monitor) State() MonitorState {
	return MonitorState(m.state.Load())
}

func (m *Monitor) setState(s MonitorState) {
	m.state.Store(int32(s))
}

// Run ticks until the position closes or ctx is cancelled. Cancellation is
// only observed between ticks.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Debug().Str("symbol", m.pos.Symbol).Str("ca", m.pos.ContractAddress).Msg("monitor started")
	for {
		if ctx.Err() != nil {
			log.Debug().Str("symbol", m.pos.Symbol).Msg("monitor cancelled")
			return
		}
		if m.tick(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			log.Debug().Str("symbol", m.pos.Symbol).Msg("monitor cancelled")
			return
		case <-ticker.C:
		}
	}
}

// tick runs one evaluation and reports whether the position closed
func (m *Monitor) tick(ctx context.Context) bool {
	p := m.pos
	ca := p.ContractAddress

	price, ok := m.prices.GetPrice(ctx, ca)
	if !ok || price <= 0 {
		mtxTicks.WithLabelValues("no_price").Inc()
		log.Debug().Str("symbol", p.Symbol).Msg("no price, skipping tick")
		return false
	}
	now := m.now()
	p.SetLastPrice(price, now)

	entry := p.EntryPrice()
	if entry < minEntryPrice {
		m.correctEntry(ctx, "invalid entry price")
		entry = p.EntryPrice()
		if entry < minEntryPrice {
			m.invalidSkips++
			if m.invalidSkips%10 == 1 {
				log.Warn().
					Str("symbol", p.Symbol).
					Float64("entry", entry).
					Int("skips", m.invalidSkips).
					Msg("⚠️ entry price still invalid, waiting")
			}
			mtxTicks.WithLabelValues("invalid_entry").Inc()
			return false
		}
	}
	m.invalidSkips = 0

	multiple := price / entry
	if multiple > maxPlausibleMultiple {
		if m.correctEntry(ctx, "implausible multiple") {
			entry = p.EntryPrice()
			multiple = price / entry
		}
		if multiple > maxPlausibleMultiple {
			m.implausible++
			if m.implausible%10 == 1 {
				log.Warn().
					Str("symbol", p.Symbol).
					Float64("multiple", multiple).
					Float64("entry", entry).
					Float64("price", price).
					Msg("⚠️ implausible multiple, ignoring price")
			}
			mtxTicks.WithLabelValues("implausible").Inc()
			return false
		}
	}
	m.implausible = 0

	m.setState(StateEvaluating)
	defer func() {
		if m.State() != StateClosed {
			m.setState(StateActive)
		}
	}()

	p.ObserveMultiple(multiple, now)
	mtxTicks.WithLabelValues("evaluated").Inc()

	held := now.Sub(p.BoughtAt())
	if fire, why := m.stopLoss().triggered(held, p.MaxMultiple(), multiple); fire {
		log.Warn().
			Str("symbol", p.Symbol).
			Str("condition", why).
			Dur("held", held).
			Float64("multiple", multiple).
			Float64("max", p.MaxMultiple()).
			Msg("⏰ time stop-loss, selling 100%")
		if m.liquidate(ctx, price, now) {
			return true
		}
		m.report(ctx, price)
		return false
	}

	if rung, ok := p.Ladder.Next(multiple, p.Executed()); ok {
		m.takeProfit(ctx, rung, multiple)
	}

	if p.Remaining() == 0 {
		m.close(ctx, price, ReasonTakeProfit, now)
		return true
	}

	m.report(ctx, price)
	return false
}

// correctEntry swaps in the detection-time price, once per position
func (m *Monitor) correctEntry(ctx context.Context, why string) bool {
	p := m.pos
	if p.CorrectionAttempted() || m.history == nil {
		return false
	}
	old := p.EntryPrice()

	initial, ok, err := m.history.InitialPrice(ctx, p.ContractAddress)
	if err != nil {
		log.Warn().Err(err).Str("symbol", p.Symbol).Msg("detection history lookup failed")
	}
	if !ok || initial < minEntryPrice || initial == old {
		initial = 0
	}
	applied, _ := p.CorrectEntryPrice(initial)
	if applied {
		log.Info().
			Str("symbol", p.Symbol).
			Str("why", why).
			Float64("from", old).
			Float64("to", initial).
			Msg("🔧 entry price corrected")
	}
	return applied
}

// sell runs a swap that cancellation cannot interrupt
func (m *Monitor) sell(ctx context.Context, amount uint64) (*swap.Result, error) {
	m.setState(StateSellInFlight)
	defer m.setState(StateEvaluating)
	return m.seller.Sell(context.WithoutCancel(ctx), m.pos.ContractAddress, amount)
}

// liquidate sells everything left. Only a full fill closes the position;
// anything else is retried at the next stop-loss evaluation.
func (m *Monitor) liquidate(ctx context.Context, price float64, now time.Time) bool {
	p := m.pos
	remaining := p.Remaining()
	if remaining == 0 {
		m.close(ctx, price, ReasonStopLoss, now)
		return true
	}

	res, err := m.sell(ctx, remaining)
	if err != nil {
		m.stopLossFails++
		mtxSellFailures.WithLabelValues(sellErrorKind(err), "failed").Inc()
		log.Error().
			Err(err).
			Str("symbol", p.Symbol).
			Int("attempts", m.stopLossFails).
			Msg("❌ stop-loss sell failed, position stays open")
		return false
	}

	if err := p.RecordSell(res.Filled(), res.RealizedOut); err != nil {
		log.Error().Err(err).Str("symbol", p.Symbol).Msg("stop-loss fill rejected")
		return false
	}
	if res.Partial() || p.Remaining() > 0 {
		m.stopLossFails++
		mtxSellFailures.WithLabelValues("liquidity", "partial").Inc()
		log.Warn().
			Str("symbol", p.Symbol).
			Uint64("sold", res.Filled()).
			Uint64("left", p.Remaining()).
			Msg("⚠️ stop-loss sell partial, position stays open")
		return false
	}

	m.close(ctx, price, ReasonStopLoss, m.now())
	return true
}

// takeProfit fires one rung. A failed sell leaves the position untouched so
// the rung is tried again next tick.
func (m *Monitor) takeProfit(ctx context.Context, rung Rung, multiple float64) {
	p := m.pos
	amount := rung.SellAmount(p.Total(), p.Remaining())
	if amount == 0 {
		if err := p.RecordRung(rung.Multiple, 0, 0); err != nil {
			log.Error().Err(err).Str("symbol", p.Symbol).Msg("rung rejected")
		}
		log.Debug().Str("symbol", p.Symbol).Float64("rung", rung.Multiple).Msg("rung rounds to zero tokens, marked done")
		return
	}

	log.Info().
		Str("symbol", p.Symbol).
		Float64("rung", rung.Multiple).
		Float64("multiple", multiple).
		Float64("percent", rung.Percent).
		Bool("ofOriginal", rung.OfOriginal).
		Uint64("amount", amount).
		Msg("💰 take-profit rung hit")

	res, err := m.sell(ctx, amount)
	if err != nil {
		mtxSellFailures.WithLabelValues(sellErrorKind(err), "failed").Inc()
		log.Warn().
			Err(err).
			Str("symbol", p.Symbol).
			Float64("rung", rung.Multiple).
			Msg("take-profit sell failed, will retry")
		return
	}
	if res.Partial() {
		mtxSellFailures.WithLabelValues("liquidity", "partial").Inc()
	}

	if err := p.RecordRung(rung.Multiple, res.Filled(), res.RealizedOut); err != nil {
		log.Error().Err(err).Str("symbol", p.Symbol).Msg("rung fill rejected")
		return
	}
	mtxRungs.WithLabelValues(p.Bucket).Inc()

	log.Info().
		Str("symbol", p.Symbol).
		Float64("rung", rung.Multiple).
		Uint64("sold", res.Filled()).
		Float64("remainingPct", p.RemainingPercent()).
		Str("tx", res.TxID()).
		Msg("✅ take-profit executed")
}

func (m *Monitor) close(ctx context.Context, price float64, reason string, now time.Time) {
	p := m.pos
	if err := p.Close(); err != nil {
		return
	}
	m.setState(StateClosed)
	mtxExits.WithLabelValues(reason).Inc()

	sale := storage.Sale{
		FinalPrice:   price,
		SoldPercent:  100,
		Reason:       reason,
		TimeToSell:   now.Sub(p.BoughtAt()),
		PeakMultiple: p.MaxMultiple(),
		RealizedSol:  float64(p.ReceivedLamports()) / blockchain.LamportsPerSOL,
	}
	if peak, ok := p.PeakAt(); ok {
		ttp := peak.Sub(p.BoughtAt())
		sale.TimeToPeak = &ttp
	}

	if m.ledger != nil {
		if err := m.ledger.LogSold(context.WithoutCancel(ctx), p.ContractAddress, sale); err != nil {
			log.Error().Err(err).Str("symbol", p.Symbol).Msg("failed to log sold trade")
		}
	}

	log.Info().
		Str("symbol", p.Symbol).
		Str("reason", reason).
		Float64("peak", sale.PeakMultiple).
		Dur("held", sale.TimeToSell).
		Float64("receivedSol", sale.RealizedSol).
		Msg("🏁 position closed")
}

func (m *Monitor) report(ctx context.Context, price float64) {
	if m.ledger == nil {
		return
	}
	p := m.pos
	err := m.ledger.LogUpdated(context.WithoutCancel(ctx), p.ContractAddress, price, p.RemainingPercent(), p.Executed())
	if err != nil {
		log.Debug().Err(err).Str("symbol", p.Symbol).Msg("ledger update failed")
	}
}

func sellErrorKind(err error) string {
	switch {
	case errors.Is(err, swap.ErrLiquidityInsufficient):
		return "liquidity"
	case errors.Is(err, swap.ErrQuoteUnavailable):
		return "quote"
	case errors.Is(err, swap.ErrTransactionRejected):
		return "rejected"
	}
	return blockchain.ParseTxError(err).Kind.String()
}
