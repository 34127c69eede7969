package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-tp-bot/internal/blockchain"
	"solana-tp-bot/internal/config"
	"solana-tp-bot/internal/signal"
	"solana-tp-bot/internal/swap"
)

// Decision is what the intake did with a signal
type Decision string

const (
	DecisionBought       Decision = "bought"
	DecisionDisabled     Decision = "disabled"
	DecisionBlacklisted  Decision = "blacklisted"
	DecisionDailyLoss    Decision = "daily_loss"
	DecisionScore        Decision = "score"
	DecisionHolding      Decision = "holding"
	DecisionMaxPositions Decision = "max_positions"
	DecisionBalance      Decision = "balance"
	DecisionStale        Decision = "stale"
	DecisionBuyFailed    Decision = "buy_failed"
)

// Buyer spends lamports on a token
type Buyer interface {
	Buy(ctx context.Context, mint string, lamports uint64) (*swap.Result, error)
}

// TokenBalances reads the wallet's raw token holdings
type TokenBalances interface {
	TokenBalance(ctx context.Context, owner, mint string) (uint64, error)
}

// Balance is the wallet's cached SOL balance
type Balance interface {
	HasSufficientBalance(amountLamports, reserveLamports uint64) bool
	BalanceSOL() float64
	Refresh(ctx context.Context) error
}

type Blacklist interface {
	IsBlacklisted(ca string) bool
}

type LossLimit interface {
	DailyLossLimitReached(ctx context.Context) (bool, error)
}

// Detections records every signal, bought or not
type Detections interface {
	RecordDetection(ctx context.Context, ca, symbol string, score int, initialPrice float64, latency time.Duration) error
	MarkBought(ctx context.Context, ca string) error
}

// IntakeDeps are the collaborators of the buy pipeline
type IntakeDeps struct {
	Buyer      Buyer
	Prices     PriceSource
	Tokens     TokenBalances
	Owner      string
	Balance    Balance
	Blacklist  Blacklist
	Losses     LossLimit
	Detections Detections
	Ledger     Ledger
}

// Intake turns signals into monitored positions. Signals are handled one
// at a time so the holding and position-limit checks cannot race.
type Intake struct {
	cfg     *config.Manager
	manager *PositionManager
	d       IntakeDeps
	mu      sync.Mutex
}

// NewIntake creates the buy pipeline
func NewIntake(cfg *config.Manager, manager *PositionManager, d IntakeDeps) *Intake {
	return &Intake{cfg: cfg, manager: manager, d: d}
}

// Run processes signals until ctx is cancelled or the channel closes
func (in *Intake) Run(ctx context.Context, signals <-chan *signal.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if _, err := in.Process(ctx, sig); err != nil {
				log.Error().Err(err).Str("symbol", sig.Symbol).Msg("signal processing failed")
			}
		}
	}
}

// Process runs the risk checks for one signal and buys when they pass
func (in *Intake) Process(ctx context.Context, sig *signal.Signal) (Decision, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	start := time.Now()
	decision, err := in.process(ctx, sig)
	mtxSignals.WithLabelValues(string(decision)).Inc()
	if decision == DecisionBought {
		mtxBuyLatency.Observe(time.Since(start).Seconds())
	}
	return decision, err
}

func (in *Intake) process(ctx context.Context, sig *signal.Signal) (Decision, error) {
	ca := sig.ContractAddress
	latency := sig.DetectionLatency()

	if in.d.Detections != nil {
		if err := in.d.Detections.RecordDetection(ctx, ca, sig.Symbol, sig.Score, sig.PriceHint, latency); err != nil {
			log.Error().Err(err).Str("symbol", sig.Symbol).Msg("failed to record detection")
		}
	}

	cfg := in.cfg.GetTrading()
	if !cfg.AutoTradingEnabled {
		log.Debug().Str("symbol", sig.Symbol).Msg("auto-trading disabled, ignoring signal")
		return DecisionDisabled, nil
	}

	if in.d.Blacklist != nil && in.d.Blacklist.IsBlacklisted(ca) {
		log.Warn().Str("symbol", sig.Symbol).Str("ca", ca).Msg("token blacklisted, ignored")
		return DecisionBlacklisted, nil
	}

	if in.d.Losses != nil {
		reached, err := in.d.Losses.DailyLossLimitReached(ctx)
		if err != nil {
			log.Error().Err(err).Msg("daily loss check failed, not buying")
			return DecisionDailyLoss, nil
		}
		if reached {
			log.Warn().Float64("limitSol", cfg.DailyLossLimitSol).Msg("🛑 daily loss limit reached")
			return DecisionDailyLoss, nil
		}
	}

	bucket, ok := in.bucketFor(sig.Score, cfg)
	if !ok {
		log.Info().Str("symbol", sig.Symbol).Int("score", sig.Score).Msg("⏭️ score outside trading range")
		return DecisionScore, nil
	}

	if in.manager.Has(ca) {
		log.Info().Str("symbol", sig.Symbol).Msg("⏭️ already holding")
		return DecisionHolding, nil
	}
	if !in.manager.CanOpen() {
		log.Warn().Int("open", in.manager.Count()).Msg("max positions reached")
		return DecisionMaxPositions, nil
	}

	lamports := blockchain.SOLToLamports(bucket.AmountSol)
	reserve := blockchain.SOLToLamports(cfg.FeeReserveSol)
	if in.d.Balance != nil && !in.d.Balance.HasSufficientBalance(lamports, reserve) {
		log.Warn().
			Float64("balance", in.d.Balance.BalanceSOL()).
			Float64("needed", bucket.AmountSol+cfg.FeeReserveSol).
			Msg("insufficient balance")
		return DecisionBalance, nil
	}

	// windows are whole minutes: 3m59s still fits a 3 minute window
	if latency.Truncate(time.Minute) > bucket.MaxDetection {
		log.Info().
			Str("symbol", sig.Symbol).
			Dur("detected", latency).
			Dur("window", bucket.MaxDetection).
			Msg("⏭️ detection outside buy window")
		return DecisionStale, nil
	}

	log.Info().
		Str("symbol", sig.Symbol).
		Str("ca", ca).
		Int("score", sig.Score).
		Str("bucket", bucket.Name).
		Float64("amountSol", bucket.AmountSol).
		Dur("detected", latency).
		Msg("🚀 executing BUY")

	res, err := in.d.Buyer.Buy(ctx, ca, lamports)
	if err != nil {
		log.Error().Err(err).Str("symbol", sig.Symbol).Str("hint", blockchain.HumanError(err)).Msg("buy failed")
		return DecisionBuyFailed, fmt.Errorf("buy %s: %w", sig.Symbol, err)
	}

	fill := Fill{
		TxID:       res.TxID(),
		EntryPrice: in.entryPrice(ctx, sig),
		Tokens:     in.tokensReceived(ctx, ca, res),
		AmountSol:  float64(res.RealizedIn) / blockchain.LamportsPerSOL,
		BoughtAt:   time.Now(),
	}
	if fill.AmountSol == 0 {
		fill.AmountSol = bucket.AmountSol
	}

	log.Info().
		Str("symbol", sig.Symbol).
		Str("tx", fill.TxID).
		Float64("spentSol", fill.AmountSol).
		Uint64("tokens", fill.Tokens).
		Float64("entry", fill.EntryPrice).
		Msg("✅ BUY executed")

	if in.d.Ledger != nil {
		if err := in.d.Ledger.LogBought(ctx, sig.Symbol, ca, fill.EntryPrice, fill.AmountSol, sig.Score, fill.TxID); err != nil {
			log.Error().Err(err).Str("symbol", sig.Symbol).Msg("failed to log bought trade")
		}
	}
	if _, added := in.manager.AddPosition(sig, fill); !added {
		log.Warn().Str("symbol", sig.Symbol).Msg("bought but not monitored")
	}
	if in.d.Detections != nil {
		if err := in.d.Detections.MarkBought(ctx, ca); err != nil {
			log.Debug().Err(err).Msg("failed to mark detection bought")
		}
	}
	if in.d.Balance != nil {
		go in.d.Balance.Refresh(context.WithoutCancel(ctx))
	}
	return DecisionBought, nil
}

// bucketFor applies the score range and the low-score fallback
func (in *Intake) bucketFor(score int, cfg config.TradingConfig) (Bucket, bool) {
	if cfg.MaxScore > 0 && score > cfg.MaxScore {
		return Bucket{}, false
	}
	book := in.manager.Book()
	if b, ok := book.BucketFor(score); ok && score >= cfg.MinScore {
		return b, true
	}
	if cfg.TradeLowScore && cfg.LowScoreAmountSol > 0 && score < book.lowest() {
		return Bucket{Name: LowScoreBucket, AmountSol: cfg.LowScoreAmountSol, Ladder: DefaultLadder()}, true
	}
	return Bucket{}, false
}

// entryPrice prefers the signal's price, else asks the oracle
func (in *Intake) entryPrice(ctx context.Context, sig *signal.Signal) float64 {
	if sig.PriceHint > 0 {
		return sig.PriceHint
	}
	if in.d.Prices != nil {
		if p, ok := in.d.Prices.GetPrice(ctx, sig.ContractAddress); ok {
			return p
		}
	}
	log.Warn().Str("symbol", sig.Symbol).Msg("no entry price, monitor will try detection history")
	return 0
}

// tokensReceived prefers the on-chain token balance over the quote
func (in *Intake) tokensReceived(ctx context.Context, ca string, res *swap.Result) uint64 {
	if in.d.Tokens != nil {
		bal, err := in.d.Tokens.TokenBalance(ctx, in.d.Owner, ca)
		if err == nil && bal > 0 {
			return bal
		}
		if err != nil {
			log.Debug().Err(err).Msg("token balance read failed, using quote amount")
		}
	}
	return res.RealizedOut
}
