package swap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"solana-tp-bot/internal/jupiter"
)

// Venue quotes swaps and builds unsigned transactions
type Venue interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*jupiter.QuoteResponse, error)
	GetSwapTransaction(ctx context.Context, quote *jupiter.QuoteResponse, userPubkey string) (string, error)
}

// Signer signs a base64 transaction as the fee payer
type Signer interface {
	SignSerializedTransaction(serializedTxBase64 string) (string, error)
}

// Chain submits transactions and reads the wallet's native balance
type Chain interface {
	SendTransaction(ctx context.Context, signedTx string, skipPreflight bool) (string, error)
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
}

// Config tunes slippage escalation, splitting and confirmation
type Config struct {
	SlippageLadder       []int
	MaxRecursionDepth    int
	MinTokenThreshold    uint64
	MinLamportsThreshold uint64
	ConfirmWait          time.Duration
	MinPlausibleLamports uint64
}

// DefaultConfig is 10% -> 15% -> 20% slippage, three split levels and a 5s wait
func DefaultConfig() Config {
	return Config{
		SlippageLadder:       []int{1000, 1500, 2000},
		MaxRecursionDepth:    3,
		MinTokenThreshold:    1_000_000,
		MinLamportsThreshold: 1_000_000,
		ConfirmWait:          5 * time.Second,
		MinPlausibleLamports: 100_000,
	}
}

// Executor turns buy and sell decisions into submitted swaps
type Executor struct {
	venue  Venue
	signer Signer
	chain  Chain
	owner  string
	cfg    Config
}

// NewExecutor creates an executor trading from the owner wallet
func NewExecutor(venue Venue, signer Signer, chain Chain, owner string, cfg Config) *Executor {
	def := DefaultConfig()
	if len(cfg.SlippageLadder) == 0 {
		cfg.SlippageLadder = def.SlippageLadder
	}
	if cfg.MaxRecursionDepth < 0 {
		cfg.MaxRecursionDepth = 0
	}
	return &Executor{
		venue:  venue,
		signer: signer,
		chain:  chain,
		owner:  owner,
		cfg:    cfg,
	}
}

// Buy spends lamports of SOL on mint
func (e *Executor) Buy(ctx context.Context, mint string, lamports uint64) (*Result, error) {
	return e.run(ctx, Buy, mint, lamports)
}

// Sell sells a raw token amount of mint for SOL.
// A partially filled sell is not an error: check Result.Partial.
func (e *Executor) Sell(ctx context.Context, mint string, amount uint64) (*Result, error) {
	return e.run(ctx, Sell, mint, amount)
}

func (e *Executor) run(ctx context.Context, side Side, mint string, amount uint64) (*Result, error) {
	start := time.Now()
	defer func() {
		mtxDuration.WithLabelValues(side.String()).Observe(time.Since(start).Seconds())
	}()

	if amount == 0 {
		return nil, fmt.Errorf("%s %s: zero amount", side, mint)
	}

	res := e.execute(ctx, side, mint, amount, 0, e.cfg.SlippageLadder)
	mtxOutcomes.WithLabelValues(side.String(), res.Outcome.String()).Inc()

	if res.Outcome == OutcomeFailed {
		return nil, res.Err
	}

	log.Info().
		Str("side", side.String()).
		Str("mint", mint).
		Str("outcome", res.Outcome.String()).
		Uint64("filled", res.Filled()).
		Uint64("remaining", res.Remaining).
		Uint64("in", res.RealizedIn).
		Uint64("out", res.RealizedOut).
		Str("tx", res.TxID()).
		Dur("took", time.Since(start)).
		Msg("✅ swap done")

	return res, nil
}

// execute walks the slippage ladder, then falls back to splitting.
// Only slippage-class failures escalate; anything else fails immediately.
func (e *Executor) execute(ctx context.Context, side Side, mint string, amount uint64, depth int, ladder []int) *Result {
	var lastErr error
	for i, bps := range ladder {
		res, err := e.attempt(ctx, side, mint, amount, bps)
		if err == nil {
			mtxAttempts.WithLabelValues(side.String(), strconv.Itoa(bps), "ok").Inc()
			res.settle(amount, res.Filled())
			return res
		}

		if !errors.Is(err, ErrSlippageExceeded) {
			mtxAttempts.WithLabelValues(side.String(), strconv.Itoa(bps), "error").Inc()
			return failed(side, mint, amount, err)
		}

		mtxAttempts.WithLabelValues(side.String(), strconv.Itoa(bps), "slippage").Inc()
		lastErr = err
		if i < len(ladder)-1 {
			log.Warn().
				Str("side", side.String()).
				Str("mint", mint).
				Int("slippageBps", bps).
				Int("next", ladder[i+1]).
				Msg("⚠️ slippage/liquidity error, escalating")
		}
	}

	return e.split(ctx, side, mint, amount, depth, lastErr)
}

// split retries the order as two sequential halves at the widest slippage.
// Depth bounds the recursion; the threshold keeps halves above dust.
func (e *Executor) split(ctx context.Context, side Side, mint string, amount uint64, depth int, cause error) *Result {
	minAmount := e.threshold(side)

	if depth >= e.cfg.MaxRecursionDepth {
		return failed(side, mint, amount, liquidity(cause, fmt.Sprintf("split depth %d exhausted", depth)))
	}
	half := amount / 2
	if amount < minAmount || half == 0 || half < minAmount {
		return failed(side, mint, amount, liquidity(cause, fmt.Sprintf("amount %d below split threshold %d", amount, minAmount)))
	}

	mtxSplits.WithLabelValues(side.String()).Inc()
	log.Warn().
		Str("side", side.String()).
		Str("mint", mint).
		Uint64("amount", amount).
		Uint64("half", half).
		Int("depth", depth+1).
		Msg("⚠️ slippage ladder exhausted, splitting order")

	widest := e.cfg.SlippageLadder[len(e.cfg.SlippageLadder)-1:]

	first := e.execute(ctx, side, mint, half, depth+1, widest)
	if first.Outcome == OutcomeFailed {
		return failed(side, mint, amount, first.Err)
	}

	filled := first.Filled()
	rest := amount - filled
	if rest == 0 {
		first.settle(amount, filled)
		return first
	}
	if rest < minAmount {
		log.Warn().Uint64("unfilled", rest).Str("mint", mint).Msg("remainder below threshold, leaving unfilled")
		first.settle(amount, filled)
		return first
	}

	second := e.execute(ctx, side, mint, rest, depth+1, widest)
	if second.Outcome == OutcomeFailed {
		log.Warn().
			Err(second.Err).
			Str("side", side.String()).
			Str("mint", mint).
			Uint64("unfilled", rest).
			Msg("⚠️ second half failed, returning partial fill")
		first.settle(amount, filled)
		return first
	}

	first.absorb(second)
	first.settle(amount, filled+second.Filled())
	return first
}

// attempt is one fresh quote, one fresh transaction, one submission.
// Once SendTransaction succeeds the swap is never resubmitted.
func (e *Executor) attempt(ctx context.Context, side Side, mint string, amount uint64, bps int) (*Result, error) {
	inputMint, outputMint := jupiter.SOLMint, mint
	if side == Sell {
		inputMint, outputMint = mint, jupiter.SOLMint
	}

	quote, err := e.venue.GetQuote(ctx, inputMint, outputMint, amount, bps)
	if err != nil {
		return nil, classify(err, stageQuote)
	}
	unsigned, err := e.venue.GetSwapTransaction(ctx, quote, e.owner)
	if err != nil {
		return nil, classify(err, stageQuote)
	}
	signed, err := e.signer.SignSerializedTransaction(unsigned)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %w", ErrTransactionRejected, err)
	}

	before, beforeErr := e.chain.GetBalance(ctx, e.owner)

	sig, err := e.chain.SendTransaction(ctx, signed, false)
	if err != nil {
		return nil, classify(err, stageSubmit)
	}

	log.Info().
		Str("side", side.String()).
		Str("mint", mint).
		Int("slippageBps", bps).
		Str("tx", sig).
		Msg("📤 swap submitted")

	res := &Result{
		Side:        side,
		Mint:        mint,
		TxIDs:       []string{sig},
		Requested:   amount,
		SlippageBps: bps,
	}
	e.confirm(ctx, res, quote, before, beforeErr)
	return res, nil
}

// confirm waits a fixed delay and measures the fill from the native balance.
// The delay is a guess at confirmation latency and the balance may include
// other positions' concurrent swaps, so the quote backs up every reading.
func (e *Executor) confirm(ctx context.Context, res *Result, quote *jupiter.QuoteResponse, before uint64, beforeErr error) {
	quotedIn, quotedOut := quote.InAmountRaw(), quote.OutAmountRaw()
	if quotedIn == 0 || quotedIn > res.Requested {
		quotedIn = res.Requested
	}
	res.RealizedIn, res.RealizedOut = quotedIn, quotedOut
	res.Remaining = res.Requested - quotedIn

	wait(ctx, e.cfg.ConfirmWait)

	after, afterErr := e.chain.GetBalance(ctx, e.owner)
	if beforeErr != nil || afterErr != nil {
		e.unconfirmed(res, "balance read failed", errors.Join(beforeErr, afterErr))
		return
	}

	switch res.Side {
	case Sell:
		if after > before && after-before > e.cfg.MinPlausibleLamports {
			res.RealizedOut = after - before
			res.Confirmed = true
			return
		}
		e.unconfirmed(res, fmt.Sprintf("balance delta %d not plausible", int64(after)-int64(before)), nil)
	case Buy:
		if before > after {
			res.RealizedIn = before - after
			res.Confirmed = true
			return
		}
		e.unconfirmed(res, "balance did not decrease", nil)
	}
}

func (e *Executor) unconfirmed(res *Result, reason string, cause error) {
	mtxUnconfirmed.WithLabelValues(res.Side.String()).Inc()
	log.Warn().
		Err(cause).
		AnErr("kind", ErrBalanceUnconfirmed).
		Str("side", res.Side.String()).
		Str("tx", res.TxID()).
		Str("reason", reason).
		Msg("using quote amounts")
}

func (e *Executor) threshold(side Side) uint64 {
	if side == Buy {
		return e.cfg.MinLamportsThreshold
	}
	return e.cfg.MinTokenThreshold
}

func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
