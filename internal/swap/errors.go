package swap

import (
	"errors"
	"fmt"

	"solana-tp-bot/internal/blockchain"
)

var (
	// ErrQuoteUnavailable means the aggregator returned no usable quote or transaction.
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrSlippageExceeded is recoverable by escalating slippage or splitting.
	ErrSlippageExceeded = errors.New("slippage exceeded")
	// ErrLiquidityInsufficient is terminal: no split of the order could fill.
	ErrLiquidityInsufficient = errors.New("liquidity insufficient")
	// ErrTransactionRejected covers signing and submission failures.
	ErrTransactionRejected = errors.New("transaction rejected")
	// ErrBalanceUnconfirmed is logged, never returned: the quote is used instead.
	ErrBalanceUnconfirmed = errors.New("balance unconfirmed")
)

type stage int

const (
	stageQuote stage = iota
	stageSubmit
)

// classify wraps a venue or chain error into the taxonomy, keeping the cause
func classify(err error, st stage) error {
	if blockchain.IsSlippage(err) {
		return fmt.Errorf("%w: %w", ErrSlippageExceeded, err)
	}
	if st == stageQuote {
		return fmt.Errorf("%w: %w", ErrQuoteUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrTransactionRejected, err)
}

func liquidity(cause error, reason string) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrLiquidityInsufficient, reason)
	}
	return fmt.Errorf("%w: %s: %w", ErrLiquidityInsufficient, reason, cause)
}
