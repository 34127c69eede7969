package blockchain

import (
	"errors"
	"strings"
)

// ErrorKind groups chain and venue failures by how a caller should react.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindSlippage covers both price movement and thin pools; a wider
	// slippage tolerance or a smaller order may succeed.
	KindSlippage
	KindNoRoute
	KindInsufficientFunds
	KindExpired
	KindRateLimited
	KindAccount
	KindNetwork
	KindSimulation
)

func (k ErrorKind) String() string {
	switch k {
	case KindSlippage:
		return "slippage"
	case KindNoRoute:
		return "no_route"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindExpired:
		return "expired"
	case KindRateLimited:
		return "rate_limited"
	case KindAccount:
		return "account"
	case KindNetwork:
		return "network"
	case KindSimulation:
		return "simulation"
	}
	return "unknown"
}

// TxError represents a human-readable transaction error
type TxError struct {
	Code    int
	Kind    ErrorKind
	Raw     string
	Message string
	Action  string
}

func (e *TxError) Error() string {
	return e.Message
}

// slippagePatterns are the program codes and phrases swap programs use when
// the output falls below the minimum or the pool cannot fill the order.
// 0x1788 = 6024, 0x1771 = 6001.
var slippagePatterns = []string{
	"0x1788", "6024",
	"0x1771", "6001",
	"slippage",
	"custom program error",
	"liquid",
}

// IsSlippage reports whether err belongs to the slippage/liquidity class
func IsSlippage(err error) bool {
	if err == nil {
		return false
	}
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.Kind == KindSlippage
	}
	return matchesAny(err.Error(), slippagePatterns)
}

// ParseTxError converts RPC error to human-readable message
func ParseTxError(err error) *TxError {
	if err == nil {
		return nil
	}

	raw := err.Error()
	txErr := &TxError{Raw: raw}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		txErr.Code = rpcErr.Code
	}

	switch {
	case matchesAny(raw, slippagePatterns):
		txErr.Kind = KindSlippage
		txErr.Message = "❌ SLIPPAGE / LIQUIDITY - Pool could not fill at this tolerance"
		txErr.Action = "Escalate slippage or split the order"

	case contains(raw, "could not find any route"), contains(raw, "no_routes_found"), contains(raw, "route not found"):
		txErr.Kind = KindNoRoute
		txErr.Message = "❌ NO ROUTE - Aggregator has no market for this pair"
		txErr.Action = "Token may not be tradable yet"

	case contains(raw, "no record of a prior credit"):
		txErr.Kind = KindInsufficientFunds
		txErr.Message = "❌ INSUFFICIENT BALANCE - Wallet has 0 SOL"
		txErr.Action = "Fund wallet with SOL"

	case contains(raw, "insufficient funds"), contains(raw, "insufficient lamports"):
		txErr.Kind = KindInsufficientFunds
		txErr.Message = "❌ INSUFFICIENT BALANCE - Not enough SOL for trade + fees"
		txErr.Action = "Add more SOL to wallet"

	case contains(raw, "blockhash not found"), contains(raw, "block height exceeded"):
		txErr.Kind = KindExpired
		txErr.Message = "❌ TRANSACTION EXPIRED - Blockhash too old"
		txErr.Action = "Retry with a fresh swap transaction"

	case contains(raw, "429"), contains(raw, "rate limit"):
		txErr.Kind = KindRateLimited
		txErr.Message = "⚠️ RATE LIMITED - Too many requests"
		txErr.Action = "Wait and retry"

	case contains(raw, "account not found"), contains(raw, "AccountNotFound"):
		txErr.Kind = KindAccount
		txErr.Message = "❌ ACCOUNT MISSING - You may not own this token"
		txErr.Action = "Check token balance"

	case contains(raw, "connection refused"), contains(raw, "timeout"), contains(raw, "deadline exceeded"):
		txErr.Kind = KindNetwork
		txErr.Message = "⚠️ NETWORK - RPC unreachable or slow"
		txErr.Action = "Retry"

	case contains(raw, "simulation failed"):
		txErr.Kind = KindSimulation
		txErr.Message = "❌ SIMULATION FAILED - Transaction would fail on-chain"
		txErr.Action = "Check logs for specific reason"

	default:
		txErr.Message = "❌ TRANSACTION FAILED"
		txErr.Action = "Check raw error"
	}

	return txErr
}

// HumanError returns a human-readable error string
func HumanError(err error) string {
	if err == nil {
		return ""
	}
	return ParseTxError(err).Message
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if contains(s, p) {
			return true
		}
	}
	return false
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
