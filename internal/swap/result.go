package swap

import "strings"

// Side of a swap relative to SOL
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Outcome tags how much of a request was filled
type Outcome int

const (
	OutcomeFull Outcome = iota
	OutcomePartial
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFull:
		return "full"
	case OutcomePartial:
		return "partial"
	}
	return "failed"
}

// Result is the realized outcome of a buy or sell.
//
// Amounts are in the input/output units of the side: a buy spends lamports
// and receives raw token units, a sell the reverse. Remaining is the part of
// Requested that was never submitted.
type Result struct {
	Side        Side
	Mint        string
	TxIDs       []string
	Requested   uint64
	Remaining   uint64
	RealizedIn  uint64
	RealizedOut uint64
	SlippageBps int
	// Confirmed is set when every fill was measured from the wallet balance
	// instead of the quote.
	Confirmed bool
	Outcome   Outcome
	Err       error
}

// Filled is the portion of Requested that was executed
func (r *Result) Filled() uint64 {
	return r.Requested - r.Remaining
}

// Partial reports whether some of the request is still unfilled
func (r *Result) Partial() bool {
	return r.Outcome == OutcomePartial
}

// TxID returns the first signature, or all of them joined for split orders
func (r *Result) TxID() string {
	return strings.Join(r.TxIDs, ",")
}

func failed(side Side, mint string, amount uint64, err error) *Result {
	return &Result{Side: side, Mint: mint, Requested: amount, Remaining: amount, Outcome: OutcomeFailed, Err: err}
}

// absorb folds a later sub-order into r; Requested is fixed by the caller.
func (r *Result) absorb(o *Result) {
	r.TxIDs = append(r.TxIDs, o.TxIDs...)
	r.RealizedIn += o.RealizedIn
	r.RealizedOut += o.RealizedOut
	r.Confirmed = r.Confirmed && o.Confirmed
	if o.SlippageBps > r.SlippageBps {
		r.SlippageBps = o.SlippageBps
	}
}

func (r *Result) settle(requested, filled uint64) {
	r.Requested = requested
	r.Remaining = requested - filled
	if r.Remaining > 0 {
		r.Outcome = OutcomePartial
	} else {
		r.Outcome = OutcomeFull
	}
}
