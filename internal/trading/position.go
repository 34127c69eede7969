package trading

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	ErrPositionClosed = errors.New("position closed")
	ErrOversell       = errors.New("sell exceeds remaining amount")
	ErrRungOrder      = errors.New("rung not above last executed rung")
	ErrInvalidPrice   = errors.New("invalid price")
)

// Status of a position; it only moves from Open to Closed
type Status int

const (
	StatusOpen Status = iota
	StatusClosed
)

func (s Status) String() string {
	if s == StatusClosed {
		return "closed"
	}
	return "open"
}

// Position is one bought token under monitoring. Identity fields are fixed
// at creation; everything else changes only through the methods below,
// which keep 0 <= remaining <= total, remaining non-increasing and the
// executed rungs strictly increasing.
type Position struct {
	ContractAddress string
	Symbol          string
	Score           int
	Bucket          string
	AmountSol       float64 // SOL spent on the buy
	BuyTxID         string
	Ladder          Ladder

	mu          sync.RWMutex
	entryPrice  float64
	totalTokens uint64
	remaining   uint64
	boughtAt    time.Time
	maxMultiple float64
	peakAt      time.Time
	executed    []float64
	status      Status
	lastPrice   float64
	receivedLam uint64 // lamports received across every sell
	corrected   bool   // entry price correction already attempted
	lastUpdate  time.Time
}

// newPosition validates a fresh fill
func newPosition(ca, symbol string, score int, bucket string, ladder Ladder, entryPrice float64, total uint64, amountSol float64, txID string, boughtAt time.Time) (*Position, error) {
	if ca == "" {
		return nil, errors.New("empty contract address")
	}
	if total == 0 {
		return nil, fmt.Errorf("position %s: zero token amount", ca)
	}
	return &Position{
		ContractAddress: ca,
		Symbol:          symbol,
		Score:           score,
		Bucket:          bucket,
		AmountSol:       amountSol,
		BuyTxID:         txID,
		Ladder:          ladder,
		entryPrice:      entryPrice,
		totalTokens:     total,
		remaining:       total,
		boughtAt:        boughtAt,
		maxMultiple:     1.0,
		status:          StatusOpen,
		lastUpdate:      boughtAt,
	}, nil
}

// PositionSnapshot is a copy of a position for status output
type PositionSnapshot struct {
	ContractAddress  string     `json:"contractAddress"`
	Symbol           string     `json:"symbol"`
	Score            int        `json:"score"`
	Bucket           string     `json:"bucket"`
	AmountSol        float64    `json:"amountSol"`
	BuyTxID          string     `json:"buyTxId"`
	EntryPrice       float64    `json:"entryPrice"`
	LastPrice        float64    `json:"lastPrice"`
	TotalTokens      uint64     `json:"totalTokens"`
	RemainingTokens  uint64     `json:"remainingTokens"`
	RemainingPercent float64    `json:"remainingPercent"`
	MaxMultiple      float64    `json:"maxMultiple"`
	Executed         []float64  `json:"executed"`
	BoughtAt         time.Time  `json:"boughtAt"`
	PeakAt           *time.Time `json:"peakAt,omitempty"`
	Status           string     `json:"status"`
	LastUpdate       time.Time  `json:"lastUpdate"`
}

// Snapshot returns a thread-safe copy of the position
func (p *Position) Snapshot() PositionSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := PositionSnapshot{
		ContractAddress:  p.ContractAddress,
		Symbol:           p.Symbol,
		Score:            p.Score,
		Bucket:           p.Bucket,
		AmountSol:        p.AmountSol,
		BuyTxID:          p.BuyTxID,
		EntryPrice:       p.entryPrice,
		LastPrice:        p.lastPrice,
		TotalTokens:      p.totalTokens,
		RemainingTokens:  p.remaining,
		RemainingPercent: p.remainingPercent(),
		MaxMultiple:      p.maxMultiple,
		Executed:         slices.Clone(p.executed),
		BoughtAt:         p.boughtAt,
		Status:           p.status.String(),
		LastUpdate:       p.lastUpdate,
	}
	if !p.peakAt.IsZero() {
		peak := p.peakAt
		s.PeakAt = &peak
	}
	return s
}

func (p *Position) EntryPrice() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entryPrice
}

func (p *Position) Total() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalTokens
}

func (p *Position) Remaining() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remaining
}

// RemainingPercent is remaining as a percentage of the bought amount
func (p *Position) RemainingPercent() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remainingPercent()
}

func (p *Position) remainingPercent() float64 {
	if p.totalTokens == 0 {
		return 0
	}
	return float64(p.remaining) / float64(p.totalTokens) * 100
}

func (p *Position) BoughtAt() time.Time {
	return p.boughtAt
}

func (p *Position) MaxMultiple() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxMultiple
}

// PeakAt is when the current maximum was first observed
func (p *Position) PeakAt() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peakAt, !p.peakAt.IsZero()
}

// Executed returns a copy of the fired rung multiples
func (p *Position) Executed() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.executed)
}

func (p *Position) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// ReceivedLamports is the SOL received from sells so far
func (p *Position) ReceivedLamports() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.receivedLam
}

// LastUpdate is when a price was last observed
func (p *Position) LastUpdate() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastUpdate
}

// SetLastPrice records the latest observed price
func (p *Position) SetLastPrice(price float64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPrice = price
	p.lastUpdate = now
}

// CorrectEntryPrice replaces the entry price. It may be attempted once per
// position; later calls report false without touching the price.
func (p *Position) CorrectEntryPrice(price float64) (applied bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.corrected {
		return false, nil
	}
	p.corrected = true
	if price <= 0 {
		return false, fmt.Errorf("%w: entry %g", ErrInvalidPrice, price)
	}
	p.entryPrice = price
	return true, nil
}

// CorrectionAttempted reports whether CorrectEntryPrice was already called
func (p *Position) CorrectionAttempted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.corrected
}

// ObserveMultiple raises the maximum multiple. The peak time is set the
// first time a new maximum is seen and kept afterwards.
func (p *Position) ObserveMultiple(multiple float64, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if multiple <= p.maxMultiple {
		return false
	}
	p.maxMultiple = multiple
	if p.peakAt.IsZero() {
		p.peakAt = now
	}
	return true
}

// RecordRung books a take-profit sell of sold tokens at rung
func (p *Position) RecordRung(rung float64, sold, lamports uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusClosed {
		return ErrPositionClosed
	}
	if n := len(p.executed); n > 0 && rung <= p.executed[n-1] {
		return fmt.Errorf("%w: %gx after %gx", ErrRungOrder, rung, p.executed[n-1])
	}
	if sold > p.remaining {
		return fmt.Errorf("%w: %d > %d", ErrOversell, sold, p.remaining)
	}
	p.executed = append(p.executed, rung)
	p.remaining -= sold
	p.receivedLam += lamports
	return nil
}

// RecordSell books a sell outside the ladder
func (p *Position) RecordSell(sold, lamports uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusClosed {
		return ErrPositionClosed
	}
	if sold > p.remaining {
		return fmt.Errorf("%w: %d > %d", ErrOversell, sold, p.remaining)
	}
	p.remaining -= sold
	p.receivedLam += lamports
	return nil
}

// Close moves the position to Closed; closing twice is an error
func (p *Position) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusClosed {
		return ErrPositionClosed
	}
	p.status = StatusClosed
	return nil
}
