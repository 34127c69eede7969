package trading

import (
	"context"
	"sync"
	"time"

	"solana-tp-bot/internal/storage"
	"solana-tp-bot/internal/swap"
)

const testCA = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"

type fakePrices struct {
	mu    sync.Mutex
	price float64
	ok    bool
	calls int
}

func (f *fakePrices) set(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price, f.ok = p, p > 0
}

func (f *fakePrices) GetPrice(context.Context, string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.price, f.ok
}

// fakeSeller fills every sell in full at 1 lamport per token unless fn says otherwise
type fakeSeller struct {
	mu    sync.Mutex
	sells []uint64
	fn    func(amount uint64) (*swap.Result, error)
	block chan struct{}
}

func (f *fakeSeller) Sell(ctx context.Context, mint string, amount uint64) (*swap.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.sells = append(f.sells, amount)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(amount)
	}
	return fullFill(amount), nil
}

func (f *fakeSeller) calls() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.sells...)
}

func fullFill(amount uint64) *swap.Result {
	return &swap.Result{
		Side:        swap.Sell,
		TxIDs:       []string{"sellSig"},
		Requested:   amount,
		RealizedIn:  amount,
		RealizedOut: amount,
		Outcome:     swap.OutcomeFull,
	}
}

func partialFill(amount, filled uint64) *swap.Result {
	return &swap.Result{
		Side:        swap.Sell,
		TxIDs:       []string{"sellSig"},
		Requested:   amount,
		Remaining:   amount - filled,
		RealizedIn:  filled,
		RealizedOut: filled,
		Outcome:     swap.OutcomePartial,
	}
}

type update struct {
	price     float64
	remaining float64
	rungs     []float64
}

type fakeLedger struct {
	mu      sync.Mutex
	bought  []string
	updates []update
	sold    []storage.Sale
}

func (f *fakeLedger) LogBought(_ context.Context, symbol, ca string, _, _ float64, _ int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bought = append(f.bought, ca)
	return nil
}

func (f *fakeLedger) LogUpdated(_ context.Context, _ string, price, remaining float64, rungs []float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update{price, remaining, rungs})
	return nil
}

func (f *fakeLedger) LogSold(_ context.Context, _ string, sale storage.Sale) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sold = append(f.sold, sale)
	return nil
}

func (f *fakeLedger) soldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sold)
}

type fakeHistory struct {
	price float64
	ok    bool
	calls int
}

func (f *fakeHistory) InitialPrice(context.Context, string) (float64, bool, error) {
	f.calls++
	return f.price, f.ok, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
