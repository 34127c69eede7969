package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-tp-bot/internal/signal"
)

// Fill is the confirmed result of a buy
type Fill struct {
	TxID       string
	EntryPrice float64
	Tokens     uint64 // raw units received
	AmountSol  float64
	BoughtAt   time.Time
}

// Deps are the collaborators every monitor shares
type Deps struct {
	Prices   PriceSource
	Seller   Seller
	Ledger   Ledger
	History  DetectionHistory
	StopLoss func() StopLossPolicy
	Tick     time.Duration
	Now      func() time.Time
}

// Handle is a registered position and its running monitor
type Handle struct {
	Position *Position
	Monitor  *Monitor
	cancel   context.CancelFunc
	done     chan struct{}
	removing bool // guarded by PositionManager.mu
}

// Done is closed once the monitor has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// PositionManager owns the open positions, one monitor goroutine each.
// The map is the only state shared between monitors and mu is never held
// across network calls.
type PositionManager struct {
	mu        sync.Mutex
	positions map[string]*Handle
	book      *LadderBook
	deps      Deps
	maxPos    int

	root     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	shutdown bool
}

// NewPositionManager creates an empty manager
func NewPositionManager(book *LadderBook, deps Deps, maxPositions int) *PositionManager {
	if deps.Tick <= 0 {
		deps.Tick = 10 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StopLoss == nil {
		deps.StopLoss = DefaultStopLoss
	}
	if book == nil {
		book = NewLadderBook(nil)
	}
	root, stop := context.WithCancel(context.Background())
	return &PositionManager{
		positions: make(map[string]*Handle),
		book:      book,
		deps:      deps,
		maxPos:    maxPositions,
		root:      root,
		stop:      stop,
	}
}

// AddPosition registers a bought token and starts its monitor. A second call
// for the same contract address returns the existing handle and false.
func (pm *PositionManager) AddPosition(sig *signal.Signal, fill Fill) (*Handle, bool) {
	bucket := LowScoreBucket
	if b, ok := pm.book.BucketFor(sig.Score); ok {
		bucket = b.Name
	}
	boughtAt := fill.BoughtAt
	if boughtAt.IsZero() {
		boughtAt = pm.deps.Now()
	}
	pos, err := newPosition(sig.ContractAddress, sig.Symbol, sig.Score, bucket, pm.book.For(bucket),
		fill.EntryPrice, fill.Tokens, fill.AmountSol, fill.TxID, boughtAt)
	if err != nil {
		log.Error().Err(err).Str("symbol", sig.Symbol).Msg("cannot open position")
		return nil, false
	}

	pm.mu.Lock()
	if pm.shutdown {
		pm.mu.Unlock()
		log.Warn().Str("symbol", sig.Symbol).Msg("manager shut down, position not monitored")
		return nil, false
	}
	if h, exists := pm.positions[pos.ContractAddress]; exists {
		removing := h.removing
		pm.mu.Unlock()
		if removing {
			log.Warn().Str("symbol", sig.Symbol).Str("ca", sig.ContractAddress).Msg("previous monitor still stopping, position not monitored")
			return nil, false
		}
		log.Warn().Str("symbol", sig.Symbol).Str("ca", sig.ContractAddress).Msg("position already monitored")
		return h, false
	}
	ctx, cancel := context.WithCancel(pm.root)
	h := &Handle{
		Position: pos,
		Monitor:  newMonitor(pos, pm.deps),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	pm.positions[pos.ContractAddress] = h
	pm.wg.Add(1)
	pm.mu.Unlock()

	mtxOpenPositions.Inc()
	go pm.run(ctx, h)

	log.Info().
		Str("symbol", pos.Symbol).
		Str("ca", pos.ContractAddress).
		Str("bucket", bucket).
		Float64("entry", fill.EntryPrice).
		Uint64("tokens", fill.Tokens).
		Msg("📊 position monitored")
	return h, true
}

func (pm *PositionManager) run(ctx context.Context, h *Handle) {
	defer pm.wg.Done()
	defer close(h.done)
	h.Monitor.Run(ctx)
	pm.release(h)
}

// release drops a finished monitor's entry
func (pm *PositionManager) release(h *Handle) {
	ca := h.Position.ContractAddress
	pm.mu.Lock()
	current, ok := pm.positions[ca]
	if ok && current == h {
		delete(pm.positions, ca)
	}
	pm.mu.Unlock()
	h.cancel()
	if ok && current == h {
		mtxOpenPositions.Dec()
	}
}

// RemovePosition stops monitoring ca. The entry stays registered until the
// monitor exits, so an in-flight sell finishes before ca can be added again.
// Removing an unknown or already removed address is a no-op.
func (pm *PositionManager) RemovePosition(ca string) bool {
	pm.mu.Lock()
	h, ok := pm.positions[ca]
	if !ok || h.removing {
		pm.mu.Unlock()
		return false
	}
	h.removing = true
	pm.mu.Unlock()

	h.cancel()
	log.Info().Str("symbol", h.Position.Symbol).Str("ca", ca).Msg("position removed")
	return true
}

// Shutdown cancels every monitor and waits for in-flight ticks to finish,
// at most until ctx is done.
func (pm *PositionManager) Shutdown(ctx context.Context) error {
	pm.mu.Lock()
	pm.shutdown = true
	open := len(pm.positions)
	pm.mu.Unlock()

	log.Info().Int("open", open).Msg("stopping position monitors")
	pm.stop()

	drained := make(chan struct{})
	go func() {
		pm.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		log.Info().Msg("position monitors stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitors still running after shutdown timeout: %w", ctx.Err())
	}
}

// Has checks if a position exists for ca
func (pm *PositionManager) Has(ca string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	_, ok := pm.positions[ca]
	return ok
}

// Get returns the handle for ca, nil when not monitored
func (pm *PositionManager) Get(ca string) *Handle {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.positions[ca]
}

// Count returns number of open positions
func (pm *PositionManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.positions)
}

// CanOpen checks the open position limit; zero means unlimited
func (pm *PositionManager) CanOpen() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.maxPos <= 0 || len(pm.positions) < pm.maxPos
}

// SetMaxPositions updates the max positions limit
func (pm *PositionManager) SetMaxPositions(max int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.maxPos = max
}

// Snapshots returns copies of every open position
func (pm *PositionManager) Snapshots() []PositionSnapshot {
	pm.mu.Lock()
	handles := make([]*Handle, 0, len(pm.positions))
	for _, h := range pm.positions {
		handles = append(handles, h)
	}
	pm.mu.Unlock()

	out := make([]PositionSnapshot, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Position.Snapshot())
	}
	return out
}

// Book returns the ladder book positions are created from
func (pm *PositionManager) Book() *LadderBook {
	return pm.book
}
