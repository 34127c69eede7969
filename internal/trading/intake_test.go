package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-tp-bot/internal/config"
	"solana-tp-bot/internal/signal"
	"solana-tp-bot/internal/swap"
)

type fakeBuyer struct {
	mu    sync.Mutex
	buys  []uint64
	err   error
	spend uint64
}

func (f *fakeBuyer) Buy(_ context.Context, mint string, lamports uint64) (*swap.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, lamports)
	if f.err != nil {
		return nil, f.err
	}
	spent := f.spend
	if spent == 0 {
		spent = lamports
	}
	return &swap.Result{
		Side:        swap.Buy,
		Mint:        mint,
		TxIDs:       []string{"buySig"},
		Requested:   lamports,
		RealizedIn:  spent,
		RealizedOut: 7_000_000,
		Outcome:     swap.OutcomeFull,
	}, nil
}

type fakeTokens struct {
	balance uint64
	err     error
}

func (f *fakeTokens) TokenBalance(context.Context, string, string) (uint64, error) {
	return f.balance, f.err
}

type fakeBalance struct {
	lamports uint64
}

func (f *fakeBalance) HasSufficientBalance(amount, reserve uint64) bool {
	return f.lamports >= amount+reserve
}

func (f *fakeBalance) BalanceSOL() float64 { return float64(f.lamports) / 1e9 }

func (f *fakeBalance) Refresh(context.Context) error { return nil }

type fakeBlacklist map[string]bool

func (f fakeBlacklist) IsBlacklisted(ca string) bool { return f[ca] }

type fakeLosses struct {
	reached bool
	err     error
}

func (f *fakeLosses) DailyLossLimitReached(context.Context) (bool, error) {
	return f.reached, f.err
}

type fakeDetections struct {
	mu       sync.Mutex
	recorded []string
	bought   []string
}

func (f *fakeDetections) RecordDetection(_ context.Context, ca, _ string, _ int, _ float64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, ca)
	return nil
}

func (f *fakeDetections) MarkBought(_ context.Context, ca string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bought = append(f.bought, ca)
	return nil
}

type intakeFixture struct {
	intake     *Intake
	pm         *PositionManager
	buyer      *fakeBuyer
	tokens     *fakeTokens
	balance    *fakeBalance
	blacklist  fakeBlacklist
	losses     *fakeLosses
	detections *fakeDetections
	ledger     *fakeLedger
	prices     *fakePrices
	cfg        *config.Config
}

func newIntakeFixture(t *testing.T) *intakeFixture {
	t.Helper()
	cfg := &config.Config{Trading: config.TradingConfig{
		AutoTradingEnabled: true,
		MaxOpenPositions:   5,
		MinScore:           15,
		MaxScore:           21,
		LowScoreAmountSol:  0.01,
		FeeReserveSol:      0.01,
		Buckets:            config.DefaultBuckets(),
	}}
	f := &intakeFixture{
		buyer:      &fakeBuyer{},
		tokens:     &fakeTokens{balance: 5_000_000},
		balance:    &fakeBalance{lamports: 1_000_000_000},
		blacklist:  fakeBlacklist{},
		losses:     &fakeLosses{},
		detections: &fakeDetections{},
		ledger:     &fakeLedger{},
		prices:     &fakePrices{},
		cfg:        cfg,
	}
	f.pm = newTestManager(t, &fakePrices{}, &fakeSeller{}, DefaultStopLoss())
	f.intake = NewIntake(config.NewStatic(cfg), f.pm, IntakeDeps{
		Buyer:      f.buyer,
		Prices:     f.prices,
		Tokens:     f.tokens,
		Owner:      "owner",
		Balance:    f.balance,
		Blacklist:  f.blacklist,
		Losses:     f.losses,
		Detections: f.detections,
		Ledger:     f.ledger,
	})
	return f
}

func freshSignal(score int) *signal.Signal {
	return &signal.Signal{
		Symbol:                  "PEPE",
		ContractAddress:         testCA,
		Score:                   score,
		PriceHint:               0.000062,
		DetectionLatencySeconds: 30,
	}
}

func TestIntake_BuysAndMonitors(t *testing.T) {
	f := newIntakeFixture(t)

	d, err := f.intake.Process(context.Background(), freshSignal(16))
	require.NoError(t, err)
	assert.Equal(t, DecisionBought, d)

	assert.Equal(t, []uint64{50_000_000}, f.buyer.buys, "0.05 SOL for 15-17")
	h := f.pm.Get(testCA)
	require.NotNil(t, h)
	assert.Equal(t, uint64(5_000_000), h.Position.Total(), "token balance beats the quote")
	assert.Equal(t, 0.000062, h.Position.EntryPrice())
	assert.Equal(t, []string{testCA}, f.ledger.bought)
	assert.Equal(t, []string{testCA}, f.detections.recorded)
	assert.Equal(t, []string{testCA}, f.detections.bought)
}

func TestIntake_FallsBackToQuoteAndOracle(t *testing.T) {
	f := newIntakeFixture(t)
	f.tokens.err = errors.New("rpc down")
	f.prices.set(0.0002)

	sig := freshSignal(20)
	sig.PriceHint = 0
	sig.DetectionLatencySeconds = 10

	d, err := f.intake.Process(context.Background(), sig)
	require.NoError(t, err)
	require.Equal(t, DecisionBought, d)

	h := f.pm.Get(testCA)
	require.NotNil(t, h)
	assert.Equal(t, uint64(7_000_000), h.Position.Total())
	assert.Equal(t, 0.0002, h.Position.EntryPrice())
	assert.Equal(t, "20-21", h.Position.Bucket)
	assert.Equal(t, []uint64{20_000_000}, f.buyer.buys)
}

func TestIntake_Skips(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *intakeFixture, sig *signal.Signal)
		want  Decision
	}{
		{"disabled", func(f *intakeFixture, _ *signal.Signal) { f.cfg.Trading.AutoTradingEnabled = false }, DecisionDisabled},
		{"blacklisted", func(f *intakeFixture, _ *signal.Signal) { f.blacklist[testCA] = true }, DecisionBlacklisted},
		{"daily loss", func(f *intakeFixture, _ *signal.Signal) { f.losses.reached = true }, DecisionDailyLoss},
		{"daily loss unknown", func(f *intakeFixture, _ *signal.Signal) { f.losses.err = errors.New("db locked") }, DecisionDailyLoss},
		{"score too high", func(_ *intakeFixture, sig *signal.Signal) { sig.Score = 25 }, DecisionScore},
		{"low score disabled", func(_ *intakeFixture, sig *signal.Signal) { sig.Score = 12 }, DecisionScore},
		{"balance", func(f *intakeFixture, _ *signal.Signal) { f.balance.lamports = 55_000_000 }, DecisionBalance},
		{"stale 15-17", func(_ *intakeFixture, sig *signal.Signal) { sig.DetectionLatencySeconds = 240 }, DecisionStale},
		{"stale 20-21", func(_ *intakeFixture, sig *signal.Signal) {
			sig.Score = 20
			sig.DetectionLatencySeconds = 120
		}, DecisionStale},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newIntakeFixture(t)
			sig := freshSignal(16)
			tc.setup(f, sig)

			d, err := f.intake.Process(context.Background(), sig)
			require.NoError(t, err)
			assert.Equal(t, tc.want, d)
			assert.Empty(t, f.buyer.buys, "no buy")
			assert.False(t, f.pm.Has(testCA))
			assert.Equal(t, []string{testCA}, f.detections.recorded, "every signal is recorded")
		})
	}
}

func TestIntake_WindowCountsWholeMinutes(t *testing.T) {
	cases := []struct {
		score   int
		latency float64
		want    Decision
	}{
		{16, 180, DecisionBought},
		{16, 239, DecisionBought},
		{16, 240, DecisionStale},
		{19, 299, DecisionBought},
		{19, 300, DecisionBought},
		{19, 360, DecisionStale},
		{21, 61, DecisionBought},
		{21, 119.5, DecisionBought},
		{21, 120, DecisionStale},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("score %d after %gs", tc.score, tc.latency), func(t *testing.T) {
			f := newIntakeFixture(t)
			sig := freshSignal(tc.score)
			sig.DetectionLatencySeconds = tc.latency

			d, err := f.intake.Process(context.Background(), sig)
			require.NoError(t, err)
			assert.Equal(t, tc.want, d)
		})
	}
}

func TestIntake_HoldingAndLimit(t *testing.T) {
	f := newIntakeFixture(t)

	d, err := f.intake.Process(context.Background(), freshSignal(16))
	require.NoError(t, err)
	require.Equal(t, DecisionBought, d)

	d, err = f.intake.Process(context.Background(), freshSignal(16))
	require.NoError(t, err)
	assert.Equal(t, DecisionHolding, d)

	f.pm.SetMaxPositions(1)
	other := freshSignal(16)
	other.ContractAddress = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	d, err = f.intake.Process(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, DecisionMaxPositions, d)
	assert.Len(t, f.buyer.buys, 1)
}

func TestIntake_LowScoreWhenEnabled(t *testing.T) {
	f := newIntakeFixture(t)
	f.cfg.Trading.TradeLowScore = true

	sig := freshSignal(12)
	sig.DetectionLatencySeconds = 59

	d, err := f.intake.Process(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, DecisionBought, d)
	assert.Equal(t, []uint64{10_000_000}, f.buyer.buys)
	assert.Equal(t, LowScoreBucket, f.pm.Get(testCA).Position.Bucket)

	f2 := newIntakeFixture(t)
	f2.cfg.Trading.TradeLowScore = true
	late := freshSignal(12)
	late.DetectionLatencySeconds = 60
	d, err = f2.intake.Process(context.Background(), late)
	require.NoError(t, err)
	assert.Equal(t, DecisionStale, d, "low scores only buy within the first minute")
}

func TestIntake_BuyFailure(t *testing.T) {
	f := newIntakeFixture(t)
	f.buyer.err = swap.ErrQuoteUnavailable

	d, err := f.intake.Process(context.Background(), freshSignal(16))
	assert.Equal(t, DecisionBuyFailed, d)
	assert.ErrorIs(t, err, swap.ErrQuoteUnavailable)
	assert.False(t, f.pm.Has(testCA))
	assert.Empty(t, f.ledger.bought)
}

func TestIntake_RunDrainsChannel(t *testing.T) {
	f := newIntakeFixture(t)
	ch := make(chan *signal.Signal, 1)
	ch <- freshSignal(16)
	close(ch)

	require.NoError(t, f.intake.Run(context.Background(), ch))
	assert.True(t, f.pm.Has(testCA))
}
