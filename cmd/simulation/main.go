package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"solana-tp-bot/internal/config"
	signalPkg "solana-tp-bot/internal/signal"
	"solana-tp-bot/internal/storage"
	"solana-tp-bot/internal/swap"
	"solana-tp-bot/internal/trading"
)

const simMint = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"

// path replays one multiple per tick, holding the last one
type path struct {
	mu    sync.Mutex
	entry float64
	steps []float64
	i     int
}

func (p *path) GetPrice(context.Context, string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.steps[min(p.i, len(p.steps)-1)]
	p.i++
	return p.entry * m, true
}

// current is the multiple last handed out
func (p *path) current() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.steps[min(max(p.i-1, 0), len(p.steps)-1)]
}

func (p *path) done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.i >= len(p.steps)
}

// paperSeller fills every sell at the current multiple of the entry cost
type paperSeller struct {
	prices      *path
	lamportsPer float64
}

func (s *paperSeller) Sell(_ context.Context, mint string, amount uint64) (*swap.Result, error) {
	out := uint64(float64(amount) * s.lamportsPer * s.prices.current())
	log.Info().Uint64("tokens", amount).Float64("sol", float64(out)/1e9).Msg("paper sell")
	return &swap.Result{
		Side:        swap.Sell,
		Mint:        mint,
		TxIDs:       []string{"paper"},
		Requested:   amount,
		RealizedIn:  amount,
		RealizedOut: out,
		Outcome:     swap.OutcomeFull,
	}, nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "config/config.yaml", "config file")
	score := flag.Int("score", 16, "signal score")
	tick := flag.Duration("tick", 200*time.Millisecond, "monitor tick")
	flag.Parse()

	steps := []float64{1.0, 1.4, 2.1, 2.6, 3.2, 4.1, 3.8, 5.2, 6.0}
	if flag.NArg() > 0 {
		steps = steps[:0]
		for _, a := range flag.Args() {
			m, err := strconv.ParseFloat(a, 64)
			if err != nil || m <= 0 {
				log.Fatal().Str("arg", a).Msg("multiples must be positive numbers")
			}
			steps = append(steps, m)
		}
	}

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	dir, err := os.MkdirTemp("", "tp-sim")
	if err != nil {
		log.Fatal().Err(err).Msg("temp dir")
	}
	defer os.RemoveAll(dir)
	db, err := storage.NewDB(filepath.Join(dir, "sim.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger")
	}
	defer db.Close()

	book := trading.NewLadderBook(cfg.GetTrading().Buckets)
	bucket, ok := book.BucketFor(*score)
	if !ok {
		log.Fatal().Int("score", *score).Msg("score has no bucket")
	}

	const entry = 0.000062
	prices := &path{entry: entry, steps: steps}
	tokens := uint64(bucket.AmountSol / entry * 1e6)

	pm := trading.NewPositionManager(book, trading.Deps{
		Prices:   prices,
		Seller:   &paperSeller{prices: prices, lamportsPer: bucket.AmountSol * 1e9 / float64(tokens)},
		Ledger:   db,
		History:  db,
		StopLoss: func() trading.StopLossPolicy { return trading.StopLossFrom(cfg.GetStopLoss()) },
		Tick:     *tick,
	}, 1)

	ctx := context.Background()
	sig := &signalPkg.Signal{Symbol: "SIM", ContractAddress: simMint, Score: *score, PriceHint: entry}
	if err := db.LogBought(ctx, sig.Symbol, simMint, entry, bucket.AmountSol, *score, "paper"); err != nil {
		log.Fatal().Err(err).Msg("ledger")
	}
	h, _ := pm.AddPosition(sig, trading.Fill{
		TxID:       "paper",
		EntryPrice: entry,
		Tokens:     tokens,
		AmountSol:  bucket.AmountSol,
		BoughtAt:   time.Now(),
	})
	if h == nil {
		log.Fatal().Msg("position rejected")
	}
	log.Info().
		Str("bucket", bucket.Name).
		Float64("sol", bucket.AmountSol).
		Uint64("tokens", tokens).
		Floats64("path", steps).
		Msg("replaying price path")

	for !prices.done() && pm.Has(simMint) {
		time.Sleep(*tick / 4)
	}
	time.Sleep(*tick)

	snap := h.Position.Snapshot()
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pm.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}

	total, winRate, pnl, err := db.GetTradingStats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("stats")
	}
	log.Info().
		Str("status", snap.Status).
		Float64("remaining_pct", snap.RemainingPercent).
		Float64("max_multiple", snap.MaxMultiple).
		Floats64("rungs", snap.Executed).
		Int("closed_trades", total).
		Float64("win_rate", winRate).
		Float64("pnl_sol", pnl).
		Msg("simulation complete")
}
