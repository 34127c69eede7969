package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"solana-tp-bot/internal/blockchain"
	"solana-tp-bot/internal/config"
	"solana-tp-bot/internal/health"
	"solana-tp-bot/internal/jupiter"
	"solana-tp-bot/internal/price"
	signalPkg "solana-tp-bot/internal/signal"
	"solana-tp-bot/internal/storage"
	"solana-tp-bot/internal/swap"
	"solana-tp-bot/internal/trading"
	"solana-tp-bot/internal/websocket"
)

// USDC is only quoted by the aggregator health check
const usdcMint = "EPjFWdd5AufqSSqeM2qNuzx2ePbJ1H7W8GqBmGF5y6v7"

func main() {
	setupLogger()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	if err := run(configPath); err != nil {
		log.Fatal().Err(err).Msg("bot stopped")
	}
	log.Info().Msg("goodbye")
}

func run(configPath string) error {
	log.Info().Msg("solana take-profit bot starting")

	cfg, err := config.NewManager(configPath)
	if err != nil {
		return err
	}
	c := cfg.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	if dir := filepath.Dir(c.Storage.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	db, err := storage.NewDB(c.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	blacklist, err := storage.NewBlacklist(ctx, db)
	if err != nil {
		return err
	}
	losses := storage.NewLossGuard(db, func() float64 { return cfg.GetTrading().DailyLossLimitSol })
	logOrphans(ctx, db)

	// Chain
	wallet, err := blockchain.NewWallet(cfg.GetPrivateKey())
	if err != nil {
		return err
	}
	rpc := blockchain.NewRPCClient(cfg.GetPrimaryRPCURL(), cfg.GetFallbackRPCURL(), time.Duration(c.RPC.TimeoutSeconds)*time.Second)
	balance := blockchain.NewBalanceTracker(wallet.Address(), rpc)
	if err := balance.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial balance refresh failed")
	}
	log.Info().
		Str("address", wallet.Address()).
		Float64("balance", balance.BalanceSOL()).
		Msg("wallet loaded")
	if balance.BalanceSOL() < c.Trading.FeeReserveSol {
		log.Warn().Float64("balance", balance.BalanceSOL()).Msg("low balance, buys will be skipped")
	}

	// Swaps
	jup := jupiter.NewClient(jupiter.Options{
		BaseURL:             c.Jupiter.APIURL,
		Timeout:             time.Duration(c.Jupiter.TimeoutSeconds) * time.Second,
		APIKeys:             cfg.GetJupiterAPIKeys(),
		MaxRetries:          c.Jupiter.MaxRetries,
		MaxPriorityLamports: c.Jupiter.MaxPriorityLamports,
	})
	sw := cfg.GetSwap()
	executor := swap.NewExecutor(jup, blockchain.NewTxSigner(wallet), rpc, wallet.Address(), swap.Config{
		SlippageLadder:       sw.SlippageLadderBps,
		MaxRecursionDepth:    sw.MaxRecursionDepth,
		MinTokenThreshold:    sw.MinTokenThreshold,
		MinLamportsThreshold: sw.MinLamportsThreshold,
		ConfirmWait:          cfg.ConfirmWait(),
		MinPlausibleLamports: sw.MinPlausibleLamports,
	})

	// Prices
	oracle := price.NewOracle(cfg.PriceTimeout(), price.NewProviders(price.Settings{
		Order:          c.Price.Providers,
		BirdeyeURL:     c.Price.BirdeyeURL,
		BirdeyeAPIKey:  cfg.GetBirdeyeAPIKey(),
		JupiterURL:     c.Price.JupiterPriceURL,
		DexScreenerURL: c.Price.DexScreenerURL,
	})...)
	log.Info().Strs("providers", oracle.Providers()).Msg("price oracle ready")

	// Trading
	book := trading.NewLadderBook(c.Trading.Buckets)
	manager := trading.NewPositionManager(book, trading.Deps{
		Prices:   oracle,
		Seller:   executor,
		Ledger:   db,
		History:  db,
		StopLoss: func() trading.StopLossPolicy { return trading.StopLossFrom(cfg.GetStopLoss()) },
		Tick:     cfg.TickInterval(),
	}, c.Trading.MaxOpenPositions)

	intake := trading.NewIntake(cfg, manager, trading.IntakeDeps{
		Buyer:      executor,
		Prices:     oracle,
		Tokens:     rpc,
		Owner:      wallet.Address(),
		Balance:    balance,
		Blacklist:  blacklist,
		Losses:     losses,
		Detections: db,
		Ledger:     db,
	})

	cfg.SetOnChange(func(nc *config.Config) {
		manager.SetMaxPositions(nc.Trading.MaxOpenPositions)
		log.Info().
			Bool("auto_trading", nc.Trading.AutoTradingEnabled).
			Int("max_positions", nc.Trading.MaxOpenPositions).
			Msg("config reloaded")
	})

	// Health
	checker := health.NewChecker(30*time.Second,
		health.Dependency{Name: "rpc", Check: rpc.Health},
		health.Dependency{Name: "jupiter", Check: func(ctx context.Context) error {
			_, err := jup.GetQuote(ctx, jupiter.SOLMint, usdcMint, 1_000_000, 50)
			return err
		}},
	)

	// Signal intake
	signals := make(chan *signalPkg.Signal, max(c.Trading.SignalsBufferSize, 1))
	server := signalPkg.NewServer(c.Server.Host, c.Server.Port, c.Server.RateLimitPerMinute, signalPkg.NewHandler(
		signals,
		func() any { return manager.Snapshots() },
		func() (bool, any) { return checker.Healthy(), checker.GetStatuses() },
	))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return intake.Run(gctx, signals) })
	g.Go(func() error { return checker.Run(gctx) })
	g.Go(func() error {
		if err := server.Start(); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	})

	if c.WebSocket.Enabled {
		ws := websocket.NewClient(cfg.GetWSURL(), websocket.Options{
			PingInterval:   time.Duration(c.WebSocket.PingIntervalMs) * time.Millisecond,
			ReconnectDelay: time.Duration(c.WebSocket.ReconnectDelayMs) * time.Millisecond,
		})
		wm := websocket.NewWalletMonitor(ws, wallet.Address(), balance.SetBalance)
		wm.Start()
		g.Go(func() error {
			defer wm.Stop()
			return ws.Run(gctx)
		})
	} else {
		g.Go(func() error { return refreshBalance(gctx, balance, time.Minute) })
	}

	log.Info().
		Str("host", c.Server.Host).
		Int("port", c.Server.Port).
		Bool("auto_trading", c.Trading.AutoTradingEnabled).
		Int("max_positions", c.Trading.MaxOpenPositions).
		Msg("bot running")

	err = g.Wait()

	log.Info().Int("open", manager.Count()).Msg("shutting down, draining monitors")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if serr := manager.Shutdown(sctx); serr != nil {
		log.Error().Err(serr).Msg("monitors did not drain in time")
	}
	return err
}

// logOrphans reports trades left open by a previous run. They are not
// resumed; the operator settles them by hand.
func logOrphans(ctx context.Context, db *storage.DB) {
	trades, err := db.ActiveTrades(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read active trades")
		return
	}
	for _, t := range trades {
		log.Warn().
			Str("symbol", t.Symbol).
			Str("ca", t.CA).
			Float64("remaining_pct", t.RemainingPercent).
			Time("bought_at", t.BoughtAt).
			Msg("orphaned trade from previous run")
	}
}

func refreshBalance(ctx context.Context, b *blockchain.BalanceTracker, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.Refresh(ctx); err != nil {
				log.Debug().Err(err).Msg("balance refresh failed")
			}
		}
	}
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
