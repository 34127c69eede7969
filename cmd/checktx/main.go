package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"solana-tp-bot/internal/blockchain"
	"solana-tp-bot/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/checktx <TX_SIGNATURE>")
		os.Exit(1)
	}
	txSig := os.Args[1]

	_ = godotenv.Load()
	cfg, err := config.NewManager("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	rpc := blockchain.NewRPCClient(cfg.GetPrimaryRPCURL(), cfg.GetFallbackRPCURL(), 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := rpc.CheckTransaction(ctx, txSig)
	if err != nil {
		fmt.Printf("RPC error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(result.String())
	if result.Status == "FAILED" {
		fmt.Printf("error: %s\n", blockchain.HumanError(errors.New(result.Message)))
		os.Exit(2)
	}
}
