package blockchain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// LamportsPerSOL is the native unit scale
const LamportsPerSOL = 1_000_000_000

// Wallet holds the keypair for signing transactions
type Wallet struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    string
}

// NewWallet creates a wallet from a base58-encoded private key, either the
// 64 byte secret key or the 32 byte seed. Load it from the environment,
// never from the config file.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	var privateKey ed25519.PrivateKey
	switch len(privateKeyBytes) {
	case ed25519.PrivateKeySize:
		privateKey = ed25519.PrivateKey(privateKeyBytes)
	case ed25519.SeedSize:
		privateKey = ed25519.NewKeyFromSeed(privateKeyBytes)
	default:
		return nil, fmt.Errorf("invalid private key length: %d (expected 32 or 64)", len(privateKeyBytes))
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)
	address := base58.Encode(publicKey)

	log.Info().Str("address", address).Msg("wallet loaded")

	return &Wallet{
		privateKey: privateKey,
		publicKey:  publicKey,
		address:    address,
	}, nil
}

// Address returns the wallet's public key as Base58 string
func (w *Wallet) Address() string {
	return w.address
}

// Sign signs a message with the wallet's private key
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.privateKey, message)
}

// BalanceSource reads a lamport balance
type BalanceSource interface {
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
}

// BalanceTracker caches the wallet's SOL balance for pre-trade checks.
// Fill confirmation always reads the chain directly.
type BalanceTracker struct {
	mu              sync.RWMutex
	address         string
	source          BalanceSource
	balanceLamports uint64
}

// NewBalanceTracker creates a new balance tracker
func NewBalanceTracker(address string, source BalanceSource) *BalanceTracker {
	return &BalanceTracker{
		address: address,
		source:  source,
	}
}

// Refresh updates the balance from RPC
func (b *BalanceTracker) Refresh(ctx context.Context) error {
	balance, err := b.source.GetBalance(ctx, b.address)
	if err != nil {
		return err
	}
	b.SetBalance(balance)
	return nil
}

// BalanceLamports returns balance in lamports
func (b *BalanceTracker) BalanceLamports() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balanceLamports
}

// BalanceSOL returns balance in SOL
func (b *BalanceTracker) BalanceSOL() float64 {
	return float64(b.BalanceLamports()) / LamportsPerSOL
}

// SetBalance directly sets balance (websocket account updates)
func (b *BalanceTracker) SetBalance(lamports uint64) {
	b.mu.Lock()
	b.balanceLamports = lamports
	b.mu.Unlock()
}

// HasSufficientBalance checks if wallet can afford a trade plus a fee reserve
func (b *BalanceTracker) HasSufficientBalance(amountLamports, reserveLamports uint64) bool {
	return b.BalanceLamports() >= amountLamports+reserveLamports
}

// SOLToLamports converts a SOL amount to lamports, truncating dust
func SOLToLamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(sol * LamportsPerSOL)
}
