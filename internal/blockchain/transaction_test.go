package blockchain

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
)

func testWallet(t *testing.T) (*Wallet, ed25519.PublicKey) {
	t.Helper()
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	wallet, err := NewWallet(base58.Encode(privKey))
	if err != nil {
		t.Fatalf("Failed to create wallet: %v", err)
	}
	if base58.Encode(pubKey) != wallet.Address() {
		t.Errorf("Wallet address mismatch. Got %s, want %s", wallet.Address(), base58.Encode(pubKey))
	}
	return wallet, pubKey
}

func TestSignSerializedTransaction_FillsSlotZero(t *testing.T) {
	wallet, pub := testWallet(t)
	signer := NewTxSigner(wallet)

	// 1 empty signature slot followed by a short message
	message := []byte{0x80, 1, 0, 1, 2, 3, 4}
	raw := append([]byte{1}, make([]byte, 64)...)
	raw = append(raw, message...)

	signed, err := signer.SignSerializedTransaction(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("SignSerializedTransaction failed: %v", err)
	}

	out, _ := base64.StdEncoding.DecodeString(signed)
	if len(out) != len(raw) {
		t.Fatalf("signed length %d, want %d", len(out), len(raw))
	}
	if !ed25519.Verify(pub, message, out[1:65]) {
		t.Error("signature in slot 0 does not verify against the message")
	}
}

func TestSignSerializedTransaction_Truncated(t *testing.T) {
	wallet, _ := testWallet(t)
	signer := NewTxSigner(wallet)

	raw := []byte{2, 0, 0, 0}
	if _, err := signer.SignSerializedTransaction(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Error("expected error for truncated transaction")
	}
	if _, err := signer.SignSerializedTransaction("!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestNewWallet_Seed(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	w, err := NewWallet(base58.Encode(seed))
	if err != nil {
		t.Fatalf("NewWallet failed: %v", err)
	}
	want := base58.Encode(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
	if w.Address() != want {
		t.Errorf("Address() = %s, want %s", w.Address(), want)
	}

	if _, err := NewWallet(base58.Encode([]byte{1, 2, 3})); err == nil {
		t.Error("expected length error")
	}
}

type staticBalance uint64

func (s staticBalance) GetBalance(_ context.Context, _ string) (uint64, error) {
	return uint64(s), nil
}

func TestBalanceTracker(t *testing.T) {
	bt := NewBalanceTracker("addr", staticBalance(60_000_000))
	if err := bt.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !bt.HasSufficientBalance(SOLToLamports(0.05), SOLToLamports(0.01)) {
		t.Error("0.06 SOL should cover 0.05 + 0.01 reserve")
	}
	bt.SetBalance(50_000_000)
	if bt.HasSufficientBalance(SOLToLamports(0.05), SOLToLamports(0.01)) {
		t.Error("0.05 SOL should not cover 0.05 + 0.01 reserve")
	}
}
