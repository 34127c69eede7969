package websocket

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// WalletMonitor streams the wallet's SOL balance
type WalletMonitor struct {
	client     *Client
	walletAddr string
	onBalance  func(lamports uint64)
	sub        *Subscription
}

// NewWalletMonitor creates a wallet monitor; onBalance runs on the read loop
func NewWalletMonitor(client *Client, walletAddr string, onBalance func(lamports uint64)) *WalletMonitor {
	return &WalletMonitor{
		client:     client,
		walletAddr: walletAddr,
		onBalance:  onBalance,
	}
}

// Start subscribes to wallet SOL balance
func (w *WalletMonitor) Start() {
	if w.walletAddr == "" || w.sub != nil {
		return
	}
	w.sub = w.client.AccountSubscribe(w.walletAddr, w.handleBalanceUpdate)
	log.Info().Str("addr", truncateStr(w.walletAddr, 8)).Msg("watching wallet balance")
}

func (w *WalletMonitor) handleBalanceUpdate(data json.RawMessage) {
	var update struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Lamports uint64 `json:"lamports"`
		} `json:"value"`
	}

	if err := json.Unmarshal(data, &update); err != nil {
		log.Warn().Err(err).Msg("failed to parse balance update")
		return
	}

	log.Debug().
		Uint64("lamports", update.Value.Lamports).
		Uint64("slot", update.Context.Slot).
		Msg("wallet balance update")

	if w.onBalance != nil {
		w.onBalance(update.Value.Lamports)
	}
}

// Stop unsubscribes from wallet updates
func (w *WalletMonitor) Stop() {
	if w.sub != nil {
		w.client.Unsubscribe(w.sub, "accountUnsubscribe")
		w.sub = nil
	}
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
