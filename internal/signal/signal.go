package signal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"solana-tp-bot/internal/token"
)

// Signal is one token alert from the upstream detector
type Signal struct {
	Symbol                  string    `json:"symbol"`
	ContractAddress         string    `json:"contractAddress"`
	Score                   int       `json:"score"`
	PriceHint               float64   `json:"priceHint"`
	DetectionLatencySeconds float64   `json:"detectionLatencySeconds"`
	ReceivedAt              time.Time `json:"receivedAt"`
}

// DetectionLatency is how long ago the detector first saw the token
func (s *Signal) DetectionLatency() time.Duration {
	return time.Duration(s.DetectionLatencySeconds * float64(time.Second))
}

// Validate normalizes and checks a decoded signal
func (s *Signal) Validate() error {
	s.Symbol = strings.TrimSpace(s.Symbol)
	s.ContractAddress = strings.TrimSpace(s.ContractAddress)

	if s.Symbol == "" {
		return errors.New("missing symbol")
	}
	if err := token.ValidateAddress(s.ContractAddress); err != nil {
		return fmt.Errorf("contractAddress: %w", err)
	}
	if s.PriceHint < 0 {
		return errors.New("negative priceHint")
	}
	if s.DetectionLatencySeconds < 0 {
		return errors.New("negative detectionLatencySeconds")
	}
	return nil
}
