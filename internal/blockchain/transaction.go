package blockchain

import (
	"encoding/base64"
	"errors"
	"fmt"
)

const signatureLen = 64

// TxSigner fills the fee payer signature of aggregator-built transactions
type TxSigner struct {
	wallet *Wallet
}

// NewTxSigner creates a signer bound to one wallet
func NewTxSigner(wallet *Wallet) *TxSigner {
	return &TxSigner{wallet: wallet}
}

// SignSerializedTransaction signs a base64 transaction returned by the swap API.
//
// Wire layout: [compact-u16 signature count][count * 64 byte signatures][message].
// The wallet is the fee payer, so its signature goes into slot 0.
func (s *TxSigner) SignSerializedTransaction(serializedTxBase64 string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(serializedTxBase64)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	if len(txBytes) == 0 {
		return "", errors.New("empty transaction")
	}

	sigCount, n, err := decodeCompactU16(txBytes)
	if err != nil {
		return "", err
	}

	if sigCount == 0 {
		message := txBytes[n:]
		signature := s.wallet.Sign(message)

		signed := make([]byte, 0, 1+signatureLen+len(message))
		signed = append(signed, 1)
		signed = append(signed, signature...)
		signed = append(signed, message...)
		return base64.StdEncoding.EncodeToString(signed), nil
	}

	messageOffset := n + sigCount*signatureLen
	if messageOffset > len(txBytes) {
		return "", fmt.Errorf("transaction truncated: %d signatures, %d bytes", sigCount, len(txBytes))
	}

	message := txBytes[messageOffset:]
	copy(txBytes[n:n+signatureLen], s.wallet.Sign(message))

	return base64.StdEncoding.EncodeToString(txBytes), nil
}

func decodeCompactU16(b []byte) (value, size int, err error) {
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errors.New("compact-u16 truncated")
		}
		value |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, errors.New("compact-u16 overflow")
}
