package token

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

var (
	ErrEmptyAddress   = errors.New("empty address")
	ErrInvalidAddress = errors.New("invalid address")
)

// PublicKeyLen is the decoded size of a Solana account address
const PublicKeyLen = 32

var base58Set = func() [256]bool {
	var set [256]bool
	const base58Chars = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	for i := 0; i < len(base58Chars); i++ {
		set[base58Chars[i]] = true
	}
	return set
}()

// ValidateAddress checks that s is a base58 encoded 32-byte public key
func ValidateAddress(s string) error {
	if s == "" {
		return ErrEmptyAddress
	}
	// 32 bytes encode to 32..44 characters
	if len(s) < 32 || len(s) > 44 {
		return fmt.Errorf("%w: length %d", ErrInvalidAddress, len(s))
	}
	if !isValidBase58(s) {
		return fmt.Errorf("%w: non-base58 character", ErrInvalidAddress)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(b) != PublicKeyLen {
		return fmt.Errorf("%w: decodes to %d bytes", ErrInvalidAddress, len(b))
	}
	return nil
}

// IsAddress reports whether s is a valid account address
func IsAddress(s string) bool {
	return ValidateAddress(s) == nil
}

// Short abbreviates an address for log lines
func Short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func isValidBase58(s string) bool {
	for i := 0; i < len(s); i++ {
		if !base58Set[s[i]] {
			return false
		}
	}
	return true
}
