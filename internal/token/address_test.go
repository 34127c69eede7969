package token

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"wrapped sol", "So11111111111111111111111111111111111111112", nil},
		{"usdt mint", "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", nil},
		{"system program", "11111111111111111111111111111111", nil},
		{"empty", "", ErrEmptyAddress},
		{"too short", "So1111", ErrInvalidAddress},
		{"too long", strings.Repeat("A", 45), ErrInvalidAddress},
		{"zero is not base58", "So1111111111111111111111111111111111111111O", ErrInvalidAddress},
		{"wrong decoded size", strings.Repeat("z", 44), ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.in)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("ValidateAddress(%q) = %v, want nil", tt.in, err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("ValidateAddress(%q) = %v, want %v", tt.in, err, tt.want)
			}
		})
	}
}

func TestShort(t *testing.T) {
	if got := Short("So11111111111111111111111111111111111111112"); got != "So11...1112" {
		t.Errorf("Short = %q", got)
	}
	if got := Short("abc"); got != "abc" {
		t.Errorf("Short = %q", got)
	}
}
