package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSafeDecimalPlaces(t *testing.T) {
	tests := []struct {
		decimals int
		want     int32
	}{
		{0, 0},
		{2, 2},
		{6, 6},
		{8, 6},
		{18, 8},
		{4, 4},  // unlisted, below cap
		{24, 8}, // unlisted, above cap
	}

	for _, tt := range tests {
		if got := SafeDecimalPlaces(tt.decimals); got != tt.want {
			t.Errorf("SafeDecimalPlaces(%d) = %d, want %d", tt.decimals, got, tt.want)
		}
	}
}

func TestTruncateToSafeDecimals(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
	}{
		{"18-decimal token truncates to 8", "1.234567891234", 18, "1.23456789"},
		{"8-decimal token truncates to 6", "0.12345678", 8, "0.123456"},
		{"rounds down never up", "0.9999999999", 18, "0.99999999"},
		{"integer-only token", "5.9", 0, "5"},
		{"already within precision", "1.5", 6, "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateToSafeDecimals(decimal.RequireFromString(tt.amount), tt.decimals)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("TruncateToSafeDecimals(%s, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestTruncatedMaxNeverExceedsBalance(t *testing.T) {
	// A MAX derived from a full-precision balance must still pass a strict
	// balance check after truncation.
	balance := decimal.RequireFromString("123.456789123456789123")
	truncated := TruncateToSafeDecimals(balance, 18)
	if truncated.GreaterThan(balance) {
		t.Errorf("truncated %s exceeds balance %s", truncated, balance)
	}
}
