package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// Test_ValidatePair tests the ValidatePair function with various inputs
func Test_ValidatePair(t *testing.T) {
	tests := []struct {
		name        string
		pair        string
		expectedErr error
		description string
	}{
		{
			name:        "Valid BTC/USDT",
			pair:        "BTC/USDT",
			description: "Should accept a USDT pair",
		},
		{
			name:        "Valid futures pair",
			pair:        "ETH/USD",
			description: "Should accept a USD quoted futures pair",
		},
		{
			name:        "Lowercase quote",
			pair:        "sol/usdt",
			description: "Quote asset check is case-insensitive",
		},
		{
			name:        "Empty pair",
			pair:        "",
			expectedErr: ErrEmptyPair,
			description: "Should reject an empty pair",
		},
		{
			name:        "Missing separator",
			pair:        "BTCUSDT",
			expectedErr: ErrBadPair,
			description: "Should reject a pair without a slash",
		},
		{
			name:        "Hyphen separator",
			pair:        "BTC-USDT",
			expectedErr: ErrBadPair,
			description: "Only slash-separated pairs are used by the bot",
		},
		{
			name:        "Empty base",
			pair:        "/USDT",
			expectedErr: ErrBadPair,
			description: "Should reject an empty base asset",
		},
		{
			name:        "Unsupported quote",
			pair:        "BTC/EUR",
			expectedErr: ErrBadPair,
			description: "Should reject unknown quote assets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePair(tt.pair)
			if tt.expectedErr == nil {
				assert.NoError(t, err, tt.description)
				return
			}
			assert.Error(t, err, tt.description)
			assert.True(t, errors.Is(err, tt.expectedErr), "Should return expected error type")
		})
	}
}

func Test_FormatCurrency(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0", "$0.00"},
		{"7", "$7.00"},
		{"999.999", "$1,000.00"},
		{"1234.5", "$1,234.50"},
		{"1234567.891", "$1,234,567.89"},
		{"-42.1", "-$42.10"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatCurrency(decimal.RequireFromString(tt.input)))
		})
	}
}

func Test_FormatPnL(t *testing.T) {
	assert.Equal(t, "+$12.34", FormatPnL(decimal.RequireFromString("12.34")))
	assert.Equal(t, "-$5.00", FormatPnL(decimal.NewFromInt(-5)))
	assert.Equal(t, "+$0.00", FormatPnL(decimal.Zero))
	assert.Equal(t, "+$1,500.00", FormatPnL(decimal.NewFromInt(1500)))
}

func Test_FormatSigned(t *testing.T) {
	assert.Equal(t, "+12.35", FormatSigned(decimal.RequireFromString("12.345")))
	assert.Equal(t, "-5.00", FormatSigned(decimal.NewFromInt(-5)))
	assert.Equal(t, "+0.00", FormatSigned(decimal.Zero))
}

func Test_FormatPercentage(t *testing.T) {
	assert.Equal(t, "+33.33%", FormatPercentage(100.0/3))
	assert.Equal(t, "-1.50%", FormatPercentage(-1.5))
	assert.Equal(t, "+0.00%", FormatPercentage(0))
}

func Test_FormatUptime(t *testing.T) {
	tests := []struct {
		seconds  int64
		expected string
	}{
		{0, "0m"},
		{59, "0m"},
		{600, "10m"},
		{3600, "1h 0m"},
		{3*3600 + 25*60 + 10, "3h 25m"},
		{-5, "0m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatUptime(tt.seconds), "seconds %d", tt.seconds)
	}
}

func Test_FormatClock(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2026, 3, 1, 20, 15, 9, 0, ist)

	assert.Equal(t, "14:45:09 UTC", FormatClock(ts))
}
