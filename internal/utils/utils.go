// Package utils provides formatting and validation helpers shared by the feed,
// the monitor and the read API.
//
// Money is formatted from decimal.Decimal so that values summed across many trades
// render exactly as the bot reported them.
package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Error definitions for validation functions
var (
	ErrEmptyPair = errors.New("pair cannot be empty")
	ErrBadPair   = errors.New("invalid pair")
)

// QuoteAssetSet contains the quote assets the bot trades against.
var QuoteAssetSet = map[string]bool{
	"USDT": true,
	"USD":  true,
	"BTC":  true,
	"ETH":  true,
	"INR":  true,
}

// ValidatePair checks that a pair has the "BASE/QUOTE" form with a supported quote asset.
// The check is case-insensitive.
func ValidatePair(pair string) error {
	if pair == "" {
		return ErrEmptyPair
	}

	parts := strings.Split(pair, "/")
	if len(parts) != 2 {
		return fmt.Errorf("%w: expected BASE/QUOTE, got %q", ErrBadPair, pair)
	}
	if parts[0] == "" {
		return fmt.Errorf("%w: base asset cannot be empty", ErrBadPair)
	}

	quote := strings.ToUpper(parts[1])
	if !QuoteAssetSet[quote] {
		return fmt.Errorf("%w: unsupported quote asset %q", ErrBadPair, parts[1])
	}
	return nil
}

// FormatCurrency renders d as US dollars with two decimals and thousands separators,
// e.g. "$1,234.50" or "-$7.00".
func FormatCurrency(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}

	fixed := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")
	return sign + "$" + groupThousands(intPart) + "." + frac
}

// FormatPnL renders d as a signed currency amount: "+$12.34", "-$5.00".
// Zero is rendered as a gain.
func FormatPnL(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-" + FormatCurrency(d.Abs())
	}
	return "+" + FormatCurrency(d)
}

// FormatSigned renders d with an explicit sign and two decimals: "+12.34", "-5.00".
func FormatSigned(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}

// FormatPercentage renders v with an explicit sign and two decimals: "+3.10%".
func FormatPercentage(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+%.2f%%", v)
	}
	return fmt.Sprintf("%.2f%%", v)
}

// FormatUptime renders an uptime in seconds as "Xh Ym", or "Ym" under an hour.
func FormatUptime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// FormatClock renders t as a UTC wall clock, "15:04:05 UTC".
func FormatClock(t time.Time) string {
	return t.UTC().Format("15:04:05") + " UTC"
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
