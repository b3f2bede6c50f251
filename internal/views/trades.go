package views

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"botwatch/internal/model"
)

// ExchangeFilter restricts the trades view to one exchange. FilterAll keeps everything.
type ExchangeFilter string

const FilterAll ExchangeFilter = "all"

// ParseExchangeFilter validates a filter value coming from the presentation layer.
func ParseExchangeFilter(s string) (ExchangeFilter, error) {
	switch s {
	case "", string(FilterAll):
		return FilterAll, nil
	case string(model.ExchangeBinance), string(model.ExchangeDelta):
		return ExchangeFilter(s), nil
	}
	return "", fmt.Errorf("unknown exchange filter %q", s)
}

// FilterTrades returns the trades matching f as a new slice.
func FilterTrades(trades []model.Trade, f ExchangeFilter) []model.Trade {
	out := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if f == FilterAll || f == "" || string(t.Exchange) == string(f) {
			out = append(out, t)
		}
	}
	return out
}

// Head returns a copy of at most n leading elements.
func Head[T any](items []T, n int) []T {
	if n > len(items) {
		n = len(items)
	}
	out := make([]T, n)
	copy(out, items[:n])
	return out
}

var csvHeader = []string{
	"id", "timestamp", "pair", "exchange", "side", "price", "amount",
	"strategy", "pnl", "position_type", "leverage", "status",
}

// TradesCSV renders trades as CSV: a header row followed by one row per trade.
func TradesCSV(trades []model.Trade) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, t := range trades {
		record := []string{
			t.ID,
			t.Timestamp.UTC().Format(time.RFC3339),
			t.Pair,
			string(t.Exchange),
			string(t.Side),
			t.Price.String(),
			t.Amount.String(),
			t.Strategy,
			t.PnL.String(),
			string(t.PositionType),
			t.Leverage.String(),
			string(t.Status),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}
