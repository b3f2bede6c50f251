package views

import (
	"fmt"
	"testing"
	"time"

	"botwatch/internal/model"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func strPtr(s string) *string { return &s }

// createTestTrade creates a normalized open spot trade.
func createTestTrade(id, pair string, exchange model.Exchange, minute int) model.Trade {
	t := model.Trade{
		ID:        id,
		Timestamp: baseTime.Add(time.Duration(minute) * time.Minute),
		Pair:      pair,
		Exchange:  exchange,
		Side:      model.SideBuy,
		Price:     decimal.NewFromInt(100),
		Amount:    decimal.NewFromInt(2),
		Strategy:  "Grid",
		Status:    model.TradeOpen,
	}
	t.Normalize()
	return t
}

// createTestAnalysis creates an analysis snapshot keyed on pair/exchange.
func createTestAnalysis(id, pair string, exchange model.Exchange, ind model.Indicators) model.AnalysisSnapshot {
	return model.AnalysisSnapshot{
		ID:               id,
		Timestamp:        baseTime,
		Pair:             strPtr(pair),
		Exchange:         exchange,
		StrategySelected: "Momentum",
		MarketCondition:  "ranging",
		Indicators:       ind,
	}
}

// latestOf indexes snapshots by instrument key.
func latestOf(snaps ...model.AnalysisSnapshot) map[string]model.AnalysisSnapshot {
	out := make(map[string]model.AnalysisSnapshot, len(snaps))
	for _, s := range snaps {
		key, _ := s.InstrumentKey()
		out[key] = s
	}
	return out
}

func tradesFor(pair string, exchange model.Exchange, n int) []model.Trade {
	trades := make([]model.Trade, 0, n)
	for i := 0; i < n; i++ {
		trades = append(trades, createTestTrade(fmt.Sprintf("%s-%d", pair, i), pair, exchange, i))
	}
	return trades
}

func Test_MarketOverview_Ranking(t *testing.T) {
	latest := latestOf(
		createTestAnalysis("a1", "AAA/USDT", model.ExchangeBinance, model.Indicators{SignalStrength: f64(40)}),
		createTestAnalysis("a2", "BBB/USDT", model.ExchangeBinance, model.Indicators{SignalStrength: f64(80)}),
		createTestAnalysis("a3", "CCC/USDT", model.ExchangeBinance, model.Indicators{SignalStrength: f64(40)}),
	)
	var trades []model.Trade
	trades = append(trades, tradesFor("AAA/USDT", model.ExchangeBinance, 1)...)
	trades = append(trades, tradesFor("CCC/USDT", model.ExchangeBinance, 3)...)

	rows := MarketOverview(trades, latest)
	require.Len(t, rows, 3)

	assert.Equal(t, "BBB/USDT", rows[0].Pair, "Strongest signal should rank first")
	assert.Equal(t, "CCC/USDT", rows[1].Pair, "Equal strength ranks by trade count")
	assert.Equal(t, "AAA/USDT", rows[2].Pair)
	assert.Equal(t, []float64{80, 40, 40}, []float64{rows[0].SignalStrength, rows[1].SignalStrength, rows[2].SignalStrength})
	assert.Equal(t, []int{0, 3, 1}, []int{rows[0].TradeCount, rows[1].TradeCount, rows[2].TradeCount})
}

func Test_MarketOverview_MissingStrengthSortsAsZero(t *testing.T) {
	latest := latestOf(
		createTestAnalysis("a1", "AAA/USDT", model.ExchangeBinance, model.Indicators{}),
		createTestAnalysis("a2", "BBB/USDT", model.ExchangeBinance, model.Indicators{SignalStrength: f64(1)}),
	)
	trades := tradesFor("AAA/USDT", model.ExchangeBinance, 5)

	rows := MarketOverview(trades, latest)
	require.Len(t, rows, 2)
	assert.Equal(t, "BBB/USDT", rows[0].Pair)
	assert.Equal(t, 0.0, rows[1].SignalStrength)
}

func Test_MarketOverview_TradeOnlyInstrument(t *testing.T) {
	trades := tradesFor("ETH/USDT", model.ExchangeDelta, 2)
	trades[1].Price = decimal.NewFromInt(250)
	trades[1].Strategy = "Arbitrage"

	rows := MarketOverview(trades, nil)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "ETH/USDT:delta", row.Key)
	assert.False(t, row.HasAnalysis)
	require.NotNil(t, row.Price)
	assert.Equal(t, 250.0, *row.Price, "Price should fall back to the last trade")
	assert.Equal(t, "Arbitrage", row.Strategy, "Strategy should fall back to the last trade")
	assert.Equal(t, model.ConditionSideways, row.Condition)
	assert.Equal(t, model.TintNeutral, row.Tint)
}

func Test_MarketOverview_AnalysisEnrichment(t *testing.T) {
	a := createTestAnalysis("a1", "BTC/USDT", model.ExchangeBinance, model.Indicators{
		RSI:          f64(35),
		CurrentPrice: f64(64000.5),
	})
	a.MarketCondition = "Strong uptrend"

	rows := MarketOverview(tradesFor("BTC/USDT", model.ExchangeBinance, 1), latestOf(a))
	require.Len(t, rows, 1)

	row := rows[0]
	assert.True(t, row.HasAnalysis)
	assert.Equal(t, 64000.5, *row.Price)
	assert.Equal(t, "Momentum", row.Strategy)
	assert.Equal(t, model.ConditionTrending, row.Condition)
	assert.Equal(t, model.TintBullish, row.Tint)

	*row.Indicators.RSI = 99
	assert.Equal(t, 35.0, *a.RSI, "Rows must not alias snapshot indicators")
}

func Test_ClassifyCondition(t *testing.T) {
	tests := []struct {
		condition string
		expected  model.Condition
	}{
		{"trending up", model.ConditionTrending},
		{"Downtrend", model.ConditionTrending},
		{"VOLATILE", model.ConditionVolatile},
		{"breakout pending", model.ConditionVolatile},
		{"trend breakout", model.ConditionTrending},
		{"ranging", model.ConditionSideways},
		{"", model.ConditionSideways},
	}

	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyCondition(tt.condition))
		})
	}
}

func Test_RSITint(t *testing.T) {
	tests := []struct {
		name     string
		rsi      *float64
		expected model.Tint
	}{
		{"Oversold", f64(25), model.TintBullish},
		{"Just under 40", f64(39.9), model.TintBullish},
		{"Exactly 40", f64(40), model.TintNeutral},
		{"Exactly 60", f64(60), model.TintNeutral},
		{"Overbought", f64(75), model.TintBearish},
		{"Missing", nil, model.TintNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RSITint(tt.rsi))
		})
	}
}

func Test_Views_Idempotent(t *testing.T) {
	latest := latestOf(
		createTestAnalysis("a1", "AAA/USDT", model.ExchangeBinance, model.Indicators{SignalStrength: f64(40), RSI: f64(45)}),
		createTestAnalysis("a2", "BBB/USDT", model.ExchangeDelta, model.Indicators{SignalStrength: f64(40), RSI: f64(66)}),
		createTestAnalysis("a3", "CCC/USDT", model.ExchangeBinance, model.Indicators{SignalStrength: f64(40)}),
	)
	trades := append(tradesFor("AAA/USDT", model.ExchangeBinance, 2), tradesFor("DDD/USDT", model.ExchangeBinance, 2)...)

	first, err := json.Marshal(struct {
		O []model.OverviewRow
		T []model.TriggerRow
	}{MarketOverview(trades, latest), TriggerProximity(trades, latest)})
	require.NoError(t, err)

	second, err := json.Marshal(struct {
		O []model.OverviewRow
		T []model.TriggerRow
	}{MarketOverview(trades, latest), TriggerProximity(trades, latest)})
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}
