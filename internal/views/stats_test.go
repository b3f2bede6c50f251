package views

import (
	"testing"
	"time"

	"botwatch/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withPnL(t model.Trade, strategy string, pnl int64) model.Trade {
	t.Strategy = strategy
	t.PnL = decimal.NewFromInt(pnl)
	return t
}

func findStat(stats []model.StrategyStat, strategy string, exchange model.Exchange, market model.Market) (model.StrategyStat, bool) {
	for _, s := range stats {
		if s.Strategy == strategy && s.Exchange == exchange && s.Market == market {
			return s, true
		}
	}
	return model.StrategyStat{}, false
}

func Test_StrategyStats_WinRateAndAverages(t *testing.T) {
	trades := []model.Trade{
		withPnL(createTestTrade("t1", "BTC/USDT", model.ExchangeBinance, 0), "Grid", 10),
		withPnL(createTestTrade("t2", "BTC/USDT", model.ExchangeBinance, 1), "Grid", -5),
		withPnL(createTestTrade("t3", "BTC/USDT", model.ExchangeBinance, 2), "Grid", 0),
	}

	stats := StrategyStats(trades, DefaultStrategies)
	grid, ok := findStat(stats, "Grid", "", "")
	require.True(t, ok)

	assert.Equal(t, 3, grid.TotalTrades)
	assert.Equal(t, 1, grid.Wins)
	assert.Equal(t, 1, grid.Losses, "Zero P&L is neither a win nor a loss")
	assert.InDelta(t, 33.33, grid.WinRate, 0.01)
	assert.True(t, grid.TotalPnL.Equal(decimal.NewFromInt(5)))
	avg, _ := grid.AvgPnL.Float64()
	assert.InDelta(t, 1.67, avg, 0.01)
	require.NotNil(t, grid.LastActive)
	assert.Equal(t, baseTime.Add(2*time.Minute), *grid.LastActive)
}

func Test_StrategyStats_DefaultStrategiesAlwaysPresent(t *testing.T) {
	stats := StrategyStats(nil, DefaultStrategies)
	require.Len(t, stats, 3)

	for _, s := range stats {
		assert.Equal(t, 0, s.TotalTrades, "strategy %s", s.Strategy)
		assert.Equal(t, 0.0, s.WinRate)
		assert.True(t, s.AvgPnL.IsZero())
		assert.Nil(t, s.LastActive)
	}
	assert.Equal(t, "Arbitrage", stats[0].Strategy, "Groups are sorted by name")
}

func Test_StrategyStats_UnknownStrategyAdded(t *testing.T) {
	trades := []model.Trade{withPnL(createTestTrade("t1", "BTC/USDT", model.ExchangeBinance, 0), "Scalper", 3)}

	stats := StrategyStats(trades, DefaultStrategies)
	assert.Len(t, stats, 4)
	s, ok := findStat(stats, "Scalper", "", "")
	require.True(t, ok)
	assert.Equal(t, 100.0, s.WinRate)
}

func Test_ExchangeAndMarketStats(t *testing.T) {
	spot := withPnL(createTestTrade("t1", "BTC/USDT", model.ExchangeBinance, 0), "Momentum", 4)
	long := withPnL(createTestTrade("t2", "BTC/USDT", model.ExchangeDelta, 1), "Momentum", -2)
	long.PositionType = model.PositionLong
	short := withPnL(createTestTrade("t3", "ETH/USDT", model.ExchangeDelta, 2), "Momentum", 6)
	short.PositionType = model.PositionShort
	trades := []model.Trade{spot, long, short}

	byExchange := ExchangeStats(trades)
	require.Len(t, byExchange, 2)
	delta, ok := findStat(byExchange, "Momentum", model.ExchangeDelta, "")
	require.True(t, ok)
	assert.Equal(t, 2, delta.TotalTrades)
	assert.True(t, delta.TotalPnL.Equal(decimal.NewFromInt(4)))

	byMarket := MarketStats(trades)
	require.Len(t, byMarket, 2)
	futures, ok := findStat(byMarket, "Momentum", "", model.MarketFutures)
	require.True(t, ok)
	assert.Equal(t, 2, futures.TotalTrades)
	assert.Equal(t, 50.0, futures.WinRate)
	spotStat, ok := findStat(byMarket, "Momentum", "", model.MarketSpot)
	require.True(t, ok)
	assert.Equal(t, 1, spotStat.TotalTrades)
}

func Test_MarketOf(t *testing.T) {
	assert.Equal(t, model.MarketSpot, MarketOf(model.PositionSpot))
	assert.Equal(t, model.MarketSpot, MarketOf(""))
	assert.Equal(t, model.MarketFutures, MarketOf(model.PositionLong))
	assert.Equal(t, model.MarketFutures, MarketOf(model.PositionShort))
}

func Test_PnLSince(t *testing.T) {
	trades := []model.Trade{
		withPnL(createTestTrade("t1", "BTC/USDT", model.ExchangeBinance, -60*13), "Grid", 100),
		withPnL(createTestTrade("t2", "BTC/USDT", model.ExchangeBinance, -60*12), "Grid", 7),
		withPnL(createTestTrade("t3", "BTC/USDT", model.ExchangeBinance, 30), "Grid", -3),
	}

	since := StartOfDay(baseTime, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), since)
	assert.True(t, PnLSince(trades, since).Equal(decimal.NewFromInt(4)),
		"Trades at exactly midnight count, trades the day before do not")
}
