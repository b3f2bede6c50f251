package views

import (
	"sort"
	"time"

	"botwatch/internal/model"

	"github.com/shopspring/decimal"
)

// DefaultStrategies are always reported, even before they have traded.
var DefaultStrategies = []string{"Grid", "Momentum", "Arbitrage"}

// groupKey identifies one statistics group.
type groupKey struct {
	strategy string
	exchange model.Exchange
	market   model.Market
}

type accumulator struct {
	total, wins, losses int
	pnl                 decimal.Decimal
	lastActive          time.Time
}

func (a *accumulator) add(t model.Trade) {
	a.total++
	switch t.PnL.Sign() {
	case 1:
		a.wins++
	case -1:
		a.losses++
	}
	a.pnl = a.pnl.Add(t.PnL)
	if t.Timestamp.After(a.lastActive) {
		a.lastActive = t.Timestamp
	}
}

func (a *accumulator) stat(k groupKey) model.StrategyStat {
	s := model.StrategyStat{
		Strategy:    k.strategy,
		Exchange:    k.exchange,
		Market:      k.market,
		TotalTrades: a.total,
		Wins:        a.wins,
		Losses:      a.losses,
		TotalPnL:    a.pnl,
		AvgPnL:      decimal.Zero,
	}
	if a.total > 0 {
		s.WinRate = float64(a.wins) / float64(a.total) * 100
		s.AvgPnL = a.pnl.Div(decimal.NewFromInt(int64(a.total)))
	}
	if !a.lastActive.IsZero() {
		last := a.lastActive
		s.LastActive = &last
	}
	return s
}

// MarketOf classifies a position type as spot or futures activity.
func MarketOf(p model.PositionType) model.Market {
	if p == model.PositionSpot || p == "" {
		return model.MarketSpot
	}
	return model.MarketFutures
}

// aggregate reduces trades into groups keyed by keyFn.
func aggregate(trades []model.Trade, seed []groupKey, keyFn func(model.Trade) groupKey) []model.StrategyStat {
	groups := make(map[groupKey]*accumulator, len(seed))
	for _, k := range seed {
		groups[k] = &accumulator{pnl: decimal.Zero}
	}

	for _, t := range trades {
		k := keyFn(t)
		acc, ok := groups[k]
		if !ok {
			acc = &accumulator{pnl: decimal.Zero}
			groups[k] = acc
		}
		acc.add(t)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].strategy != keys[j].strategy {
			return keys[i].strategy < keys[j].strategy
		}
		if keys[i].exchange != keys[j].exchange {
			return keys[i].exchange < keys[j].exchange
		}
		return keys[i].market < keys[j].market
	})

	out := make([]model.StrategyStat, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k].stat(k))
	}
	return out
}

// StrategyStats aggregates trades per strategy. Every strategy in known appears in
// the result, with zero statistics when it has no trades.
func StrategyStats(trades []model.Trade, known []string) []model.StrategyStat {
	seed := make([]groupKey, 0, len(known))
	for _, s := range known {
		seed = append(seed, groupKey{strategy: s})
	}
	return aggregate(trades, seed, func(t model.Trade) groupKey {
		return groupKey{strategy: t.Strategy}
	})
}

// ExchangeStats aggregates trades per strategy and exchange.
func ExchangeStats(trades []model.Trade) []model.StrategyStat {
	return aggregate(trades, nil, func(t model.Trade) groupKey {
		ex := t.Exchange
		if ex == "" {
			ex = model.ExchangeBinance
		}
		return groupKey{strategy: t.Strategy, exchange: ex}
	})
}

// MarketStats aggregates trades per strategy, split into spot and futures.
func MarketStats(trades []model.Trade) []model.StrategyStat {
	return aggregate(trades, nil, func(t model.Trade) groupKey {
		return groupKey{strategy: t.Strategy, market: MarketOf(t.PositionType)}
	})
}

// PnLSince sums the P&L of trades at or after since.
func PnLSince(trades []model.Trade, since time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		if !t.Timestamp.Before(since) {
			total = total.Add(t.PnL)
		}
	}
	return total
}

// StartOfDay returns midnight of now's day in loc.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
}
