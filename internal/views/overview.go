// Package views builds the derived read models of the engine.
//
// Every builder is a pure function of the store's collections: given the same
// trades and analysis index it returns the same rows in the same order. Builders
// never mutate their inputs and the engine recomputes a view in full whenever one
// of its backing collections changes.
package views

import (
	"sort"
	"strings"

	"botwatch/internal/model"
)

// instrument aggregates what the trade stream knows about one (pair, exchange).
type instrument struct {
	key        string
	pair       string
	exchange   model.Exchange
	tradeCount int
	lastTrade  *model.Trade
}

// instruments returns the union of instruments seen in trades and in pair-bound
// analysis snapshots, sorted by key.
func instruments(trades []model.Trade, latest map[string]model.AnalysisSnapshot) []*instrument {
	byKey := make(map[string]*instrument)

	for i := range trades {
		t := &trades[i]
		key := t.InstrumentKey()
		inst, ok := byKey[key]
		if !ok {
			inst = &instrument{key: key, pair: t.Pair, exchange: t.Exchange}
			byKey[key] = inst
		}
		inst.tradeCount++
		if inst.lastTrade == nil || t.Timestamp.After(inst.lastTrade.Timestamp) {
			inst.lastTrade = t
		}
	}

	for key, a := range latest {
		if _, ok := byKey[key]; ok {
			continue
		}
		byKey[key] = &instrument{key: key, pair: a.PairOr(""), exchange: a.ResolvedExchange()}
	}

	out := make([]*instrument, 0, len(byKey))
	for _, inst := range byKey {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// MarketOverview ranks every known instrument by signal strength, then by trade count.
//
// Rows are enriched with the instrument's latest analysis snapshot. Instruments that
// only have trades so far still appear, priced and labelled from their last trade.
func MarketOverview(trades []model.Trade, latest map[string]model.AnalysisSnapshot) []model.OverviewRow {
	insts := instruments(trades, latest)
	rows := make([]model.OverviewRow, 0, len(insts))

	for _, inst := range insts {
		row := model.OverviewRow{
			Key:        inst.key,
			Pair:       inst.pair,
			Exchange:   inst.exchange,
			TradeCount: inst.tradeCount,
		}

		if inst.lastTrade != nil {
			ts := inst.lastTrade.Timestamp
			price := inst.lastTrade.Price.InexactFloat64()
			row.LastTradeAt = &ts
			row.Price = &price
			row.Strategy = inst.lastTrade.Strategy
		}

		if a, ok := latest[inst.key]; ok {
			ts := a.Timestamp
			row.HasAnalysis = true
			row.LastAnalysisAt = &ts
			row.Indicators = a.Indicators.Clone()
			row.MarketCondition = a.MarketCondition
			row.AnalysisReason = a.Reason
			if a.StrategySelected != "" {
				row.Strategy = a.StrategySelected
			}
			if a.CurrentPrice != nil {
				price := *a.CurrentPrice
				row.Price = &price
			}
			if a.SignalStrength != nil {
				row.SignalStrength = *a.SignalStrength
			}
		}

		row.Condition = ClassifyCondition(row.MarketCondition)
		row.Tint = RSITint(row.Indicators.RSI)
		rows = append(rows, row)
	}

	// rows are in key order, so the stable sort leaves key as the final tie-break
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SignalStrength != rows[j].SignalStrength {
			return rows[i].SignalStrength > rows[j].SignalStrength
		}
		return rows[i].TradeCount > rows[j].TradeCount
	})
	return rows
}

// ClassifyCondition buckets the free-text market condition into three classes.
func ClassifyCondition(condition string) model.Condition {
	c := strings.ToLower(condition)
	switch {
	case strings.Contains(c, "trend"):
		return model.ConditionTrending
	case strings.Contains(c, "volatile"), strings.Contains(c, "breakout"):
		return model.ConditionVolatile
	default:
		return model.ConditionSideways
	}
}

// RSITint derives the row color hint. A missing RSI is treated as a neutral 50.
func RSITint(rsi *float64) model.Tint {
	r := 50.0
	if rsi != nil {
		r = *rsi
	}
	switch {
	case r < 40:
		return model.TintBullish
	case r > 60:
		return model.TintBearish
	default:
		return model.TintNeutral
	}
}
