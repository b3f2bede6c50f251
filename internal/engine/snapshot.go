package engine

import (
	"time"

	"botwatch/internal/feed"
	"botwatch/internal/model"
	"botwatch/internal/monitor"
	"botwatch/internal/store"
	"botwatch/internal/views"

	"github.com/shopspring/decimal"
)

// Snapshot is an immutable read model of the engine state. Slices in a published
// snapshot are never modified; consumers must not modify them either.
type Snapshot struct {
	Version       uint64                   `json:"version"`
	GeneratedAt   time.Time                `json:"generated_at"`
	Health        monitor.Health           `json:"health"`
	Overview      []model.OverviewRow      `json:"overview"`
	Triggers      []model.TriggerRow       `json:"triggers"`
	Positions     []model.PositionRow      `json:"positions"`
	Strategies    []model.StrategyStat     `json:"strategies"`
	ExchangeStats []model.StrategyStat     `json:"exchange_stats"`
	MarketStats   []model.StrategyStat     `json:"market_stats"`
	Filter        views.ExchangeFilter     `json:"filter"`
	Trades        []model.Trade            `json:"trades"`
	RecentTrades  []model.Trade            `json:"recent_trades"`
	StrategyLog   []model.AnalysisSnapshot `json:"strategy_log"`
	Feed          []feed.Entry             `json:"feed"`
	TotalPnL      decimal.Decimal          `json:"total_pnl"`
	TodayPnL      decimal.Decimal          `json:"today_pnl"`
}

// build derives a new snapshot from prev, recomputing only the affected views.
// It must run on the loop goroutine, or before the loop starts.
func (e *Engine) build(prev *Snapshot, affected store.View) *Snapshot {
	next := *prev
	next.Version = prev.Version + 1
	now := e.now()
	next.GeneratedAt = now

	var (
		trades      []model.Trade
		tradesReady bool
		latest      map[string]model.AnalysisSnapshot
	)
	allTrades := func() []model.Trade {
		if !tradesReady {
			trades = e.store.Trades()
			tradesReady = true
		}
		return trades
	}
	latestAnalysis := func() map[string]model.AnalysisSnapshot {
		if latest == nil {
			latest = e.store.LatestAnalysis()
		}
		return latest
	}

	if affected.Has(store.ViewTrades) {
		next.Filter = e.filter
		next.Trades = views.FilterTrades(allTrades(), e.filter)
		next.RecentTrades = views.Head(next.Trades, recentTradesCount)
	}
	if affected.Has(store.ViewOverview) {
		next.Overview = views.MarketOverview(allTrades(), latestAnalysis())
	}
	if affected.Has(store.ViewTriggers) {
		next.Triggers = views.TriggerProximity(allTrades(), latestAnalysis())
	}
	if affected.Has(store.ViewPositions) {
		next.Positions = views.OpenPositions(allTrades())
	}
	if affected.Has(store.ViewStats) {
		next.Strategies = views.StrategyStats(allTrades(), e.cfg.Strategies)
		next.ExchangeStats = views.ExchangeStats(allTrades())
		next.MarketStats = views.MarketStats(allTrades())
		next.TotalPnL = views.PnLSince(allTrades(), time.Time{})
	}
	if affected.Has(store.ViewStrategyLog) {
		next.StrategyLog = views.Head(e.store.Analysis(), strategyLogCount)
	}
	if affected.Has(store.ViewFeed) {
		next.Feed = e.feed.Entries()
	}
	if affected.Has(store.ViewHealth) || affected.Has(store.ViewStats) {
		next.TodayPnL = views.PnLSince(allTrades(), views.StartOfDay(now, time.UTC))
	}
	if affected.Has(store.ViewHealth) {
		var status *model.StatusSnapshot
		if st, ok := e.store.Status(); ok {
			status = &st
		}
		next.Health = e.monitor.Evaluate(status, e.connected, now)
	}
	return &next
}
