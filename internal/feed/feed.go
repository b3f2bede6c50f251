// Package feed synthesizes the rolling activity feed shown to the operator.
//
// Trades and analysis snapshots are converted into typed entries and kept in a
// bounded newest-first buffer. Older entries fall off the end; there is no archive.
package feed

import (
	"fmt"
	"sort"
	"time"

	"botwatch/internal/model"
	"botwatch/internal/utils"
)

const (
	// DefaultCapacity is the number of entries the feed retains.
	DefaultCapacity = 50

	// SeedTrades and SeedAnalysis bound how much history is scanned when seeding.
	SeedTrades   = 40
	SeedAnalysis = 20
)

// EntryType classifies a feed entry.
type EntryType string

const (
	EntryTradeOpen   EntryType = "trade_open"
	EntryShortOpen   EntryType = "short_open"
	EntryTradeClose  EntryType = "trade_close"
	EntryTradeCancel EntryType = "trade_cancel"
	EntryAnalysis    EntryType = "analysis"
)

// Entry is one line of the activity feed.
type Entry struct {
	ID          string         `json:"id"`
	Type        EntryType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Pair        string         `json:"pair"`
	Exchange    model.Exchange `json:"exchange"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
}

// SourceKind discriminates the Source variant.
type SourceKind int

const (
	KindTrade SourceKind = iota
	KindAnalysis
)

// Source is either a trade or an analysis snapshot, tagged by Kind.
type Source struct {
	Kind     SourceKind
	Trade    model.Trade
	Analysis model.AnalysisSnapshot
}

// FromTrade wraps a trade.
func FromTrade(t model.Trade) Source {
	return Source{Kind: KindTrade, Trade: t}
}

// FromAnalysis wraps an analysis snapshot.
func FromAnalysis(a model.AnalysisSnapshot) Source {
	return Source{Kind: KindAnalysis, Analysis: a}
}

// Convert turns a source record into a feed entry.
func Convert(src Source) (Entry, error) {
	switch src.Kind {
	case KindTrade:
		return tradeEntry(src.Trade), nil
	case KindAnalysis:
		return analysisEntry(src.Analysis), nil
	default:
		return Entry{}, fmt.Errorf("unknown feed source kind %d", src.Kind)
	}
}

func tradeEntry(t model.Trade) Entry {
	t.Normalize()
	e := Entry{
		ID:        "trade-" + t.ID + "-" + string(t.Status),
		Timestamp: t.Timestamp,
		Pair:      t.Pair,
		Exchange:  t.Exchange,
	}

	switch t.Status {
	case model.TradeClosed:
		e.Type = EntryTradeClose
		e.Title = "Closed " + t.Pair
		e.Description = fmt.Sprintf("%s on %s, P&L %s", t.Strategy, t.Exchange, utils.FormatSigned(t.PnL))
	case model.TradeCancelled:
		e.Type = EntryTradeCancel
		e.Title = "Cancelled " + t.Pair
		e.Description = fmt.Sprintf("%s %s order on %s cancelled", t.Strategy, t.Side, t.Exchange)
	default:
		if t.PositionType == model.PositionShort {
			e.Type = EntryShortOpen
			e.Title = "Short " + t.Pair
		} else {
			e.Type = EntryTradeOpen
			e.Title = "Opened " + t.Pair
		}
		e.Description = fmt.Sprintf("%s %s %s @ %s on %s (%sx)",
			t.Strategy, t.Side, t.Amount.String(), t.Price.String(), t.Exchange, t.Leverage.String())
	}
	return e
}

func analysisEntry(a model.AnalysisSnapshot) Entry {
	pair := a.PairOr("Market")
	return Entry{
		ID:          "analysis-" + a.ID,
		Type:        EntryAnalysis,
		Timestamp:   a.Timestamp,
		Pair:        pair,
		Exchange:    a.ResolvedExchange(),
		Title:       "Analysis " + pair,
		Description: fmt.Sprintf("%s: %s, strategy %s", pair, a.MarketCondition, a.StrategySelected),
	}
}

// Feed is a bounded newest-first buffer of entries. It is not safe for concurrent
// use; the engine owns it from a single goroutine.
type Feed struct {
	capacity int
	entries  []Entry
}

// New creates an empty feed. A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
	}
}

// Seed replaces the feed contents with entries built from the most recent trades and
// analysis snapshots. Both inputs are expected newest-first.
func (f *Feed) Seed(trades []model.Trade, analysis []model.AnalysisSnapshot) {
	entries := make([]Entry, 0, SeedTrades+SeedAnalysis)
	for i, t := range trades {
		if i == SeedTrades {
			break
		}
		entries = append(entries, tradeEntry(t))
	}
	for i, a := range analysis {
		if i == SeedAnalysis {
			break
		}
		entries = append(entries, analysisEntry(a))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if len(entries) > f.capacity {
		entries = entries[:f.capacity]
	}
	f.entries = entries
}

// Push converts src, prepends it and truncates the feed to capacity.
func (f *Feed) Push(src Source) (Entry, error) {
	e, err := Convert(src)
	if err != nil {
		return Entry{}, err
	}

	f.entries = append(f.entries, Entry{})
	copy(f.entries[1:], f.entries)
	f.entries[0] = e
	if len(f.entries) > f.capacity {
		f.entries = f.entries[:f.capacity]
	}
	return e, nil
}

// Entries returns a copy of the feed, newest first.
func (f *Feed) Entries() []Entry {
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Len returns the number of retained entries.
func (f *Feed) Len() int {
	return len(f.entries)
}

// Capacity returns the maximum number of retained entries.
func (f *Feed) Capacity() int {
	return f.capacity
}
