// Package store holds the raw telemetry collections of the engine.
//
// The Store owns three collections: trades, analysis snapshots and the rolling bot
// status. Trades and analysis are kept most-recent-first by timestamp so that
// out-of-order arrivals land where they belong; status only keeps the current and
// the previous heartbeat.
//
// Thread Safety:
//   - The Store is not safe for concurrent use. It is owned by the engine loop
//     goroutine, which is the single writer and the only reader.
//   - Accessors return copies; callers never alias store memory.
package store

import (
	"errors"
	"fmt"
	"time"

	"botwatch/internal/model"
)

// View is a bit set naming the derived views a mutation affects.
type View uint8

const (
	ViewTrades View = 1 << iota
	ViewOverview
	ViewTriggers
	ViewPositions
	ViewStats
	ViewFeed
	ViewStrategyLog
	ViewHealth

	// ViewAll marks every derived view as stale.
	ViewAll View = 0xFF
)

// Has reports whether v contains all views in other.
func (v View) Has(other View) bool {
	return v&other == other
}

const (
	tradeViews    = ViewTrades | ViewOverview | ViewTriggers | ViewPositions | ViewStats | ViewFeed
	analysisViews = ViewOverview | ViewTriggers | ViewFeed | ViewStrategyLog
	statusViews   = ViewHealth
)

// Config bounds the collections. Zero values mean unbounded.
type Config struct {
	MaxTrades   int // Oldest trades are evicted beyond this count
	MaxAnalysis int // Oldest analysis snapshots are evicted beyond this count
}

// Result describes the outcome of one append.
type Result struct {
	Affected View // Derived views that must be recomputed
	Replaced bool // An existing record with the same identity was replaced
	Ignored  bool // The record was a duplicate and left the store unchanged
	Skipped  int  // Backfill events rejected by validation
}

// Store is the in-memory stream store.
type Store struct {
	cfg Config

	trades   []model.Trade
	tradeIDs map[string]struct{}

	analysis    []model.AnalysisSnapshot
	analysisIDs map[string]struct{}

	status     *model.StatusSnapshot
	prevStatus *model.StatusSnapshot

	resolver *Resolver
	seq      uint64
}

// New creates an empty store.
func New(cfg Config) *Store {
	return &Store{
		cfg:         cfg,
		tradeIDs:    make(map[string]struct{}),
		analysisIDs: make(map[string]struct{}),
		resolver:    NewResolver(),
	}
}

// Append applies a single event with the identity rules of its stream.
func (s *Store) Append(ev model.Event) (Result, error) {
	if err := ev.Validate(); err != nil {
		return Result{}, fmt.Errorf("append: %w", err)
	}

	switch ev.Stream {
	case model.StreamTrades:
		return s.appendTrade(*ev.Trade), nil
	case model.StreamAnalysis:
		return s.appendAnalysis(*ev.Analysis), nil
	default:
		return s.setStatus(*ev.Status), nil
	}
}

// Backfill bulk-loads records delivered by the initial backfill call. The same
// identity rules apply as for Append. Events that fail validation or belong to
// another stream are skipped; the rest of the batch is still applied and the
// returned error joins one entry per skipped event.
func (s *Store) Backfill(stream model.Stream, events []model.Event) (Result, error) {
	var (
		res  Result
		errs []error
	)
	for i, ev := range events {
		if ev.Stream != stream {
			res.Skipped++
			errs = append(errs, fmt.Errorf("backfill %s: event %d belongs to stream %s", stream, i, ev.Stream))
			continue
		}
		r, err := s.Append(ev)
		if err != nil {
			res.Skipped++
			errs = append(errs, fmt.Errorf("backfill %s: event %d: %w", stream, i, err))
			continue
		}
		res.Affected |= r.Affected
	}
	return res, errors.Join(errs...)
}

func (s *Store) appendTrade(t model.Trade) Result {
	t.Normalize()

	if _, ok := s.tradeIDs[t.ID]; ok {
		for i := range s.trades {
			if s.trades[i].ID != t.ID {
				continue
			}
			if s.trades[i].Timestamp.Equal(t.Timestamp) {
				s.trades[i] = t
				break
			}
			// A moved timestamp re-sorts the trade.
			s.trades = append(s.trades[:i], s.trades[i+1:]...)
			s.trades = insertNewestFirst(s.trades, t, func(x model.Trade) time.Time { return x.Timestamp })
			break
		}
		return Result{Affected: tradeViews, Replaced: true}
	}

	s.tradeIDs[t.ID] = struct{}{}
	s.trades = insertNewestFirst(s.trades, t, func(x model.Trade) time.Time { return x.Timestamp })

	if s.cfg.MaxTrades > 0 {
		for len(s.trades) > s.cfg.MaxTrades {
			evicted := s.trades[len(s.trades)-1]
			s.trades = s.trades[:len(s.trades)-1]
			delete(s.tradeIDs, evicted.ID)
		}
	}
	return Result{Affected: tradeViews}
}

func (s *Store) appendAnalysis(a model.AnalysisSnapshot) Result {
	if _, ok := s.analysisIDs[a.ID]; ok {
		return Result{Ignored: true}
	}

	s.analysisIDs[a.ID] = struct{}{}
	s.analysis = insertNewestFirst(s.analysis, a, func(x model.AnalysisSnapshot) time.Time { return x.Timestamp })
	s.seq++
	s.resolver.Observe(a, s.seq)

	if s.cfg.MaxAnalysis > 0 {
		for len(s.analysis) > s.cfg.MaxAnalysis {
			evicted := s.analysis[len(s.analysis)-1]
			s.analysis = s.analysis[:len(s.analysis)-1]
			delete(s.analysisIDs, evicted.ID)
		}
		// The evicted snapshot may have been the latest for its instrument when it
		// arrived out of order; rebuild from what is left.
		s.resolver.Rebuild(s.analysis)
	}
	return Result{Affected: analysisViews}
}

func (s *Store) setStatus(st model.StatusSnapshot) Result {
	s.prevStatus = s.status
	s.status = &st
	return Result{Affected: statusViews}
}

// insertNewestFirst places item before the first element with an older-or-equal
// timestamp, so equal timestamps keep newest-insert-first order.
func insertNewestFirst[T any](items []T, item T, ts func(T) time.Time) []T {
	at := ts(item)
	idx := len(items)
	for i := range items {
		if !ts(items[i]).After(at) {
			idx = i
			break
		}
	}
	items = append(items, item)
	copy(items[idx+1:], items[idx:])
	items[idx] = item
	return items
}

// Trades returns a copy of all trades, newest first.
func (s *Store) Trades() []model.Trade {
	out := make([]model.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Trade looks up a trade by ID.
func (s *Store) Trade(id string) (model.Trade, bool) {
	if _, ok := s.tradeIDs[id]; !ok {
		return model.Trade{}, false
	}
	for _, t := range s.trades {
		if t.ID == id {
			return t, true
		}
	}
	return model.Trade{}, false
}

// Analysis returns a copy of all analysis snapshots, newest first.
func (s *Store) Analysis() []model.AnalysisSnapshot {
	out := make([]model.AnalysisSnapshot, len(s.analysis))
	copy(out, s.analysis)
	return out
}

// Status returns the current status snapshot, if any.
func (s *Store) Status() (model.StatusSnapshot, bool) {
	if s.status == nil {
		return model.StatusSnapshot{}, false
	}
	return *s.status, true
}

// PreviousStatus returns the status snapshot superseded by the current one.
func (s *Store) PreviousStatus() (model.StatusSnapshot, bool) {
	if s.prevStatus == nil {
		return model.StatusSnapshot{}, false
	}
	return *s.prevStatus, true
}

// LatestAnalysis returns a copy of the latest-snapshot-per-instrument index.
func (s *Store) LatestAnalysis() map[string]model.AnalysisSnapshot {
	return s.resolver.Snapshot()
}

// Len returns the number of records held for stream.
func (s *Store) Len(stream model.Stream) int {
	switch stream {
	case model.StreamTrades:
		return len(s.trades)
	case model.StreamAnalysis:
		return len(s.analysis)
	case model.StreamStatus:
		if s.status == nil {
			return 0
		}
		return 1
	}
	return 0
}
