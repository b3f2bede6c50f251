package store

import (
	"botwatch/internal/model"
)

type latestEntry struct {
	snap model.AnalysisSnapshot
	seq  uint64
}

// Resolver maintains the authoritative analysis snapshot per instrument.
//
// A snapshot replaces the current one for its key when its timestamp is newer, or
// equal and it was inserted later. Arrival order therefore does not matter.
// Market-wide snapshots (no pair) are never indexed.
type Resolver struct {
	latest map[string]latestEntry
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{latest: make(map[string]latestEntry)}
}

// Observe offers a snapshot inserted with sequence number seq.
func (r *Resolver) Observe(a model.AnalysisSnapshot, seq uint64) {
	key, ok := a.InstrumentKey()
	if !ok {
		return
	}

	cur, found := r.latest[key]
	if found {
		if a.Timestamp.Before(cur.snap.Timestamp) {
			return
		}
		if a.Timestamp.Equal(cur.snap.Timestamp) && seq < cur.seq {
			return
		}
	}
	r.latest[key] = latestEntry{snap: a, seq: seq}
}

// Rebuild recomputes the index from a newest-first collection.
func (r *Resolver) Rebuild(newestFirst []model.AnalysisSnapshot) {
	r.latest = make(map[string]latestEntry, len(r.latest))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		r.Observe(newestFirst[i], uint64(len(newestFirst)-i))
	}
}

// Latest returns the authoritative snapshot for key.
func (r *Resolver) Latest(key string) (model.AnalysisSnapshot, bool) {
	e, ok := r.latest[key]
	return e.snap, ok
}

// Snapshot returns a copy of the index.
func (r *Resolver) Snapshot() map[string]model.AnalysisSnapshot {
	out := make(map[string]model.AnalysisSnapshot, len(r.latest))
	for k, e := range r.latest {
		out[k] = e.snap
	}
	return out
}
