package model

import "fmt"

// Stream names one of the three telemetry streams.
type Stream string

const (
	StreamTrades   Stream = "trades"
	StreamAnalysis Stream = "analysis"
	StreamStatus   Stream = "status"
)

// Streams lists every stream in backfill order.
var Streams = []Stream{StreamTrades, StreamStatus, StreamAnalysis}

// ChangeKind is the kind of change delivered by the push subscription.
type ChangeKind string

const (
	// ChangeInsert appends a record, deduplicated by identity.
	ChangeInsert ChangeKind = "insert"

	// ChangeUpdate fully replaces the record with the same identity.
	ChangeUpdate ChangeKind = "update"
)

// Event is a single record delivered by a backfill or the push subscription.
// Exactly one of Trade, Analysis or Status is set, matching Stream.
type Event struct {
	Stream   Stream
	Kind     ChangeKind
	Trade    *Trade
	Analysis *AnalysisSnapshot
	Status   *StatusSnapshot
}

// Validate checks that the payload matches the declared stream.
func (e Event) Validate() error {
	switch e.Stream {
	case StreamTrades:
		if e.Trade == nil {
			return fmt.Errorf("trades event without trade payload")
		}
	case StreamAnalysis:
		if e.Analysis == nil {
			return fmt.Errorf("analysis event without analysis payload")
		}
	case StreamStatus:
		if e.Status == nil {
			return fmt.Errorf("status event without status payload")
		}
	default:
		return fmt.Errorf("unknown stream %q", e.Stream)
	}
	return nil
}

// TradeEvent wraps a trade in an Event.
func TradeEvent(kind ChangeKind, t Trade) Event {
	return Event{Stream: StreamTrades, Kind: kind, Trade: &t}
}

// AnalysisEvent wraps an analysis snapshot in an insert Event.
func AnalysisEvent(a AnalysisSnapshot) Event {
	return Event{Stream: StreamAnalysis, Kind: ChangeInsert, Analysis: &a}
}

// StatusEvent wraps a status snapshot in an insert Event.
func StatusEvent(s StatusSnapshot) Event {
	return Event{Stream: StreamStatus, Kind: ChangeInsert, Status: &s}
}
