// Package source implements the telemetry transports behind engine.Source: the
// Supabase REST and Realtime API, and Kafka topics carrying the same change records.
package source

import (
	"fmt"
	"strings"

	"botwatch/internal/model"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

// Table names used by the bot.
const (
	TableTrades      = "trades"
	TableStrategyLog = "strategy_log"
	TableBotStatus   = "bot_status"
	TableBotCommands = "bot_commands"
)

// tableStreams maps a table to the stream it feeds.
var tableStreams = map[string]model.Stream{
	TableTrades:      model.StreamTrades,
	TableStrategyLog: model.StreamAnalysis,
	TableBotStatus:   model.StreamStatus,
}

// TableFor returns the table backing stream.
func TableFor(stream model.Stream) (string, error) {
	for table, s := range tableStreams {
		if s == stream {
			return table, nil
		}
	}
	return "", fmt.Errorf("no table for stream %q", stream)
}

// Change is a row-level change as delivered by Realtime and by the Kafka topics.
type Change struct {
	Type   string          `json:"type" validate:"required"`
	Table  string          `json:"table" validate:"required"`
	Record json.RawMessage `json:"record"`
}

// decoder turns raw rows into validated events.
type decoder struct {
	validate *validator.Validate
}

func newDecoder() *decoder {
	return &decoder{validate: validator.New()}
}

// change converts a Change into an event. Deletes and unknown tables are
// reported as not ok without error.
func (d *decoder) change(c Change) (model.Event, bool, error) {
	if err := d.validate.Struct(c); err != nil {
		return model.Event{}, false, fmt.Errorf("invalid change: %w", err)
	}

	var kind model.ChangeKind
	switch strings.ToUpper(c.Type) {
	case "INSERT":
		kind = model.ChangeInsert
	case "UPDATE":
		kind = model.ChangeUpdate
	default:
		return model.Event{}, false, nil
	}

	stream, ok := tableStreams[c.Table]
	if !ok {
		return model.Event{}, false, nil
	}
	if len(c.Record) == 0 {
		return model.Event{}, false, fmt.Errorf("%s change on %s without record", c.Type, c.Table)
	}

	ev, err := d.row(stream, kind, c.Record)
	if err != nil {
		return model.Event{}, false, err
	}
	return ev, true, nil
}

// row decodes and validates one row of stream.
func (d *decoder) row(stream model.Stream, kind model.ChangeKind, raw []byte) (model.Event, error) {
	switch stream {
	case model.StreamTrades:
		var t model.Trade
		if err := json.Unmarshal(raw, &t); err != nil {
			return model.Event{}, fmt.Errorf("decode trade: %w", err)
		}
		if err := d.validate.Struct(t); err != nil {
			return model.Event{}, fmt.Errorf("validate trade %s: %w", t.ID, err)
		}
		return model.TradeEvent(kind, t), nil

	case model.StreamAnalysis:
		var a model.AnalysisSnapshot
		if err := json.Unmarshal(raw, &a); err != nil {
			return model.Event{}, fmt.Errorf("decode analysis: %w", err)
		}
		if err := d.validate.Struct(a); err != nil {
			return model.Event{}, fmt.Errorf("validate analysis %s: %w", a.ID, err)
		}
		return model.AnalysisEvent(a), nil

	case model.StreamStatus:
		var s model.StatusSnapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return model.Event{}, fmt.Errorf("decode status: %w", err)
		}
		if err := d.validate.Struct(s); err != nil {
			return model.Event{}, fmt.Errorf("validate status: %w", err)
		}
		return model.StatusEvent(s), nil
	}
	return model.Event{}, fmt.Errorf("unknown stream %q", stream)
}

// rows decodes a JSON array of rows. Malformed rows are skipped and reported
// through skip; the result is never nil.
func (d *decoder) rows(stream model.Stream, body []byte, skip func(error)) ([]model.Event, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("decode %s rows: %w", stream, err)
	}

	events := make([]model.Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := d.row(stream, model.ChangeInsert, raw)
		if err != nil {
			skip(err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
