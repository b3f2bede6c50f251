// Package monitor derives the operator-facing health of the bot from the latest
// status heartbeat and the transport connectivity.
package monitor

import (
	"time"

	"botwatch/internal/model"
	"botwatch/internal/utils"

	"github.com/shopspring/decimal"
)

// DefaultStaleAfter is the heartbeat age after which the bot is considered stale.
const DefaultStaleAfter = 120 * time.Second

// Health is the status bar view.
type Health struct {
	TransportConnected bool            `json:"transport_connected"`
	Stale              bool            `json:"stale"`
	Connected          bool            `json:"connected"`
	LastHeartbeat      *time.Time      `json:"last_heartbeat,omitempty"`
	HeartbeatAge       time.Duration   `json:"heartbeat_age"`
	BinanceConnected   bool            `json:"binance_connected"`
	DeltaConnected     bool            `json:"delta_connected"`
	BotState           model.BotState  `json:"bot_state"`
	Uptime             string          `json:"uptime"`
	Clock              string          `json:"clock"`
	TotalCapital       decimal.Decimal `json:"total_capital"`
	BinanceBalance     decimal.Decimal `json:"binance_balance"`
	DeltaBalance       decimal.Decimal `json:"delta_balance"`
	LeverageLevel      int             `json:"leverage_level"`
	ShortingEnabled    bool            `json:"shorting_enabled"`
	ActiveStrategies   int             `json:"active_strategies"`
}

// Monitor evaluates staleness against a fixed threshold.
type Monitor struct {
	staleAfter time.Duration
}

// New creates a monitor. A non-positive threshold selects DefaultStaleAfter.
func New(staleAfter time.Duration) *Monitor {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Monitor{staleAfter: staleAfter}
}

// StaleAfter returns the configured threshold.
func (m *Monitor) StaleAfter() time.Duration {
	return m.staleAfter
}

// Evaluate computes the health at now. status may be nil when no heartbeat has
// arrived yet, which always reads as stale.
func (m *Monitor) Evaluate(status *model.StatusSnapshot, transportConnected bool, now time.Time) Health {
	h := Health{
		TransportConnected: transportConnected,
		Stale:              true,
		Clock:              utils.FormatClock(now),
		Uptime:             utils.FormatUptime(0),
		TotalCapital:       decimal.Zero,
		BinanceBalance:     decimal.Zero,
		DeltaBalance:       decimal.Zero,
		LeverageLevel:      1,
		BinanceConnected:   transportConnected,
		DeltaConnected:     transportConnected,
		BotState:           model.BotPaused,
	}
	if transportConnected {
		h.BotState = model.BotRunning
	}

	if status != nil {
		ts := status.Timestamp
		h.LastHeartbeat = &ts
		h.HeartbeatAge = now.Sub(ts)
		h.Stale = ts.IsZero() || h.HeartbeatAge > m.staleAfter

		if status.BinanceConnected != nil {
			h.BinanceConnected = *status.BinanceConnected
		}
		if status.DeltaConnected != nil {
			h.DeltaConnected = *status.DeltaConnected
		}
		if status.BotState != "" {
			h.BotState = status.BotState
		}
		if status.LeverageLevel > 0 {
			h.LeverageLevel = status.LeverageLevel
		}
		h.Uptime = utils.FormatUptime(status.UptimeSeconds)
		h.TotalCapital = status.TotalCapital()
		h.BinanceBalance = status.BinanceBalance
		h.DeltaBalance = status.DeltaBalance
		h.ShortingEnabled = status.ShortingEnabled
		h.ActiveStrategies = status.ActiveStrategiesCount
	}

	h.Connected = transportConnected && !h.Stale
	h.BinanceConnected = h.BinanceConnected && !h.Stale
	h.DeltaConnected = h.DeltaConnected && !h.Stale
	return h
}
