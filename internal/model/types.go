// Package model defines core data types for the bot telemetry engine.
//
// This package contains the raw records delivered by the three telemetry streams
// (trades, strategy analysis, bot status) and the enumerations used to classify them.
// Monetary values use decimal.Decimal to avoid floating-point drift when P&L and
// exposure are summed across hundreds of trades. Indicator values are plain *float64:
// they are pre-computed upstream and a nil pointer means the indicator was absent.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies the venue a trade or analysis snapshot belongs to.
type Exchange string

const (
	// ExchangeBinance is the spot venue.
	ExchangeBinance Exchange = "binance"

	// ExchangeDelta is the futures venue; the only one that supports short positions.
	ExchangeDelta Exchange = "delta"
)

// SupportsShort reports whether positions can be shorted on the exchange.
func (e Exchange) SupportsShort() bool {
	return e == ExchangeDelta
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PositionType distinguishes spot holdings from leveraged futures positions.
type PositionType string

const (
	PositionSpot  PositionType = "spot"
	PositionLong  PositionType = "long"
	PositionShort PositionType = "short"
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeClosed    TradeStatus = "closed"
	TradeCancelled TradeStatus = "cancelled"
)

// BotState is the run state reported in a status snapshot.
type BotState string

const (
	BotRunning BotState = "running"
	BotPaused  BotState = "paused"
)

// Trade represents a single trade lifecycle record.
//
// The ID is globally unique. An update carrying an existing ID replaces the record
// (typically the open→closed transition with its realized P&L) instead of adding
// a second one.
type Trade struct {
	ID           string          `json:"id" validate:"required"`
	Timestamp    time.Time       `json:"timestamp" validate:"required"`
	Pair         string          `json:"pair" validate:"required"`
	Exchange     Exchange        `json:"exchange" validate:"omitempty,oneof=binance delta"`
	Side         Side            `json:"side" validate:"omitempty,oneof=buy sell"`
	Price        decimal.Decimal `json:"price"`
	Amount       decimal.Decimal `json:"amount"`
	Strategy     string          `json:"strategy"`
	PnL          decimal.Decimal `json:"pnl"`
	PositionType PositionType    `json:"position_type" validate:"omitempty,oneof=spot long short"`
	Leverage     decimal.Decimal `json:"leverage"`
	Status       TradeStatus     `json:"status" validate:"omitempty,oneof=open closed cancelled"`
}

// Normalize fills the defaults the upstream bot omits on older records:
// exchange binance, position type spot, leverage 1x.
func (t *Trade) Normalize() {
	if t.Exchange == "" {
		t.Exchange = ExchangeBinance
	}
	if t.PositionType == "" {
		t.PositionType = PositionSpot
	}
	if t.Leverage.IsZero() {
		t.Leverage = decimal.NewFromInt(1)
	}
}

// InstrumentKey returns the canonical instrument identity of the trade.
func (t Trade) InstrumentKey() string {
	return InstrumentKey(t.Pair, t.Exchange)
}

// Indicators holds the optional pre-computed indicator values of an analysis snapshot.
type Indicators struct {
	RSI              *float64 `json:"rsi,omitempty"`
	ADX              *float64 `json:"adx,omitempty"`
	MACDValue        *float64 `json:"macd_value,omitempty"`
	MACDSignal       *float64 `json:"macd_signal,omitempty"`
	MACDHistogram    *float64 `json:"macd_histogram,omitempty"`
	BBUpper          *float64 `json:"bb_upper,omitempty"`
	BBLower          *float64 `json:"bb_lower,omitempty"`
	ATR              *float64 `json:"atr,omitempty"`
	VolumeRatio      *float64 `json:"volume_ratio,omitempty"`
	SignalStrength   *float64 `json:"signal_strength,omitempty"`
	CurrentPrice     *float64 `json:"current_price,omitempty"`
	PriceChange15m   *float64 `json:"price_change_15m,omitempty"`
	EntryDistancePct *float64 `json:"entry_distance_pct,omitempty"`
}

// Clone returns a copy that shares no pointers with i.
func (i Indicators) Clone() Indicators {
	return Indicators{
		RSI:              cloneFloat(i.RSI),
		ADX:              cloneFloat(i.ADX),
		MACDValue:        cloneFloat(i.MACDValue),
		MACDSignal:       cloneFloat(i.MACDSignal),
		MACDHistogram:    cloneFloat(i.MACDHistogram),
		BBUpper:          cloneFloat(i.BBUpper),
		BBLower:          cloneFloat(i.BBLower),
		ATR:              cloneFloat(i.ATR),
		VolumeRatio:      cloneFloat(i.VolumeRatio),
		SignalStrength:   cloneFloat(i.SignalStrength),
		CurrentPrice:     cloneFloat(i.CurrentPrice),
		PriceChange15m:   cloneFloat(i.PriceChange15m),
		EntryDistancePct: cloneFloat(i.EntryDistancePct),
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// AnalysisSnapshot is one strategy-analysis record emitted by the bot.
//
// A nil Pair marks a market-wide snapshot that is not bound to an instrument.
// Snapshots are immutable: new analysis always arrives as a new record.
type AnalysisSnapshot struct {
	ID               string    `json:"id" validate:"required"`
	Timestamp        time.Time `json:"timestamp" validate:"required"`
	Pair             *string   `json:"pair,omitempty"`
	Exchange         Exchange  `json:"exchange,omitempty" validate:"omitempty,oneof=binance delta"`
	StrategySelected string    `json:"strategy_selected"`
	MarketCondition  string    `json:"market_condition"`
	Reason           string    `json:"reason"`
	Indicators
}

// ResolvedExchange returns the snapshot's exchange, defaulting to binance when absent.
func (a AnalysisSnapshot) ResolvedExchange() Exchange {
	if a.Exchange == "" {
		return ExchangeBinance
	}
	return a.Exchange
}

// InstrumentKey returns the instrument key and false for market-wide snapshots.
func (a AnalysisSnapshot) InstrumentKey() (string, bool) {
	if a.Pair == nil || *a.Pair == "" {
		return "", false
	}
	return InstrumentKey(*a.Pair, a.ResolvedExchange()), true
}

// PairOr returns the snapshot pair or fallback for market-wide snapshots.
func (a AnalysisSnapshot) PairOr(fallback string) string {
	if a.Pair == nil || *a.Pair == "" {
		return fallback
	}
	return *a.Pair
}

// StatusSnapshot is the bot heartbeat. Only the latest one matters.
type StatusSnapshot struct {
	ID                    string           `json:"id"`
	Timestamp             time.Time        `json:"timestamp" validate:"required"`
	Capital               decimal.Decimal  `json:"capital"`
	BinanceBalance        decimal.Decimal  `json:"binance_balance"`
	DeltaBalance          decimal.Decimal  `json:"delta_balance"`
	DeltaBalanceINR       *decimal.Decimal `json:"delta_balance_inr,omitempty"`
	BinanceConnected      *bool            `json:"binance_connected,omitempty"`
	DeltaConnected        *bool            `json:"delta_connected,omitempty"`
	WinRate               float64          `json:"win_rate"`
	TotalPnL              decimal.Decimal  `json:"total_pnl"`
	BotState              BotState         `json:"bot_state,omitempty" validate:"omitempty,oneof=running paused"`
	UptimeSeconds         int64            `json:"uptime_seconds"`
	LeverageLevel         int              `json:"leverage_level"`
	ShortingEnabled       bool             `json:"shorting_enabled"`
	ActiveStrategiesCount int              `json:"active_strategies_count"`
	ActiveStrategy        string           `json:"active_strategy,omitempty"`
}

// TotalCapital returns the reported capital, or the sum of exchange balances when
// the bot did not report an aggregate.
func (s StatusSnapshot) TotalCapital() decimal.Decimal {
	if !s.Capital.IsZero() {
		return s.Capital
	}
	return s.BinanceBalance.Add(s.DeltaBalance)
}

// InstrumentKey builds the canonical "pair:exchange" identity used to merge streams.
func InstrumentKey(pair string, exchange Exchange) string {
	if exchange == "" {
		exchange = ExchangeBinance
	}
	return strings.TrimSpace(pair) + ":" + string(exchange)
}
