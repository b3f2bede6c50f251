package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Condition is the three-way market condition bucket shown in the overview.
type Condition string

const (
	ConditionTrending Condition = "Trending"
	ConditionVolatile Condition = "Volatile"
	ConditionSideways Condition = "Sideways"
)

// Tint is the row color hint derived from RSI.
type Tint string

const (
	TintBullish Tint = "bullish"
	TintBearish Tint = "bearish"
	TintNeutral Tint = "neutral"
)

// OverviewRow is one instrument in the market overview ranking.
type OverviewRow struct {
	Key             string     `json:"key"`
	Pair            string     `json:"pair"`
	Exchange        Exchange   `json:"exchange"`
	Price           *float64   `json:"price,omitempty"`
	Strategy        string     `json:"strategy"`
	MarketCondition string     `json:"market_condition"`
	Condition       Condition  `json:"condition"`
	Tint            Tint       `json:"tint"`
	SignalStrength  float64    `json:"signal_strength"`
	TradeCount      int        `json:"trade_count"`
	HasAnalysis     bool       `json:"has_analysis"`
	LastAnalysisAt  *time.Time `json:"last_analysis_at,omitempty"`
	LastTradeAt     *time.Time `json:"last_trade_at,omitempty"`
	Indicators      Indicators `json:"indicators"`
	AnalysisReason  string     `json:"analysis_reason,omitempty"`
}

// Direction is the side a trigger would fire on.
type Direction string

const (
	DirectionBuy   Direction = "buy"
	DirectionShort Direction = "short"
)

// TriggerStatus is the proximity band of a trigger row.
type TriggerStatus string

const (
	StatusImminent     TriggerStatus = "Imminent"
	StatusGettingClose TriggerStatus = "Getting close"
	StatusWatching     TriggerStatus = "Watching"
)

// TriggerRow estimates how close an instrument is to a buy or short signal.
type TriggerRow struct {
	Key              string        `json:"key"`
	Pair             string        `json:"pair"`
	Exchange         Exchange      `json:"exchange"`
	RSI              *float64      `json:"rsi,omitempty"`
	Target           int           `json:"target"`
	Direction        Direction     `json:"direction"`
	DistancePct      float64       `json:"distance_pct"`
	MACDStatus       string        `json:"macd_status"`
	Status           TriggerStatus `json:"status"`
	NextAction       string        `json:"next_action"`
	HasIndicatorData bool          `json:"has_indicator_data"`
}

// PositionRow is one currently open trade.
type PositionRow struct {
	ID                string          `json:"id"`
	Timestamp         time.Time       `json:"timestamp"`
	Pair              string          `json:"pair"`
	Exchange          Exchange        `json:"exchange"`
	Side              Side            `json:"side"`
	PositionType      PositionType    `json:"position_type"`
	Leverage          decimal.Decimal `json:"leverage"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	Amount            decimal.Decimal `json:"amount"`
	EffectiveExposure decimal.Decimal `json:"effective_exposure"`
}

// Market splits statistics into spot and futures activity.
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

// StrategyStat is the aggregate performance of one strategy group. Exchange and
// Market are empty when the group is not partitioned by them.
type StrategyStat struct {
	Strategy    string          `json:"strategy"`
	Exchange    Exchange        `json:"exchange,omitempty"`
	Market      Market          `json:"market,omitempty"`
	TotalTrades int             `json:"total_trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	WinRate     float64         `json:"win_rate"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	AvgPnL      decimal.Decimal `json:"avg_pnl"`
	LastActive  *time.Time      `json:"last_active,omitempty"`
}
