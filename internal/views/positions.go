package views

import (
	"botwatch/internal/model"
)

// OpenPositions projects the open trades into position rows, newest first.
//
// Effective exposure is amount × price × leverage. Live P&L of open positions is
// reported by the bot and is not recomputed here.
func OpenPositions(trades []model.Trade) []model.PositionRow {
	rows := make([]model.PositionRow, 0)
	for _, t := range trades {
		if t.Status != model.TradeOpen {
			continue
		}
		t.Normalize()
		rows = append(rows, model.PositionRow{
			ID:                t.ID,
			Timestamp:         t.Timestamp,
			Pair:              t.Pair,
			Exchange:          t.Exchange,
			Side:              t.Side,
			PositionType:      t.PositionType,
			Leverage:          t.Leverage,
			EntryPrice:        t.Price,
			Amount:            t.Amount,
			EffectiveExposure: t.Amount.Mul(t.Price).Mul(t.Leverage),
		})
	}
	return rows
}
