package views

import (
	"fmt"
	"math"
	"sort"

	"botwatch/internal/model"
)

const (
	// oversoldRSI is the buy threshold.
	oversoldRSI = 30

	// overboughtRSI is the short threshold.
	overboughtRSI = 70

	// rsiSpan normalizes an RSI gap to a 0-100 distance.
	rsiSpan = 70.0

	// maxDistance is reported when nothing is known about an instrument.
	maxDistance = 100.0

	imminentBelow = 15.0
	closeBelow    = 40.0
	fastCandles   = 25.0

	// convergingHistogram is the MACD histogram magnitude under which a cross is near.
	convergingHistogram = 0.0005
)

// MACD status labels.
const (
	MACDConverging = "Converging"
	MACDBullish    = "Bullish"
	MACDBearish    = "Bearish"
	MACDNoData     = "No data"
)

// TriggerProximity estimates, for every known instrument, how far it is from a
// buy or short signal and sorts the closest instruments first.
func TriggerProximity(trades []model.Trade, latest map[string]model.AnalysisSnapshot) []model.TriggerRow {
	insts := instruments(trades, latest)
	rows := make([]model.TriggerRow, 0, len(insts))

	for _, inst := range insts {
		var snap *model.AnalysisSnapshot
		if a, ok := latest[inst.key]; ok {
			snap = &a
		}
		row := ComputeTrigger(inst.pair, inst.exchange, snap)
		row.Key = inst.key
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].HasIndicatorData != rows[j].HasIndicatorData {
			return rows[i].HasIndicatorData
		}
		return rows[i].DistancePct < rows[j].DistancePct
	})
	return rows
}

// ComputeTrigger scores a single instrument from its latest analysis snapshot,
// which may be nil.
func ComputeTrigger(pair string, exchange model.Exchange, snap *model.AnalysisSnapshot) model.TriggerRow {
	row := model.TriggerRow{
		Key:         model.InstrumentKey(pair, exchange),
		Pair:        pair,
		Exchange:    exchange,
		Target:      oversoldRSI,
		Direction:   model.DirectionBuy,
		DistancePct: maxDistance,
		MACDStatus:  MACDNoData,
		Status:      model.StatusWatching,
		NextAction:  "Monitoring, waiting for signals",
	}
	if snap == nil {
		return row
	}

	if snap.RSI != nil {
		rsi := *snap.RSI
		row.RSI = &rsi
		row.HasIndicatorData = true

		buyDistance := math.Max(0, (rsi-oversoldRSI)/rsiSpan*100)
		shortDistance := maxDistance
		if exchange.SupportsShort() {
			shortDistance = math.Max(0, (overboughtRSI-rsi)/rsiSpan*100)
		}

		if shortDistance < buyDistance {
			row.Target = overboughtRSI
			row.Direction = model.DirectionShort
			row.DistancePct = shortDistance
		} else {
			row.DistancePct = buyDistance
		}
	}

	// an explicit upstream distance beats the RSI approximation
	if snap.EntryDistancePct != nil {
		row.DistancePct = *snap.EntryDistancePct
	}

	row.MACDStatus = MACDStatus(snap.MACDHistogram)

	// Without RSI the row stays Watching even when a distance is known.
	if row.HasIndicatorData {
		row.Status, row.NextAction = band(row.DistancePct, row.Direction, row.Target)
	}
	return row
}

// MACDStatus describes the MACD histogram.
func MACDStatus(hist *float64) string {
	switch {
	case hist == nil:
		return MACDNoData
	case math.Abs(*hist) < convergingHistogram:
		return MACDConverging
	case *hist > 0:
		return MACDBullish
	default:
		return MACDBearish
	}
}

// Band maps a distance to its proximity status.
func Band(distance float64) model.TriggerStatus {
	switch {
	case distance < imminentBelow:
		return model.StatusImminent
	case distance < closeBelow:
		return model.StatusGettingClose
	default:
		return model.StatusWatching
	}
}

func band(distance float64, dir model.Direction, target int) (model.TriggerStatus, string) {
	label := "Buy"
	if dir == model.DirectionShort {
		label = "Short"
	}

	status := Band(distance)
	switch status {
	case model.StatusImminent:
		return status, fmt.Sprintf("%s signal very close, RSI near %d", label, target)
	case model.StatusGettingClose:
		candles := "2-3"
		if distance < fastCandles {
			candles = "1-2"
		}
		return status, fmt.Sprintf("%s possible in %s candles", label, candles)
	default:
		return status, fmt.Sprintf("Far from %s trigger, monitoring", string(dir))
	}
}
