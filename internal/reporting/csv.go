package reporting

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"
)

var csvHeader = []string{
	"decision_id", "timestamp", "pair", "direction", "action", "reason",
	"price", "entry_price", "confidence", "target", "size", "trade_id", "pacing_wait_ms",
}

// RenderCSV renders one row per decision. Target, size and trade id are empty
// for rejected decisions.
func RenderCSV(r *Report) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write(csvHeader); err != nil {
		return "", err
	}
	for _, d := range r.Decisions {
		var target, size, tradeID string
		if d.Executed() && d.Position != nil {
			target = formatFloat(d.Position.ExitTarget)
			size = formatFloat(d.Position.PositionSize)
			tradeID = d.Position.TradeID
		}
		row := []string{
			d.ID,
			d.Timestamp.Format(time.RFC3339Nano),
			d.Pair,
			string(d.Direction),
			string(d.Action),
			string(d.Reason),
			formatFloat(d.Price),
			formatFloat(d.EntryPrice),
			formatFloat(d.Confidence),
			target,
			size,
			tradeID,
			strconv.FormatInt(d.PacingWait.Milliseconds(), 10),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	return sb.String(), w.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
