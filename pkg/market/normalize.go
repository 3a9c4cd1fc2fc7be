package market

import (
	"sort"
	"time"
)

// Normalize returns a copy of rows shifted into loc and sorted ascending by
// timestamp. The input slice is never mutated.
func Normalize(rows []Candle, loc *time.Location) []Candle {
	if len(rows) == 0 {
		return nil
	}
	out := make([]Candle, len(rows))
	copy(out, rows)
	if loc != nil {
		for i := range out {
			out[i].Datetime = out[i].Datetime.In(loc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Datetime.Before(out[j].Datetime)
	})
	return out
}

// FilterAfter keeps only rows strictly newer than the watermark. A nil
// watermark keeps everything.
func FilterAfter(rows []Candle, watermark *time.Time) []Candle {
	if watermark == nil {
		return rows
	}
	out := rows[:0:0]
	for _, row := range rows {
		if row.Datetime.After(*watermark) {
			out = append(out, row)
		}
	}
	return out
}
