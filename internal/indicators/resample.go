package indicators

import (
	"sort"
	"time"
)

// Bar is a plain OHLCV bar used by the indicator layer. Resampled bars carry
// the bucket start time as their timestamp.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Bucket4h returns the 4-hour bucket start for t. Buckets begin at 01:00,
// 05:00, 09:00, 13:00, 17:00 and 21:00 local time; the 00:xx minutes belong
// to the previous day's 21:00 bucket.
func Bucket4h(t time.Time) time.Time {
	h := t.Hour()
	if h == 0 {
		prev := t.AddDate(0, 0, -1)
		return time.Date(prev.Year(), prev.Month(), prev.Day(), 21, 0, 0, 0, t.Location())
	}
	start := ((h-1)/4)*4 + 1
	return time.Date(t.Year(), t.Month(), t.Day(), start, 0, 0, 0, t.Location())
}

// ResampleTo4h aggregates 1-minute bars into 4-hour bars. Input must be in
// ascending time order; output is ascending by bucket start.
// Aggregation: open = first, close = last, high = max, low = min, volume = sum.
func ResampleTo4h(minutes []Bar) []Bar {
	if len(minutes) == 0 {
		return nil
	}

	buckets := make(map[time.Time]*Bar)
	var order []time.Time

	for _, m := range minutes {
		key := Bucket4h(m.Timestamp)
		b, ok := buckets[key]
		if !ok {
			bar := Bar{
				Timestamp: key,
				Open:      m.Open,
				High:      m.High,
				Low:       m.Low,
				Close:     m.Close,
				Volume:    m.Volume,
			}
			buckets[key] = &bar
			order = append(order, key)
			continue
		}
		if m.High > b.High {
			b.High = m.High
		}
		if m.Low < b.Low {
			b.Low = m.Low
		}
		b.Close = m.Close
		b.Volume += m.Volume
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]Bar, 0, len(order))
	for _, key := range order {
		out = append(out, *buckets[key])
	}
	return out
}
