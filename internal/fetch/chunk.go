package fetch

import (
	"time"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
)

const (
	// SafeCandles is the per-request ceiling the planner aims for. The
	// upstream hard limit is 1000.
	SafeCandles = 950

	// MarketSecondsPerDay is one NSE session, 09:15 to 15:30 IST.
	MarketSecondsPerDay = 22500

	tradingDaysPerWeek = 5.0 / 7.0
	day                = 24 * time.Hour
)

// Chunk is a half-open sub-range [Start, End) of a job's range.
type Chunk struct {
	Start time.Time
	End   time.Time
}

// ChunkSpan returns the wall-clock span of one chunk for the interval. Each
// span keeps the estimated candle count below SafeCandles once weekends and
// off-session hours are discounted.
func ChunkSpan(interval candle.Interval) time.Duration {
	switch interval {
	case candle.OneSecond:
		return SafeCandles * time.Second
	case candle.OneMinute:
		return 3 * day
	case candle.FiveMinute:
		return 15 * day
	case candle.ThirtyMinute:
		return 90 * day
	case candle.OneDay:
		return SafeCandles * day
	default:
		return 30 * day
	}
}

// EstimateCandles approximates how many candles the upstream returns for a
// range of length d. It ignores holidays.
func EstimateCandles(interval candle.Interval, d time.Duration) int {
	if d <= 0 {
		return 0
	}

	if interval == candle.OneDay {
		wholeDays := float64(d / day)
		return int(wholeDays * tradingDaysPerWeek)
	}

	step := interval.Duration().Seconds()
	if step == 0 {
		step = day.Seconds()
	}
	days := d.Hours() / 24
	marketSeconds := days * tradingDaysPerWeek * MarketSecondsPerDay
	return int(marketSeconds / step)
}

// NeedsChunking reports whether [from, to) is expected to exceed SafeCandles.
func NeedsChunking(interval candle.Interval, from, to time.Time) bool {
	return EstimateCandles(interval, to.Sub(from)) > SafeCandles
}

// Plan splits [from, to) into contiguous chunks. Ranges expected to fit in
// one request come back as a single chunk. The last chunk is capped at to.
func Plan(interval candle.Interval, from, to time.Time) []Chunk {
	if !from.Before(to) {
		return nil
	}
	if !NeedsChunking(interval, from, to) {
		return []Chunk{{Start: from, End: to}}
	}

	span := ChunkSpan(interval)
	var chunks []Chunk
	for cur := from; cur.Before(to); {
		end := cur.Add(span)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, Chunk{Start: cur, End: end})
		cur = end
	}
	return chunks
}
