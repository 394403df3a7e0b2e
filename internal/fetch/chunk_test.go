package fetch

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
)

func date(m, d int) time.Time {
	return time.Date(2024, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name      string
		interval  candle.Interval
		from, to  time.Time
		wantLen   int
		wantFirst Chunk
		wantLast  Chunk
	}{
		{
			name:      "one minute over nine days",
			interval:  candle.OneMinute,
			from:      date(1, 1),
			to:        date(1, 10),
			wantLen:   3,
			wantFirst: Chunk{Start: date(1, 1), End: date(1, 4)},
			wantLast:  Chunk{Start: date(1, 7), End: date(1, 10)},
		},
		{
			name:      "one minute single day fits one request",
			interval:  candle.OneMinute,
			from:      date(1, 1),
			to:        date(1, 2),
			wantLen:   1,
			wantFirst: Chunk{Start: date(1, 1), End: date(1, 2)},
			wantLast:  Chunk{Start: date(1, 1), End: date(1, 2)},
		},
		{
			name:      "last chunk capped at range end",
			interval:  candle.FiveMinute,
			from:      date(1, 1),
			to:        date(2, 10),
			wantLen:   3,
			wantFirst: Chunk{Start: date(1, 1), End: date(1, 16)},
			wantLast:  Chunk{Start: date(1, 31), End: date(2, 10)},
		},
		{
			name:      "daily year fits one request",
			interval:  candle.OneDay,
			from:      date(1, 1),
			to:        date(12, 31),
			wantLen:   1,
			wantFirst: Chunk{Start: date(1, 1), End: date(12, 31)},
			wantLast:  Chunk{Start: date(1, 1), End: date(12, 31)},
		},
		{
			name:     "from after to returns nil",
			interval: candle.OneMinute,
			from:     date(3, 1),
			to:       date(1, 1),
			wantLen:  0,
		},
		{
			name:     "empty range returns nil",
			interval: candle.OneMinute,
			from:     date(1, 1),
			to:       date(1, 1),
			wantLen:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.interval, tt.from, tt.to)
			require.Len(t, got, tt.wantLen)
			if tt.wantLen == 0 {
				return
			}
			assert.Equal(t, tt.wantFirst, got[0])
			assert.Equal(t, tt.wantLast, got[len(got)-1])
		})
	}
}

func TestPlan_CoversRangeWithinCeiling(t *testing.T) {
	intervals := append([]candle.Interval{}, candle.Intervals...)
	intervals = append(intervals, candle.Interval("2hour"))

	from := time.Date(2019, 3, 4, 9, 15, 0, 0, time.UTC)
	lengths := []time.Duration{
		time.Minute,
		17 * time.Minute,
		5 * time.Hour,
		36 * time.Hour,
		9 * day,
		47 * day,
		400 * day,
		2000 * day,
		4000 * day,
	}

	for _, iv := range intervals {
		for _, l := range lengths {
			if iv == candle.OneSecond && l > 47*day {
				continue
			}
			to := from.Add(l)
			chunks := Plan(iv, from, to)
			require.NotEmpty(t, chunks, "%s %s", iv, l)

			assert.True(t, chunks[0].Start.Equal(from), "%s %s: first chunk start", iv, l)
			assert.True(t, chunks[len(chunks)-1].End.Equal(to), "%s %s: last chunk end", iv, l)
			for i, c := range chunks {
				assert.True(t, c.Start.Before(c.End), "%s %s: chunk %d empty", iv, l, i)
				if i > 0 {
					assert.True(t, chunks[i-1].End.Equal(c.Start), "%s %s: gap or overlap at %d", iv, l, i)
				}
				assert.LessOrEqual(t, EstimateCandles(iv, c.End.Sub(c.Start)), SafeCandles,
					"%s %s: chunk %d over ceiling", iv, l, i)
			}

			if len(chunks) > 1 {
				want := int(math.Ceil(float64(l) / float64(ChunkSpan(iv))))
				assert.Equal(t, want, len(chunks), "%s %s: chunk count", iv, l)
			}
		}
	}
}

func TestEstimateCandles(t *testing.T) {
	assert.Equal(t, 0, EstimateCandles(candle.OneMinute, 0))
	// 7 calendar days hold 5 trading days of 375 session minutes.
	assert.Equal(t, 1875, EstimateCandles(candle.OneMinute, 7*day))
	assert.Equal(t, 5, EstimateCandles(candle.OneDay, 7*day))
	// Partial days do not count for daily candles.
	assert.Equal(t, 5, EstimateCandles(candle.OneDay, 7*day+23*time.Hour))
	assert.True(t, NeedsChunking(candle.OneMinute, date(1, 1), date(1, 10)))
	assert.False(t, NeedsChunking(candle.OneDay, date(1, 1), date(12, 31)))
}

func TestChunkSpan(t *testing.T) {
	assert.Equal(t, 950*time.Second, ChunkSpan(candle.OneSecond))
	assert.Equal(t, 3*day, ChunkSpan(candle.OneMinute))
	assert.Equal(t, 15*day, ChunkSpan(candle.FiveMinute))
	assert.Equal(t, 90*day, ChunkSpan(candle.ThirtyMinute))
	assert.Equal(t, 950*day, ChunkSpan(candle.OneDay))
	assert.Equal(t, 30*day, ChunkSpan(candle.Interval("weekly")))
}
