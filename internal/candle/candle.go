// Package candle holds the OHLCV series type shared by the fetch clients,
// the job engine and the persistence layer.
package candle

import (
	"fmt"
	"time"
)

// Candle is one OHLCV observation. Time is the unique key within a series.
type Candle struct {
	Time   time.Time `json:"datetime"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Interval is the sampling granularity of a series.
type Interval string

const (
	OneSecond    Interval = "1second"
	OneMinute    Interval = "1minute"
	FiveMinute   Interval = "5minute"
	ThirtyMinute Interval = "30minute"
	OneDay       Interval = "1day"
)

// Intervals lists every supported interval, finest first.
var Intervals = []Interval{OneSecond, OneMinute, FiveMinute, ThirtyMinute, OneDay}

// Valid reports whether i is one of the supported intervals.
func (i Interval) Valid() bool {
	for _, v := range Intervals {
		if v == i {
			return true
		}
	}
	return false
}

// Duration returns the wall-clock length of one candle. Unknown intervals
// report zero.
func (i Interval) Duration() time.Duration {
	switch i {
	case OneSecond:
		return time.Second
	case OneMinute:
		return time.Minute
	case FiveMinute:
		return 5 * time.Minute
	case ThirtyMinute:
		return 30 * time.Minute
	case OneDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

func ParseInterval(s string) (Interval, error) {
	i := Interval(s)
	if !i.Valid() {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return i, nil
}
