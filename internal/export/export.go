// Package export renders candle series for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
)

type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q", s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/json"
	}
}

var csvHeader = []string{"datetime", "open", "high", "low", "close", "volume"}

// WriteCSV writes one row per candle under a header row.
func WriteCSV(w io.Writer, candles []candle.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range candles {
		if err := cw.Write([]string{
			c.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatInt(c.Volume, 10),
		}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Record is the parquet schema of an exported candle.
type Record struct {
	Symbol    string  `parquet:"symbol"`
	Exchange  string  `parquet:"exchange"`
	Interval  string  `parquet:"interval"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// Series labels the candles written by WriteParquet.
type Series struct {
	Symbol   string
	Exchange string
	Interval candle.Interval
}

func WriteParquet(w io.Writer, s Series, candles []candle.Candle) error {
	records := make([]Record, len(candles))
	for i, c := range candles {
		records[i] = Record{
			Symbol:    s.Symbol,
			Exchange:  s.Exchange,
			Interval:  string(s.Interval),
			Timestamp: c.Time.UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}
	if err := parquet.Write(w, records); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	return nil
}

// Write renders candles in format f. JSON is left to the caller's envelope.
func Write(w io.Writer, f Format, s Series, candles []candle.Candle) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, candles)
	case FormatParquet:
		return WriteParquet(w, s, candles)
	default:
		return fmt.Errorf("format %q is not a file format", f)
	}
}
