package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
)

// Outcome is the settled result of one chunk fetch. Exactly one of Candles
// or Err is meaningful.
type Outcome struct {
	Chunk   Chunk
	Candles []candle.Candle
	Err     error
}

// Fetcher adapts a Client to the chunk-level contract: one request per
// chunk, errors returned as values, never a panic.
type Fetcher struct {
	client Client
}

func NewFetcher(c Client) *Fetcher {
	return &Fetcher{client: c}
}

func (f *Fetcher) Source() string { return f.client.Source() }

// Fetch issues a single upstream request for chunk c of req.
func (f *Fetcher) Fetch(ctx context.Context, req Request, c Chunk) (out Outcome) {
	out.Chunk = c
	defer func() {
		if r := recover(); r != nil {
			out.Candles = nil
			out.Err = fmt.Errorf("fetch client panic: %v", r)
		}
	}()

	req.From, req.To = c.Start, c.End
	candles, err := f.client.FetchCandles(ctx, req)
	if err != nil {
		out.Err = fmt.Errorf("fetch %s %s %s..%s: %w", req.Symbol, req.Interval,
			c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339), err)
		return out
	}

	slog.Debug("fetched chunk", "source", f.client.Source(), "symbol", req.Symbol,
		"from", c.Start.Format(time.RFC3339), "to", c.End.Format(time.RFC3339), "count", len(candles))
	out.Candles = candles
	return out
}
