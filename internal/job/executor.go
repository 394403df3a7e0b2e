package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/tradedesk/internal/candle"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch"
)

var errNoChunks = errors.New("date range produced no chunks")

// executor drives one job: plan, fetch in batches, merge.
type executor struct {
	fetcher     *fetch.Fetcher
	concurrency int
	pause       time.Duration
	report      func(Progress)
}

type result struct {
	candles      []candle.Candle
	totalChunks  int
	failedChunks int
}

func (e *executor) run(ctx context.Context, j Job) (result, error) {
	e.report(Progress{
		Percentage: 0,
		Message:    "Initializing...",
		Details:    "Parsing dates and calculating chunks",
	})

	chunks := fetch.Plan(j.Interval, j.From, j.To)
	if len(chunks) == 0 {
		return result{}, errNoChunks
	}
	total := len(chunks)

	e.report(Progress{
		TotalChunks: total,
		Percentage:  5,
		Message:     fmt.Sprintf("Processing %d chunks...", total),
		Details:     fmt.Sprintf("Using %d parallel requests", e.concurrency),
	})

	req := fetch.Request{
		Symbol:   j.Symbol,
		Exchange: j.Exchange,
		Interval: j.Interval,
		Extra:    j.Extra,
	}

	var (
		mu      sync.Mutex
		all     []candle.Candle
		settled int
		failed  int
	)

	for start := 0; start < total; start += e.concurrency {
		if err := ctx.Err(); err != nil {
			return result{}, err
		}
		end := min(start+e.concurrency, total)

		var g errgroup.Group
		for _, c := range chunks[start:end] {
			g.Go(func() error {
				out := e.fetcher.Fetch(ctx, req, c)

				mu.Lock()
				defer mu.Unlock()
				settled++
				if out.Err != nil {
					failed++
					slog.Error("chunk fetch failed", "job", j.ID, "from", c.Start, "to", c.End, "error", out.Err)
				} else {
					all = append(all, out.Candles...)
				}
				e.report(Progress{
					CurrentChunk:   settled,
					TotalChunks:    total,
					CandlesFetched: len(all),
					Percentage:     5 + 90*float64(settled)/float64(total),
					Message:        fmt.Sprintf("Chunk %d/%d completed", settled, total),
					Details:        fmt.Sprintf("Fetched %d candles so far", len(all)),
				})
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return result{}, err
		}
		if end < total && e.pause > 0 {
			t := time.NewTimer(e.pause)
			select {
			case <-ctx.Done():
				t.Stop()
				return result{}, ctx.Err()
			case <-t.C:
			}
		}
	}

	e.report(Progress{
		CurrentChunk:   total,
		TotalChunks:    total,
		CandlesFetched: len(all),
		Percentage:     95,
		Message:        "Processing data...",
		Details:        "Removing duplicates and sorting",
	})

	return result{
		candles:      candle.Merge(all),
		totalChunks:  total,
		failedChunks: failed,
	}, nil
}
