package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/tradedesk/internal/config"
	"github.com/ahmethakanbesel/tradedesk/internal/export"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch"
	"github.com/ahmethakanbesel/tradedesk/internal/job"
	"github.com/ahmethakanbesel/tradedesk/internal/platform/sqlite"
	jobrepo "github.com/ahmethakanbesel/tradedesk/internal/repository/job"
)

type fetchOptions struct {
	req     job.CreateJobRequest
	fromStr string
	toStr   string
	format  string
	outPath string
	persist bool
}

func newFetchCmd(cfg *config.Config) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch SYMBOL",
		Short: "Download one candle series and write it as CSV or parquet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.req.Symbol = args[0]
			return runFetch(cmd.Context(), *cfg, newRegistry(*cfg), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.req.Source, "source", "", "fetch client (default HISTORY_SOURCE)")
	f.StringVar(&opts.req.Exchange, "exchange", "", "exchange code (default NSE)")
	f.StringVar(&opts.req.Interval, "interval", "", "candle interval (default 1day)")
	f.StringVar(&opts.fromStr, "from", "", "range start, RFC3339 or YYYY-MM-DD (default 30 days before --to)")
	f.StringVar(&opts.toStr, "to", "", "range end, RFC3339 or YYYY-MM-DD (default now)")
	f.StringVar(&opts.req.ProductType, "product-type", "", "derivative product type")
	f.StringVar(&opts.req.ExpiryDate, "expiry", "", "derivative expiry date")
	f.StringVar(&opts.req.StrikePrice, "strike", "", "option strike price")
	f.StringVar(&opts.req.Right, "right", "", "option right (call|put)")
	f.StringVar(&opts.format, "format", "csv", "output format: csv|parquet|json")
	f.StringVarP(&opts.outPath, "out", "o", "", "output file (default stdout)")
	f.BoolVar(&opts.persist, "persist", false, "also store the job and its candles in DB_PATH")
	return cmd
}

func runFetch(ctx context.Context, cfg config.Config, registry *fetch.Registry, opts fetchOptions, stdout, stderr io.Writer) error {
	var err error
	if opts.req.FromDate, err = parseDate(opts.fromStr); err != nil {
		return fmt.Errorf("bad --from: %w", err)
	}
	if opts.req.ToDate, err = parseDate(opts.toStr); err != nil {
		return fmt.Errorf("bad --to: %w", err)
	}
	if appErr := opts.req.Validate(); appErr != nil {
		return appErr
	}
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store job.Store
	if opts.persist {
		db, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		store = jobrepo.NewRepository(db.DB)
	}

	manager := newManager(cfg, registry, store)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	id, err := manager.Create(ctx, opts.req.Params(time.Now().UTC()))
	if err != nil {
		return err
	}
	if err := manager.AddProgressCallback(id, progressPrinter(stderr)); err != nil {
		return err
	}
	manager.Start(id)

	j, err := manager.Wait(ctx, id)
	if err != nil {
		return err
	}
	switch j.Status {
	case job.StatusCompleted:
	case job.StatusFailed:
		return fmt.Errorf("job %s failed: %s", id, j.Error)
	default:
		return fmt.Errorf("job %s ended %s", id, j.Status)
	}
	if j.Partial {
		slog.Warn("some chunks failed, output is incomplete", "job", id,
			"failed", j.FailedChunks, "total", j.TotalChunks)
	}

	w := stdout
	if opts.outPath != "" {
		file, err := os.Create(opts.outPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() { _ = file.Close() }()
		w = file
	}
	if format == export.FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(j.Result)
	}
	series := export.Series{Symbol: j.Symbol, Exchange: j.Exchange, Interval: j.Interval}
	return export.Write(w, format, series, j.Result)
}

func progressPrinter(w io.Writer) job.ProgressFunc {
	return func(_ context.Context, j job.Job) error {
		_, err := fmt.Fprintf(w, "[%5.1f%%] %s\n", j.Progress.Percentage, j.Progress.Message)
		return err
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
