package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/tradedesk/internal/config"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch/breeze"
	"github.com/ahmethakanbesel/tradedesk/internal/fetch/yahoo"
	"github.com/ahmethakanbesel/tradedesk/internal/job"
)

func newRootCmd() *cobra.Command {
	var cfg config.Config

	root := &cobra.Command{
		Use:           "tradedesk",
		Short:         "Historical candle downloads for the trading dashboard",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			slog.SetDefault(cfg.Log.NewLogger(os.Stderr))
			return nil
		},
	}

	root.AddCommand(
		newServeCmd(&cfg),
		newFetchCmd(&cfg),
	)
	return root
}

// newRegistry registers every fetch client the process can serve.
func newRegistry(cfg config.Config) *fetch.Registry {
	registry := fetch.NewRegistry()
	registry.Register(breeze.New(
		breeze.WithCredentials(cfg.Breeze.APIKey, cfg.Breeze.SessionToken),
		breeze.WithBaseURL(cfg.Breeze.BaseURL),
		breeze.WithRequestsPerSecond(cfg.Breeze.RequestsPerSec),
		breeze.WithRetry(time.Second, cfg.Breeze.MaxRetry()),
	))
	registry.Register(yahoo.New())
	return registry
}

func newManager(cfg config.Config, registry *fetch.Registry, store job.Store) *job.Manager {
	return job.NewManager(registry, store,
		job.WithMaxParallelChunks(cfg.Jobs.MaxParallelChunks),
		job.WithBatchPause(cfg.Jobs.BatchPause()),
		job.WithDefaultSource(cfg.Jobs.Source),
	)
}
