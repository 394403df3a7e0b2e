package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/tradedesk/internal/config"
	"github.com/ahmethakanbesel/tradedesk/internal/job"
	"github.com/ahmethakanbesel/tradedesk/internal/platform/sqlite"
	jobrepo "github.com/ahmethakanbesel/tradedesk/internal/repository/job"
	"github.com/ahmethakanbesel/tradedesk/internal/server"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			if port != "" {
				c.Port = port
			}
			return serve(c)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func serve(cfg config.Config) error {
	// Root context: cancelled on SIGINT/SIGTERM so request handlers and the
	// janitor stop promptly during graceful shutdown.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	repo := jobrepo.NewRepository(db.DB)
	manager := newManager(cfg, newRegistry(cfg), repo)
	jobSvc := job.NewService(manager, repo)

	// Jobs left pending or running by a previous process can never finish.
	if err := jobSvc.RecoverStaleJobs(rootCtx); err != nil {
		slog.Error("failed to recover stale jobs", "error", err)
	}

	janitor := job.NewJanitor(manager, cfg.Jobs.MaxAge(), cfg.Jobs.CleanupInterval())
	janitorDone := make(chan struct{})
	go func() {
		janitor.Run(rootCtx)
		close(janitorDone)
	}()

	hub := server.NewHub()
	srv := server.New(rootCtx, cfg.Port, jobSvc, hub)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("server started", "port", cfg.Port, "source", cfg.Jobs.Source)

	var serveErr error
	select {
	case <-rootCtx.Done():
	case serveErr = <-errCh:
		rootCancel()
	}
	<-janitorDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	// Running jobs are recorded as cancelled before the database closes.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("job manager shutdown", "error", err)
	}
	slog.Info("server stopped")
	return serveErr
}
