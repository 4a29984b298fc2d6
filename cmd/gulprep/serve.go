package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/gulprep/internal/metrics"
	"github.com/JonMunkholm/gulprep/internal/prep"
	"github.com/JonMunkholm/gulprep/internal/web"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the preparation HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"max_concurrent_runs", cfg.Prep.MaxConcurrentRuns,
		"archive_enabled", cfg.Database.Enabled(),
		"api_key_required", cfg.Security.RequireAPIKey(),
	)

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	defer closeArchive()

	m := metrics.New()
	opts := []prep.Option{prep.WithMetrics(m)}
	var history web.RunHistory
	if archive != nil {
		opts = append(opts, prep.WithArchiver(archive))
		history = archive
	}

	svc, err := prep.NewService(cfg.Prep, opts...)
	if err != nil {
		return err
	}

	limiter := prep.NewRunLimiter(cfg.Prep.MaxConcurrentRuns, cfg.Prep.RunWaitTime)
	server := web.NewServer(cfg, svc, history, limiter, m)

	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()
	if archive != nil {
		go archive.StartRetention(jobCtx, cfg.Archive)
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for runs to complete", "active", status.Active)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown did not complete in time", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	slog.Info("server stopped")
	return nil
}
