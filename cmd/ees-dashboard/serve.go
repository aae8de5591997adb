package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/Orine99/ees-education-dashboard/internal/api/http"
	"github.com/Orine99/ees-education-dashboard/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE:  runServe,
	}
	cmd.Flags().String("port", "", "Listen port (overrides PORT)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	c, err := build(cfg, logger)
	if err != nil {
		return err
	}

	// Scheduler that warms metadata and sweeps expired entries.
	sched := scheduler.New(scheduler.Config{
		Warmer:          c.service,
		DataSetIDs:      cfg.DataSetIDs,
		RefreshInterval: cfg.MetaRefreshInterval,
		JobTimeout:      cfg.HTTPTimeout * 2,
		Sweepers: map[string]scheduler.Sweeper{
			"pages":    c.pages,
			"trends":   c.trends,
			"sessions": c.sessions,
		},
		SweepInterval: cfg.SweepInterval,
		Logger:        logger.With().Str("component", "scheduler").Logger(),
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	app := httpapi.NewApp(httpapi.AppOptions{
		Name:   serviceName,
		Logger: logger,
	})
	httpapi.RegisterRoutes(app, httpapi.Dependencies{
		Service:         c.service,
		Proxy:           c.client,
		Sessions:        c.sessions,
		Caches:          []httpapi.StatsSource{c.pages, c.trends, c.meta},
		Schools:         httpapi.NewSchools(5000, 42, cfg.SchoolsLatency, nil),
		WindowSize:      cfg.WindowSize,
		PrefetchWindows: cfg.PrefetchWindows,
	})

	go func() {
		logger.Info().Str("port", cfg.Port).Str("upstream", c.client.BaseURL()).Msg("listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}
