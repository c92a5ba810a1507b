package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var metricsAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the watcher, dispatcher, and worker pool",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "override the Prometheus listen address")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}

	if err := a.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensuring indexes: %w", err)
	}

	if err := a.cache.Start(ctx); err != nil {
		return fmt.Errorf("starting agent cache: %w", err)
	}

	if err := a.pool.Start(ctx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	a.consumers.Start(ctx, nil)
	go registerConsumerStreams(ctx, a)

	a.elector.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.collectors.Handler())
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		slog.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	slog.Info("mongoclawd started", "holder_id", cfg.Election.HolderID)
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown error", "error", err)
	}
	a.elector.Stop(shutdownCtx)
	a.supervisor.Stop()
	a.consumers.Stop()
	a.pool.Stop()
	a.cache.Stop()
	if err := a.queue.Close(); err != nil {
		slog.Warn("queue close error", "error", err)
	}
	if err := a.mongoClient.Disconnect(shutdownCtx); err != nil {
		slog.Warn("mongo disconnect error", "error", err)
	}

	return nil
}

// registerConsumerStreams periodically tells the consumer group manager
// about every stream the worker pool currently discovers, so claimOnce has
// something to reclaim pending messages on.
func registerConsumerStreams(ctx context.Context, a *app) {
	ticker := time.NewTicker(a.cfg.Worker.StreamDiscoveryInterval)
	defer ticker.Stop()

	register := func() {
		for _, stream := range a.pool.Stats().Streams {
			a.consumers.ConsumerName(stream)
		}
	}
	register()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			register()
		}
	}
}
