package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/execd/pkg/log"
	"github.com/cuemby/execd/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execd process: bus, risk gate, venue adapter, planner, orchestrator, coordinator, gateway",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("metrics-addr", ":9090", "Address to serve Prometheus metrics on")
}

func runRun(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, stop, err := buildStack(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("build stack: %w", err)
	}
	defer stop()

	metrics.RegisterComponent("bus", true, "running")
	metrics.RegisterComponent("coordinator", true, "running")
	metrics.RegisterComponent("venue", true, "running")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	log.Info("execd running")
	log.Logger.Info().Str("data_dir", dataDir).Str("metrics_addr", metricsAddr).Msg("stack started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Logger.Warn().Err(err).Msg("metrics server shutdown")
	}

	return nil
}
