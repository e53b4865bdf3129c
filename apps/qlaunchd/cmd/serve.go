package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quatton/qlaunch/pkg/qapi"
	"github.com/quatton/qlaunch/pkg/qapi/config"
	"github.com/quatton/qlaunch/pkg/qapi/routes"
	"github.com/quatton/qlaunch/pkg/tracing"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API and monitor runs",
	Long: `Starts the HTTP API and, unless MONITOR_ENABLED=false, the background
monitor that polls Cloud Run executions of in-progress runs. Prometheus
metrics are served on /metrics.`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := GetConfig(cmd)
	if err != nil {
		return err
	}

	env, err := config.ValidateEnv()
	if err != nil {
		return err
	}
	env.Print(log.Printf)

	logger := newLogger(env.LogFormat)

	shutdownTracing, err := tracing.Init(ctx, "qlaunchd", version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, env, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	api := qapi.NewApi(version)
	routes.RegisterAPI(api.Api, a.services)
	api.Router.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", env.Port),
		Handler:           api.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("🚀 qlaunchd starting", "addr", srv.Addr, "config", cfg.ConfigFileUsed())
		logger.Info("📚 OpenAPI docs", "url", env.BaseURL+"/docs")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if env.MonitorEnabled {
		g.Go(func() error {
			return a.monitor.Run(gctx)
		})
	}

	return g.Wait()
}
