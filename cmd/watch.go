package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/deltascan/internal/metrics"
	"github.com/CosmoTheDev/deltascan/internal/scheduler"
	"github.com/CosmoTheDev/deltascan/models"
)

var watchRunNow bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rescan the configured targets on the watch schedule",
	Long: `Runs until interrupted. Every time watch.schedule fires, all watch.targets are
scanned with at most watch.workers packages in flight. When metrics.listen is
set, Prometheus metrics are served on /metrics.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchRunNow, "now", false, "Run a sweep immediately before waiting for the schedule")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	workers := s.cfg.Watch.Workers
	sched, err := scheduler.New(s.cfg.Watch, func(ctx context.Context, targets []models.PackageTarget) []*models.ScanResult {
		return s.scanner.ScanPackages(ctx, targets, workers)
	})
	if err != nil {
		return err
	}

	if addr := s.cfg.Metrics.Listen; addr != "" {
		srv := metricsServer(addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("Serving metrics", "addr", addr)
	}

	if watchRunNow {
		sched.TriggerNow(ctx)
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Watching %d targets (%s). Press Ctrl+C to stop.\n", len(s.cfg.Watch.Targets), s.cfg.Watch.Schedule)

	<-ctx.Done()
	slog.Info("Stopping watch scheduler")
	<-sched.Stop().Done()
	return nil
}

func metricsServer(addr string) *http.Server {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}
