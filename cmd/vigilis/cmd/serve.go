package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vigilis/sentinel/internal/app"
	"github.com/vigilis/sentinel/internal/config"
	"github.com/vigilis/sentinel/internal/infra/http"
	"github.com/vigilis/sentinel/internal/infra/http/handler"
	"github.com/vigilis/sentinel/internal/infra/jobs"
	"github.com/vigilis/sentinel/internal/infra/registry"
	"github.com/vigilis/sentinel/pkg/logger"
)

var flagServeWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan scheduler and the status server",
	Long: `serve runs scan cycles on the configured schedule and serves the
public status view, health probes and Prometheus metrics over HTTP.

With --worker and ALERT_QUEUE_ENABLED the alert queue worker runs in the
same process.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if code := runServe(cfg, initLogger(cfg, nil)); code != 0 {
			return errors.New("serve exited with errors")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&flagServeWorker, "worker", false, "Also run the alert queue worker in this process")
}

func runServe(cfg *config.Config, log *logger.Logger) int {
	ctx := context.Background()
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env, "version", version)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	d, err := newDeps(cfg, log)
	if err != nil {
		log.Error("failed to initialize infrastructure", "error", err)
		return 1
	}
	defer d.Close()

	// ==========================================================================
	// Services
	// ==========================================================================
	dispatcher, err := d.dispatcher(false)
	if err != nil {
		log.Error("failed to initialize alert dispatcher", "error", err)
		return 1
	}
	cycle, err := d.scanCycle(ctx, dispatcher)
	if err != nil {
		log.Error("failed to initialize scan cycle", "error", err)
		return 1
	}
	locker, err := d.locker()
	if err != nil {
		log.Error("failed to initialize cycle lock", "error", err)
		return 1
	}
	scheduler, err := app.NewScanScheduler(cycle, locker, app.ScanSchedulerConfig{
		Cron:          cfg.Scheduler.Cron,
		Interval:      cfg.Scheduler.Interval,
		RunOnStart:    cfg.Scheduler.RunOnStart,
		CycleTimeout:  cfg.Scheduler.CycleTimeout,
		CheckInterval: cfg.Scheduler.CheckInterval,
	}, log)
	if err != nil {
		log.Error("failed to initialize scheduler", "error", err)
		return 1
	}

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	server := http.NewServer(cfg, newHandlers(cfg, d, log), log)

	// ==========================================================================
	// Workers
	// ==========================================================================
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	workerDone := make(chan struct{})
	if flagServeWorker && cfg.Alert.QueueEnabled {
		direct, err := d.dispatcher(true)
		if err != nil {
			log.Error("failed to initialize worker dispatcher", "error", err)
			return 1
		}
		worker, err := jobs.NewWorker(jobs.RedisOpt(&cfg.Redis), jobs.WorkerConfig{
			Concurrency: cfg.Worker.Concurrency,
			Queue:       cfg.Worker.Queue,
		}, jobs.NewDispatcherAdapter(direct), log)
		if err != nil {
			log.Error("failed to initialize worker", "error", err)
			return 1
		}
		go func() {
			defer close(workerDone)
			if err := worker.Run(workerCtx); err != nil {
				log.Error("worker error", "error", err)
			}
		}()
	} else {
		close(workerDone)
	}

	scheduler.Start()

	// ==========================================================================
	// Start Server
	// ==========================================================================
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", "error", err)
			exitCode = 1
		}
	}

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop the scheduler first so no new cycle starts during shutdown.
	scheduler.Stop()

	workerCancel()
	<-workerDone

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		exitCode = 1
	}

	log.Info("application stopped")
	return exitCode
}

// newHandlers wires the status server endpoints.
func newHandlers(cfg *config.Config, d *deps, log *logger.Logger) http.Handlers {
	var checks []handler.HealthHandlerOption
	if d != nil && d.redis != nil {
		checks = append(checks, handler.WithCheck("redis", d.redis))
	}

	return http.Handlers{
		Status: handler.NewStatusHandler(
			registry.NewFileViewReader(cfg.Public.ViewPath),
			func(err error) bool { return errors.Is(err, registry.ErrViewNotPublished) },
			log,
		),
		Health:  handler.NewHealthHandler(checks...),
		Metrics: promhttp.Handler(),
	}
}
