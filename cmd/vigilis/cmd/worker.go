package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vigilis/sentinel/internal/infra/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the alert queue worker",
	Long: `worker consumes queued compromise alerts and delivers them to the
configured channels, retrying failed deliveries. It requires
ALERT_QUEUE_ENABLED and a reachable Redis.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Alert.QueueEnabled {
			return errors.New("ALERT_QUEUE_ENABLED is not set, alerts are delivered in-process")
		}
		log := initLogger(cfg, nil)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := newDeps(cfg, log)
		if err != nil {
			return err
		}
		defer d.Close()

		dispatcher, err := d.dispatcher(true)
		if err != nil {
			return err
		}
		worker, err := jobs.NewWorker(jobs.RedisOpt(&cfg.Redis), jobs.WorkerConfig{
			Concurrency: cfg.Worker.Concurrency,
			Queue:       cfg.Worker.Queue,
		}, jobs.NewDispatcherAdapter(dispatcher), log)
		if err != nil {
			return err
		}
		return worker.Run(ctx)
	},
}
