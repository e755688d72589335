package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/vigilis/sentinel/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	Concurrency int
	Queue       string
}

// Worker processes background jobs.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logger.Logger
}

// NewWorker creates a new background job worker delivering alerts.
func NewWorker(redisOpt asynq.RedisClientOpt, cfg WorkerConfig, deliverer AlertDeliverer, log *logger.Logger) (*Worker, error) {
	if deliverer == nil {
		return nil, errors.New("alert deliverer is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultAlertQueue
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	log = log.With("component", "job_worker")
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queue: 1},
			Logger:      newAsynqLogger(log),
		},
	)

	mux := asynq.NewServeMux()
	NewAlertTaskHandler(deliverer, log.Logger).RegisterHandlers(mux)

	return &Worker{
		server: server,
		mux:    mux,
		logger: log,
	}, nil
}

// Run runs the worker until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting job worker")
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}

	<-ctx.Done()
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
	return nil
}

// asynqLogger routes asynq's internal logs through the application logger.
type asynqLogger struct {
	log *logger.Logger
}

func newAsynqLogger(log *logger.Logger) *asynqLogger {
	return &asynqLogger{log: log}
}

func (l *asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
