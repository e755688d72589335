package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/vigilis/sentinel/pkg/logger"
)

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client *asynq.Client
	opts   TaskOptions
	logger *logger.Logger
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(redisOpt asynq.RedisClientOpt, opts TaskOptions, log *logger.Logger) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		opts:   opts,
		logger: log.With("component", "job_client"),
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueAlert enqueues an alert delivery job.
func (c *Client) EnqueueAlert(ctx context.Context, payload AlertPayload) error {
	task, err := NewAlertTask(payload, c.opts)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue alert",
			"client_id", payload.ClientID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("alert queued",
		"task_id", info.ID,
		"client_id", payload.ClientID,
		"queue", info.Queue,
	)
	return nil
}
