package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vigilis/sentinel/pkg/validator"
)

// TypeAlertDeliver is the task type for delivering a compromise alert.
const TypeAlertDeliver = "alert:deliver"

// DefaultAlertQueue is the queue alerts go to when none is configured.
const DefaultAlertQueue = "alerts"

// AlertPayload contains data for an alert delivery task.
type AlertPayload struct {
	CycleID     string    `json:"cycle_id"`
	ClientID    string    `json:"client_id" validate:"required"`
	ClientName  string    `json:"client_name"`
	Trap        string    `json:"trap"`
	Reply       string    `json:"reply" validate:"required"`
	Analysis    string    `json:"analysis"`
	Judge       string    `json:"judge,omitempty"`
	JudgeReason string    `json:"judge_reason,omitempty"`
	JudgeAnswer string    `json:"judge_answer,omitempty"`
	OwnerChatID string    `json:"owner_chat_id,omitempty"`
	DetectedAt  time.Time `json:"detected_at" validate:"required"`
}

// TaskOptions controls how alert tasks are enqueued.
type TaskOptions struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// NewAlertTask creates a task for delivering one alert.
func NewAlertTask(payload AlertPayload, opts TaskOptions) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal alert payload: %w", err)
	}

	queue := opts.Queue
	if queue == "" {
		queue = DefaultAlertQueue
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	return asynq.NewTask(
		TypeAlertDeliver,
		data,
		asynq.MaxRetry(opts.MaxRetry),
		asynq.Timeout(timeout),
		asynq.Queue(queue),
	), nil
}

// AlertDeliverer delivers an alert to the configured channels. It returns an
// error only when no channel accepted the alert.
type AlertDeliverer interface {
	DeliverPayload(ctx context.Context, payload AlertPayload) error
}

// AlertTaskHandler handles alert delivery tasks.
type AlertTaskHandler struct {
	deliverer AlertDeliverer
	rules     *validator.Validator
	log       *slog.Logger
}

// NewAlertTaskHandler creates a new alert task handler.
func NewAlertTaskHandler(deliverer AlertDeliverer, log *slog.Logger) *AlertTaskHandler {
	return &AlertTaskHandler{
		deliverer: deliverer,
		rules:     validator.New(),
		log:       log,
	}
}

// HandleDeliver handles the alert delivery task.
func (h *AlertTaskHandler) HandleDeliver(ctx context.Context, t *asynq.Task) error {
	var payload AlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.rules.Validate(payload); err != nil {
		return fmt.Errorf("invalid alert payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.deliverer.DeliverPayload(ctx, payload); err != nil {
		h.log.Error("failed to deliver alert",
			"error", err,
			"client_id", payload.ClientID,
			"cycle_id", payload.CycleID,
		)
		return err
	}

	h.log.Info("alert delivered",
		"client_id", payload.ClientID,
		"cycle_id", payload.CycleID,
	)
	return nil
}

// RegisterHandlers registers alert task handlers with the asynq server mux.
func (h *AlertTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeAlertDeliver, h.HandleDeliver)
}
