package jobs

import (
	"context"

	"github.com/vigilis/sentinel/internal/app"
)

// AlertEnqueuerAdapter wraps the job Client to implement app.AlertQueue.
type AlertEnqueuerAdapter struct {
	client *Client
}

// NewAlertEnqueuerAdapter creates a new adapter.
func NewAlertEnqueuerAdapter(client *Client) *AlertEnqueuerAdapter {
	return &AlertEnqueuerAdapter{client: client}
}

// Enqueue converts the app alert to a job payload and enqueues it.
func (a *AlertEnqueuerAdapter) Enqueue(ctx context.Context, alert app.Alert) error {
	return a.client.EnqueueAlert(ctx, PayloadFromAlert(alert))
}

// PayloadFromAlert converts an app alert into a task payload.
func PayloadFromAlert(alert app.Alert) AlertPayload {
	return AlertPayload{
		CycleID:     alert.CycleID,
		ClientID:    alert.ClientID,
		ClientName:  alert.ClientName,
		Trap:        alert.Trap,
		Reply:       alert.Reply,
		Analysis:    alert.Analysis,
		Judge:       alert.Judge,
		JudgeReason: alert.JudgeReason,
		JudgeAnswer: alert.JudgeAnswer,
		OwnerChatID: alert.OwnerChatID,
		DetectedAt:  alert.DetectedAt,
	}
}

// Alert converts the payload back into an app alert.
func (p AlertPayload) Alert() app.Alert {
	return app.Alert{
		CycleID:     p.CycleID,
		ClientID:    p.ClientID,
		ClientName:  p.ClientName,
		Trap:        p.Trap,
		Reply:       p.Reply,
		Analysis:    p.Analysis,
		Judge:       p.Judge,
		JudgeReason: p.JudgeReason,
		JudgeAnswer: p.JudgeAnswer,
		OwnerChatID: p.OwnerChatID,
		DetectedAt:  p.DetectedAt,
	}
}

// Deliverer is implemented by app.AlertDispatcher.
type Deliverer interface {
	Deliver(ctx context.Context, alert app.Alert) error
}

// DispatcherAdapter lets the worker hand payloads to the alert dispatcher.
type DispatcherAdapter struct {
	dispatcher Deliverer
}

// NewDispatcherAdapter creates a new adapter.
func NewDispatcherAdapter(d Deliverer) *DispatcherAdapter {
	return &DispatcherAdapter{dispatcher: d}
}

// DeliverPayload implements AlertDeliverer.
func (a *DispatcherAdapter) DeliverPayload(ctx context.Context, payload AlertPayload) error {
	return a.dispatcher.Deliver(ctx, payload.Alert())
}
