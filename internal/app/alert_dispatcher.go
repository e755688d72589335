package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vigilis/sentinel/internal/infra/notification"
	"github.com/vigilis/sentinel/pkg/logger"
)

const (
	alertTitle  = "VIGILIS NEURAL ALERT"
	alertFooter = "Check dashboard for full report."

	// maxAlertFieldRunes bounds trap and reply excerpts in alert messages.
	maxAlertFieldRunes = 500
)

// ErrAlertNotDelivered is returned by Deliver when no channel accepted the alert.
var ErrAlertNotDelivered = errors.New("alert not delivered")

// Alert describes a compromised client.
type Alert struct {
	CycleID    string
	ClientID   string
	ClientName string
	Trap       string
	Reply      string
	// Analysis is the registry detail line. It is the only judge output an
	// owner sees.
	Analysis string
	// Judge evidence for operators.
	Judge       string
	JudgeReason string
	JudgeAnswer string
	OwnerChatID string
	DetectedAt  time.Time
}

// AlertQueue hands alerts to a background worker.
type AlertQueue interface {
	Enqueue(ctx context.Context, alert Alert) error
}

// AlertSuppressor reports whether an alert for a client may be sent now.
type AlertSuppressor interface {
	Allow(ctx context.Context, clientID string) (bool, error)
}

// AlertDispatcherOption configures an AlertDispatcher.
type AlertDispatcherOption func(*AlertDispatcher)

// WithAlertQueue routes Notify through a queue instead of delivering inline.
func WithAlertQueue(q AlertQueue) AlertDispatcherOption {
	return func(d *AlertDispatcher) {
		d.queue = q
	}
}

// WithAlertSuppressor skips alerts for clients alerted recently.
func WithAlertSuppressor(s AlertSuppressor) AlertDispatcherOption {
	return func(d *AlertDispatcher) {
		d.suppressor = s
	}
}

// WithOwnerTelegram sends a direct alert to the client's own Telegram chat
// when the record carries one.
func WithOwnerTelegram(bot *notification.TelegramClient) AlertDispatcherOption {
	return func(d *AlertDispatcher) {
		d.ownerBot = bot
	}
}

// AlertDispatcher fans compromise alerts out to the configured channels.
type AlertDispatcher struct {
	channels   []notification.Client
	ownerBot   *notification.TelegramClient
	queue      AlertQueue
	suppressor AlertSuppressor
	logger     *logger.Logger
}

// NewAlertDispatcher creates an AlertDispatcher.
func NewAlertDispatcher(channels []notification.Client, log *logger.Logger, opts ...AlertDispatcherOption) *AlertDispatcher {
	d := &AlertDispatcher{
		channels: channels,
		logger:   log.With("component", "alert_dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify sends the alert. It never fails: delivery problems are logged and
// counted.
func (d *AlertDispatcher) Notify(ctx context.Context, alert Alert) {
	log := d.logger.WithContext(ctx).With("client_id", alert.ClientID)

	if d.suppressor != nil {
		ok, err := d.suppressor.Allow(ctx, alert.ClientID)
		switch {
		case err != nil:
			log.Warn("alert suppression check failed, sending anyway", "error", err)
		case !ok:
			AlertsSuppressed.Inc()
			log.Info("alert suppressed, client alerted recently")
			return
		}
	}

	if d.queue != nil {
		if err := d.queue.Enqueue(ctx, alert); err != nil {
			AlertsTotal.WithLabelValues("queue", ResultFailure).Inc()
			log.Error("failed to enqueue alert", "error", err)
			return
		}
		AlertsTotal.WithLabelValues("queue", ResultSuccess).Inc()
		return
	}

	if err := d.Deliver(ctx, alert); err != nil {
		log.Error("alert delivery failed", "error", err)
	}
}

// Deliver sends the alert to every channel concurrently. It returns
// ErrAlertNotDelivered only when at least one channel was attempted and none
// succeeded.
func (d *AlertDispatcher) Deliver(ctx context.Context, alert Alert) error {
	type target struct {
		client notification.Client
		msg    notification.Message
		label  string
	}

	targets := make([]target, 0, len(d.channels)+1)
	operatorMsg := BuildAlertMessage(alert)
	for _, c := range d.channels {
		targets = append(targets, target{client: c, msg: operatorMsg, label: c.Provider()})
	}
	if d.ownerBot != nil && strings.TrimSpace(alert.OwnerChatID) != "" {
		targets = append(targets, target{
			client: d.ownerBot.ForChat(strings.TrimSpace(alert.OwnerChatID)),
			msg:    BuildOwnerAlertMessage(alert),
			label:  "telegram_owner",
		})
	}
	if len(targets) == 0 {
		d.logger.WithContext(ctx).Warn("no alert channel configured", "client_id", alert.ClientID)
		return nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		errs      []error
	)
	for _, t := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := send(ctx, t.client, t.msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				AlertsTotal.WithLabelValues(t.label, ResultFailure).Inc()
				errs = append(errs, fmt.Errorf("%s: %w", t.label, err))
				return
			}
			AlertsTotal.WithLabelValues(t.label, ResultSuccess).Inc()
			delivered++
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		d.logger.WithContext(ctx).Warn("some alert channels failed",
			"client_id", alert.ClientID,
			"delivered", delivered,
			"error", errors.Join(errs...),
		)
	}
	if delivered == 0 {
		return fmt.Errorf("%w: %w", ErrAlertNotDelivered, errors.Join(errs...))
	}
	return nil
}

func send(ctx context.Context, c notification.Client, msg notification.Message) error {
	res, err := c.Send(ctx, msg)
	if err != nil {
		return err
	}
	if res == nil || !res.Success {
		if res != nil && res.Error != "" {
			return errors.New(res.Error)
		}
		return errors.New("delivery failed")
	}
	return nil
}

// BuildAlertMessage renders the operator alert.
func BuildAlertMessage(a Alert) notification.Message {
	fields := []notification.Field{
		{Name: "Target", Value: a.ClientName},
		{Name: "Client ID", Value: a.ClientID},
		{Name: "Status", Value: "COMPROMISED"},
		{Name: "Analysis", Value: a.Analysis},
		{Name: "Trap", Value: truncateRunes(a.Trap, maxAlertFieldRunes)},
		{Name: "Reply", Value: truncateRunes(a.Reply, maxAlertFieldRunes)},
	}
	if a.Judge != "" {
		fields = append(fields, notification.Field{Name: "Judge", Value: a.Judge})
	}
	if a.JudgeReason != "" {
		fields = append(fields, notification.Field{Name: "Judge Reason", Value: a.JudgeReason})
	}
	if a.JudgeAnswer != "" {
		fields = append(fields, notification.Field{Name: "Judge Answer", Value: truncateRunes(a.JudgeAnswer, maxAlertFieldRunes)})
	}
	if a.CycleID != "" {
		fields = append(fields, notification.Field{Name: "Cycle", Value: a.CycleID})
	}
	return notification.Message{
		Title:      alertTitle,
		Severity:   notification.SeverityCritical,
		Fields:     fields,
		FooterText: alertFooter,
	}
}

// BuildOwnerAlertMessage renders the direct alert sent to a client owner.
func BuildOwnerAlertMessage(a Alert) notification.Message {
	return notification.Message{
		Title:    alertTitle,
		Severity: notification.SeverityCritical,
		Fields: []notification.Field{
			{Name: "Target", Value: a.ClientName},
			{Name: "Status", Value: "COMPROMISED"},
			{Name: "Analysis", Value: a.Analysis},
		},
		FooterText: alertFooter,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
