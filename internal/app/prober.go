package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
	"github.com/vigilis/sentinel/pkg/normalize"
	"github.com/vigilis/sentinel/pkg/validator"
)

// Outcome is the HTTP-level result of a probe.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeHTTPError      Outcome = "http_error"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeSkipped        Outcome = "skipped"
)

// Details written to the registry for each verdict.
const (
	DetailCompromised      = "Neural Analysis: High Risk"
	DetailSecure           = "Neural Analysis: Verified"
	DetailOffline          = "Neural Analysis: Unreachable"
	DetailInvalidEndpoint  = "Neural Analysis: Invalid Endpoint"
	DetailEmptyReply       = "Neural Analysis: Empty Reply"
	DetailJudgeUnavailable = "Neural Analysis: Judge Unavailable"
	DetailAmbiguous        = "Neural Analysis: Inconclusive"
)

// ProbeResult is the outcome of probing one client.
type ProbeResult struct {
	ClientID   client.ID
	Outcome    Outcome
	StatusCode int
	Trap       string
	Reply      string
	Verdict    client.Status
	Reason     string
	Detail     string
	Judge      string
	// JudgeAnswer is the raw judge output. Kept out of the registry.
	JudgeAnswer string
	CheckedAt   time.Time
	Duration    time.Duration
}

// ProbeRunner probes a single client.
type ProbeRunner interface {
	Probe(ctx context.Context, rec client.Record) ProbeResult
}

// Notifier receives compromise alerts. Notify must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// ProberConfig holds prober settings.
type ProberConfig struct {
	Timeout             time.Duration
	MaxBodyBytes        int64
	MinReplyLength      int
	AllowPrivateTargets bool
	UserAgent           string
}

// Prober sends one trap to an agent endpoint and judges the reply.
type Prober struct {
	http   *http.Client
	traps  TrapSource
	judge  Arbiter
	alerts Notifier
	cfg    ProberConfig
	now    func() time.Time
	logger *logger.Logger
}

// NewProber creates a Prober. httpClient should refuse internal addresses
// unless private targets are allowed.
func NewProber(httpClient *http.Client, traps TrapSource, judge Arbiter, alerts Notifier, cfg ProberConfig, log *logger.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MinReplyLength <= 0 {
		cfg.MinReplyLength = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Vigilis-Probe/1.0"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Prober{
		http:   httpClient,
		traps:  traps,
		judge:  judge,
		alerts: alerts,
		cfg:    cfg,
		now:    time.Now,
		logger: log.With("component", "prober"),
	}
}

// Probe runs the trap/judge pipeline for rec. It never returns an error; all
// failures are folded into the result verdict.
func (p *Prober) Probe(ctx context.Context, rec client.Record) ProbeResult {
	start := time.Now()
	res := p.probe(ctx, rec)
	res.ClientID = rec.ID
	res.CheckedAt = p.now()
	res.Duration = time.Since(start)

	ProbesTotal.WithLabelValues(string(res.Verdict)).Inc()
	p.logger.WithContext(ctx).Info("probe finished",
		"client_id", rec.ID.String(),
		"outcome", res.Outcome,
		"status_code", res.StatusCode,
		"verdict", res.Verdict,
		"reason", res.Reason,
		"judge", res.Judge,
		"duration", res.Duration,
	)

	if res.Verdict == client.StatusCompromised && p.alerts != nil {
		p.alerts.Notify(ctx, Alert{
			CycleID:     logger.CycleID(ctx),
			ClientID:    rec.ID.String(),
			ClientName:  rec.Name,
			Trap:        res.Trap,
			Reply:       res.Reply,
			Analysis:    res.Detail,
			Judge:       res.Judge,
			JudgeReason: res.Reason,
			JudgeAnswer: res.JudgeAnswer,
			OwnerChatID: string(rec.TelegramID),
			DetectedAt:  res.CheckedAt,
		})
	}
	return res
}

func (p *Prober) probe(ctx context.Context, rec client.Record) ProbeResult {
	target, err := validator.ValidateEndpoint(rec.URL, validator.EndpointOptions{AllowPrivate: p.cfg.AllowPrivateTargets})
	if err != nil {
		return ProbeResult{
			Outcome: OutcomeSkipped,
			Verdict: client.StatusError,
			Reason:  err.Error(),
			Detail:  DetailInvalidEndpoint,
		}
	}

	trap := p.traps.Generate(ctx)
	res := ProbeResult{Trap: trap}

	body, status, outcome, err := p.send(ctx, target.String(), trap)
	res.Outcome = outcome
	res.StatusCode = status
	if err != nil {
		res.Verdict = client.StatusOffline
		res.Reason = err.Error()
		res.Detail = DetailOffline
		return res
	}

	res.Reply = normalize.Normalize(body)
	if utf8.RuneCountInString(res.Reply) < p.cfg.MinReplyLength {
		res.Verdict = client.StatusError
		res.Reason = "empty reply"
		res.Detail = DetailEmptyReply
		return res
	}

	j := p.judge.Judge(ctx, trap, res.Reply)
	res.Verdict = j.Verdict
	res.Judge = j.Provider
	res.JudgeAnswer = j.Raw
	res.Reason = j.Reason
	res.Detail = detailFor(j)
	return res
}

// send posts the trap and returns the capped body of a 2xx response.
func (p *Prober) send(ctx context.Context, url, trap string) ([]byte, int, Outcome, error) {
	payload, err := json.Marshal(map[string]string{"text": trap})
	if err != nil {
		return nil, 0, OutcomeTransportError, fmt.Errorf("marshal probe: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, OutcomeTransportError, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/html, text/plain, */*")
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	start := time.Now()
	resp, err := p.http.Do(req)
	if err != nil {
		outcome := transportOutcome(ctx, err)
		ProbeDuration.WithLabelValues(string(outcome)).Observe(time.Since(start).Seconds())
		return nil, 0, outcome, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		ProbeDuration.WithLabelValues(string(OutcomeHTTPError)).Observe(time.Since(start).Seconds())
		return nil, resp.StatusCode, OutcomeHTTPError, fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes))
	if err != nil {
		outcome := transportOutcome(ctx, err)
		ProbeDuration.WithLabelValues(string(outcome)).Observe(time.Since(start).Seconds())
		return nil, resp.StatusCode, outcome, fmt.Errorf("read body: %w", err)
	}

	ProbeDuration.WithLabelValues(string(OutcomeSuccess)).Observe(time.Since(start).Seconds())
	return body, resp.StatusCode, OutcomeSuccess, nil
}

func transportOutcome(ctx context.Context, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeTransportError
}

func detailFor(j Judgment) string {
	switch j.Verdict {
	case client.StatusCompromised:
		return DetailCompromised
	case client.StatusSecure:
		return DetailSecure
	}
	if j.Reason == ReasonJudgeUnavailable {
		return DetailJudgeUnavailable
	}
	return DetailAmbiguous
}
