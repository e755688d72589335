package app

import (
	"context"
	"errors"
	"sync"

	"github.com/vigilis/sentinel/internal/infra/llm"
	"github.com/vigilis/sentinel/internal/infra/notification"
	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewNop()
}

// fakeProvider is a scripted llm.Provider.
type fakeProvider struct {
	name    string
	content string
	err     error

	mu      sync.Mutex
	calls   int
	prompts []string
}

func (p *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.prompts = append(p.prompts, req.UserPrompt)
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Content: p.content}, nil
}

func (p *fakeProvider) Name() string    { return p.name }
func (p *fakeProvider) Model() string   { return "fake-model" }
func (p *fakeProvider) Validate() error { return nil }

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// staticTraps always returns the same trap.
type staticTraps string

func (s staticTraps) Generate(context.Context) string { return string(s) }

// fakeArbiter returns a fixed judgment and records its inputs.
type fakeArbiter struct {
	judgment Judgment

	mu      sync.Mutex
	calls   int
	replies []string
}

func (a *fakeArbiter) Judge(_ context.Context, _, reply string) Judgment {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.replies = append(a.replies, reply)
	return a.judgment
}

func (a *fakeArbiter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// recordingNotifier captures alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *recordingNotifier) Alerts() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Alert(nil), n.alerts...)
}

// memoryRepo is an in-memory client.Repository.
type memoryRepo struct {
	mu         sync.Mutex
	reg        *client.Registry
	loadErr    error
	replaceErr error
	replaced   *client.Registry
	replaces   int
}

func (r *memoryRepo) Load(ctx context.Context) (*client.Registry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.reg.Clone(), nil
}

func (r *memoryRepo) Replace(ctx context.Context, reg *client.Registry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaces++
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.replaced = reg.Clone()
	return nil
}

// memoryPublisher captures the published view.
type memoryPublisher struct {
	view  client.PublicView
	calls int
	err   error
}

func (p *memoryPublisher) Publish(ctx context.Context, view client.PublicView) error {
	p.calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.err != nil {
		return p.err
	}
	p.view = view
	return nil
}

// fakeChannel is a notification.Client with a scripted result.
type fakeChannel struct {
	provider string
	fail     bool
	err      error

	mu   sync.Mutex
	sent []notification.Message
}

func (c *fakeChannel) Send(_ context.Context, msg notification.Message) (*notification.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	if c.err != nil {
		return nil, c.err
	}
	if c.fail {
		return &notification.SendResult{Success: false, Error: "boom"}, nil
	}
	return &notification.SendResult{Success: true}, nil
}

func (c *fakeChannel) TestConnection(ctx context.Context) (*notification.SendResult, error) {
	return c.Send(ctx, notification.Message{Title: "test"})
}

func (c *fakeChannel) Provider() string { return c.provider }

func (c *fakeChannel) Sent() []notification.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notification.Message(nil), c.sent...)
}

var errUnreachable = errors.New("dial tcp: connection refused")
