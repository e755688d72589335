package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// PacedProvider spaces calls to a wrapped provider with a token bucket.
type PacedProvider struct {
	Provider
	limiter *rate.Limiter
}

// NewPacedProvider wraps p so that at most rps calls per second start.
// A non-positive rps returns p unchanged.
func NewPacedProvider(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &PacedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete waits for a token, then delegates.
func (p *PacedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", p.Name(), ErrRateLimited, err)
	}
	return p.Provider.Complete(ctx, req)
}
