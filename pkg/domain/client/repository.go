package client

import (
	"context"
	"errors"
)

// Errors returned by registry stores and publishers.
var (
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrRegistryPersist     = errors.New("registry persist failed")
	ErrPublishFailed       = errors.New("public view publish failed")
)

// Repository is the read/replace contract against the external registry.
// Load is called once at cycle start and Replace once at cycle end.
type Repository interface {
	Load(ctx context.Context) (*Registry, error)
	Replace(ctx context.Context, reg *Registry) error
}

// PublicViewWriter publishes the sanitized status artifact.
type PublicViewWriter interface {
	Publish(ctx context.Context, view PublicView) error
}
