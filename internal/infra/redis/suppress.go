package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const suppressKeyPrefix = "vigilis:alert:"

// AlertSuppressor remembers recently alerted clients so a client that stays
// compromised is not re-alerted within the window.
type AlertSuppressor struct {
	client *Client
	window time.Duration
}

// NewAlertSuppressor creates a suppressor with the given window.
func NewAlertSuppressor(client *Client, window time.Duration) (*AlertSuppressor, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if window <= 0 {
		return nil, errors.New("suppress window must be positive")
	}
	return &AlertSuppressor{client: client, window: window}, nil
}

// SuppressKey returns the redis key for a client alert marker.
func SuppressKey(clientID string) string {
	return suppressKeyPrefix + clientID
}

// Allow marks the client as alerted and reports whether this caller is the
// first within the window.
func (s *AlertSuppressor) Allow(ctx context.Context, clientID string) (bool, error) {
	if clientID == "" {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, SuppressKey(clientID), strconv.FormatInt(time.Now().Unix(), 10), s.window)
	if err != nil {
		return false, fmt.Errorf("suppress %s: %w", clientID, err)
	}
	return ok, nil
}
