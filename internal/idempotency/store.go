package idempotency

import (
	"context"
	"errors"
	"strings"
)

// Claim reports the outcome of claiming an idempotency key.
type Claim struct {
	Key              string
	AlreadyProcessed bool
}

// Store records that an external event has been handled. Claiming a key that
// was claimed before reports AlreadyProcessed and has no other effect.
type Store interface {
	Claim(ctx context.Context, key string) (Claim, error)
}

// ErrEmptyKey is returned when a claim is attempted without a key.
var ErrEmptyKey = errors.New("idempotency key is required")

// EventKey builds the deterministic key for a provider event.
func EventKey(provider, eventType, eventID string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{provider, eventType, eventID} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ":")
}

// splitKey recovers provider, event type and event id from an EventKey.
func splitKey(key string) (provider, eventType, eventID string) {
	parts := strings.SplitN(key, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], "", parts[1]
	default:
		return "", "", key
	}
}
