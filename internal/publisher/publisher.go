// Package publisher announces finished detail snapshots to downstream
// consumers.
package publisher

import "context"

// Publisher sends one JSON-encodable payload and returns the broker's
// message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Nop drops every message. It is used when no topic is configured.
type Nop struct{}

// Publish returns an empty id.
func (Nop) Publish(context.Context, string, any) (string, error) { return "", nil }
