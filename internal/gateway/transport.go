// Package gateway talks to the chat platform that displays request artifacts.
package gateway

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the transport refuses calls without trying, e.g. an open breaker.
var ErrUnavailable = errors.New("chat transport unavailable")

// Transport posts and removes messages in a destination channel.
type Transport interface {
	// Post publishes content in destination and returns the new message id.
	Post(ctx context.Context, destination, content string) (string, error)
	// Remove deletes a message. A message that is already gone is not an error.
	Remove(ctx context.Context, destination, artifactID string) error
}
