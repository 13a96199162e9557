package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lfgkeeper/internal/observability"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breaker around a transport.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// Breaker fails fast with ErrUnavailable after repeated transport failures.
type Breaker struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Transport, s BreakerSettings) *Breaker {
	if s.Name == "" {
		s.Name = "chat-transport"
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}

	threshold := s.ConsecutiveFailures
	observability.BreakerState.WithLabelValues(s.Name).Set(float64(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellations say nothing about the gateway's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.BreakerState.WithLabelValues(name).Set(float64(to))
			slog.Warn("Circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &Breaker{next: next, cb: cb}
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Post(ctx context.Context, destination, content string) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Post(ctx, destination, content)
	})
	if err != nil {
		return "", translate(err)
	}
	return out.(string), nil
}

func (b *Breaker) Remove(ctx context.Context, destination, artifactID string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Remove(ctx, destination, artifactID)
	})
	return translate(err)
}

func translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}
