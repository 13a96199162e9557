// Package notifications carries artifact deletion events from the chat transport to the engine.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"lfgkeeper/internal/cache"
	"lfgkeeper/internal/observability"

	"github.com/redis/go-redis/v9"
)

// DeletionEvent reports that an artifact disappeared from the chat surface.
type DeletionEvent struct {
	ArtifactID  string    `json:"artifact_id"`
	Destination string    `json:"destination,omitempty"`
	DeletedAt   time.Time `json:"deleted_at,omitempty"`
}

// Handler consumes deletion events.
type Handler func(ctx context.Context, ev DeletionEvent)

// Subscription delivers deletion events to a handler until ctx is done.
type Subscription interface {
	OnArtifactDeleted(ctx context.Context, handler Handler) error
}

// Publisher emits deletion events.
type Publisher interface {
	PublishArtifactDeleted(ctx context.Context, ev DeletionEvent) error
}

// Notifier publishes and subscribes through Redis pub/sub.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishArtifactDeleted sends ev on the deletion channel. A nil client is a no-op.
func (n *Notifier) PublishArtifactDeleted(ctx context.Context, ev DeletionEvent) error {
	if n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	ctx, span := observability.GetTraceLayer().TraceRedisOperation(ctx, "publish", cache.ArtifactDeletedChan)
	err = n.rdb.Publish(ctx, cache.ArtifactDeletedChan, string(payload)).Err()
	observability.EndSpan(span, err)
	return err
}

// OnArtifactDeleted subscribes to the deletion channel and calls handler for every event
// until ctx is cancelled. It returns once the subscription is confirmed.
func (n *Notifier) OnArtifactDeleted(ctx context.Context, handler Handler) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, cache.ArtifactDeletedChan)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", cache.ArtifactDeletedChan, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := ParseDeletionEvent(msg.Payload)
				if err != nil {
					slog.WarnContext(ctx, "ignoring malformed deletion event",
						slog.String("payload", msg.Payload),
						slog.String("error", err.Error()))
					continue
				}
				dispatch(ctx, handler, ev)
			}
		}
	}()

	return nil
}

// ParseDeletionEvent accepts the JSON event or a bare artifact id.
func ParseDeletionEvent(payload string) (DeletionEvent, error) {
	payload = strings.TrimSpace(payload)
	var ev DeletionEvent
	if strings.HasPrefix(payload, "{") {
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return ev, err
		}
	} else {
		ev.ArtifactID = payload
	}
	if ev.ArtifactID == "" {
		return ev, fmt.Errorf("deletion event has no artifact id")
	}
	return ev, nil
}

func dispatch(ctx context.Context, handler Handler, ev DeletionEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "PANIC in deletion handler",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	handler(ctx, ev)
}

// Bus is an in-process Publisher and Subscription, used without Redis and in tests.
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	ctxs     map[int]context.Context
	next     int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler), ctxs: make(map[int]context.Context)}
}

// OnArtifactDeleted registers handler until ctx is done.
func (b *Bus) OnArtifactDeleted(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.ctxs[id] = ctx
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		delete(b.ctxs, id)
		b.mu.Unlock()
	}()
	return nil
}

// PublishArtifactDeleted delivers ev synchronously to every live handler.
func (b *Bus) PublishArtifactDeleted(_ context.Context, ev DeletionEvent) error {
	b.mu.RLock()
	type target struct {
		ctx context.Context
		h   Handler
	}
	targets := make([]target, 0, len(b.handlers))
	for id, h := range b.handlers {
		targets = append(targets, target{ctx: b.ctxs[id], h: h})
	}
	b.mu.RUnlock()

	for _, t := range targets {
		if t.ctx.Err() != nil {
			continue
		}
		dispatch(t.ctx, t.h, ev)
	}
	return nil
}
