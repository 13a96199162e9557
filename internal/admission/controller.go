// Package admission enforces the per-actor cap on concurrently active requests.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lfgkeeper/internal/cache"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/observability"
)

// DefaultTTL bounds how long an unreleased reservation holds a slot.
const DefaultTTL = 5 * time.Minute

// Slot identifies who is asking for admission. Holder is the id the caller will give the
// new request, so a stored row and its in-flight reservation are never counted twice.
type Slot struct {
	Holder   string
	ActorID  string
	Scope    string
	Category models.Category
}

func (s Slot) key() string {
	return cache.ReservationKey(s.ActorID, s.Scope, string(s.Category))
}

// Reservation is a granted admission slot.
type Reservation struct {
	Slot
	Count     int64     `json:"count"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store holds in-flight reservations per key, each holder with its own expiry.
type Store interface {
	// Acquire drops holders expired at now, adds holder until now+ttl, and returns the
	// live holders (including the new one) as one atomic step.
	Acquire(ctx context.Context, key, holder string, now time.Time, ttl time.Duration) ([]string, error)
	// Release removes holder and returns how many holders remain for key.
	Release(ctx context.Context, key, holder string) (int, error)
	// Sweep removes holders whose expiry is at or before now and reports how many it removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// ActiveCounter reports how many stored requests already hold a slot, ignoring the
// ids in exclude.
type ActiveCounter interface {
	CountActive(ctx context.Context, actorID, scope string, category models.Category, exclude []string) (int64, error)
}

// Controller grants or refuses reservations against a limit.
type Controller struct {
	store  Store
	active ActiveCounter
	ttl    time.Duration
	now    func() time.Time
}

// NewController creates a controller. active may be nil to count in-flight reservations only.
func NewController(store Store, active ActiveCounter, ttl time.Duration) *Controller {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Controller{store: store, active: active, ttl: ttl, now: time.Now}
}

// TTL is the lifetime given to each reservation.
func (c *Controller) TTL() time.Duration {
	return c.ttl
}

// Reserve claims one slot. The holder is registered before stored rows are counted, and
// rows belonging to live holders are excluded from that count, so a concurrent creator is
// seen exactly once whether or not its row is committed yet.
func (c *Controller) Reserve(ctx context.Context, slot Slot, limit int) (*Reservation, error) {
	if slot.Holder == "" {
		return nil, models.NewValidationError("reservation holder is required")
	}
	key := slot.key()
	now := c.now()

	holders, err := c.store.Acquire(ctx, key, slot.Holder, now, c.ttl)
	if err != nil {
		observability.AdmissionDecisions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reserve admission slot: %w", err)
	}

	var existing int64
	if c.active != nil {
		existing, err = c.active.CountActive(ctx, slot.ActorID, slot.Scope, slot.Category, holders)
		if err != nil {
			c.rollback(ctx, key, slot.Holder)
			observability.AdmissionDecisions.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	total := existing + int64(len(holders))
	if total > int64(limit) {
		c.rollback(ctx, key, slot.Holder)
		observability.AdmissionDecisions.WithLabelValues("limit_reached").Inc()
		return nil, models.NewLimitReachedError(limit)
	}

	observability.AdmissionDecisions.WithLabelValues("granted").Inc()
	return &Reservation{
		Slot:      slot,
		Count:     total,
		ExpiresAt: now.Add(c.ttl),
	}, nil
}

// Release returns a slot claimed by Reserve. Releasing twice is harmless.
func (c *Controller) Release(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	if _, err := c.store.Release(ctx, res.key(), res.Holder); err != nil {
		return fmt.Errorf("release admission slot: %w", err)
	}
	return nil
}

// Sweep drops reservations whose TTL elapsed.
func (c *Controller) Sweep(ctx context.Context) (int, error) {
	return c.store.Sweep(ctx, c.now())
}

func (c *Controller) rollback(ctx context.Context, key, holder string) {
	if _, err := c.store.Release(ctx, key, holder); err != nil {
		slog.WarnContext(ctx, "failed to roll back admission slot; TTL sweep will reclaim it",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}
