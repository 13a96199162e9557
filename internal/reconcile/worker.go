// Package reconcile repairs request artifacts that were deleted outside the engine.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lfgkeeper/internal/featureflags"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/notifications"
	"lfgkeeper/internal/observability"
)

// DefaultDebounce is the wait before acting on a deletion notification.
const DefaultDebounce = 1500 * time.Millisecond

// Outcome is what Reconcile did with one notification.
type Outcome string

const (
	OutcomeRecreated    Outcome = "recreated"
	OutcomeUnknown      Outcome = "unknown"
	OutcomeNotNeeded    Outcome = "not_needed"
	OutcomeSuperseded   Outcome = "superseded"
	OutcomeDisabled     Outcome = "disabled"
	OutcomeFailed       Outcome = "failed"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnconfigured Outcome = "unconfigured"
)

// Store is the slice of the request repository the worker needs.
type Store interface {
	FindByArtifactID(ctx context.Context, artifactID string) (*models.Request, error)
	SwapArtifact(ctx context.Context, id string, kind models.ArtifactKind, expected, next *string) (bool, error)
}

// Poster recreates and discards artifacts.
type Poster interface {
	Post(ctx context.Context, kind models.ArtifactKind, req *models.Request) (string, error)
	Discard(ctx context.Context, kind models.ArtifactKind, req *models.Request, artifactID string) error
}

// Worker debounces deletion notifications and recreates artifacts still required.
type Worker struct {
	store    Store
	poster   Poster
	flags    *featureflags.Manager
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
	log     *observability.JobLogger
}

// NewWorker creates a worker. flags may be nil, in which case reconciliation is always on.
func NewWorker(store Store, poster Poster, flags *featureflags.Manager, debounce time.Duration) *Worker {
	if debounce < 0 {
		debounce = DefaultDebounce
	}
	return &Worker{
		store:    store,
		poster:   poster,
		flags:    flags,
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
		log:      observability.NewJobLogger("reconcile"),
	}
}

// Start subscribes the worker to deletion events until ctx is done.
func (w *Worker) Start(ctx context.Context, sub notifications.Subscription) error {
	return sub.OnArtifactDeleted(ctx, w.Enqueue)
}

// Enqueue schedules reconciliation of ev after the debounce delay. Notifications for an
// artifact already waiting collapse into the scheduled run.
func (w *Worker) Enqueue(ctx context.Context, ev notifications.DeletionEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pending[ev.ArtifactID]; ok {
		observability.ReconcileEvents.WithLabelValues(string(OutcomeDuplicate)).Inc()
		return
	}

	w.wg.Add(1)
	w.pending[ev.ArtifactID] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.pending, ev.ArtifactID)
			w.mu.Unlock()
		}()
		if ctx.Err() != nil {
			return
		}
		_, _ = w.Reconcile(ctx, ev.ArtifactID)
	})
}

// Wait blocks until every scheduled reconciliation has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Reconcile checks whether artifactID is still the stored artifact of a request that needs
// it and, if so, posts a replacement and swaps the stored id. The swap only applies while
// the stored id still equals artifactID, so repeated notifications cannot recreate twice.
func (w *Worker) Reconcile(ctx context.Context, artifactID string) (Outcome, error) {
	outcome, err := w.reconcile(ctx, artifactID)
	observability.ReconcileEvents.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		w.log.Error(ctx, err, string(outcome), slog.String("artifact_id", artifactID))
	}
	return outcome, err
}

func (w *Worker) reconcile(ctx context.Context, artifactID string) (Outcome, error) {
	req, err := w.store.FindByArtifactID(ctx, artifactID)
	if err != nil {
		return OutcomeFailed, err
	}
	if req == nil {
		return OutcomeUnknown, nil
	}

	kind := models.ArtifactReview
	if id := req.PublicArtifactID; id != nil && *id == artifactID {
		kind = models.ArtifactPublic
	}

	if needed, ok := req.NeededArtifact(); !ok || needed != kind {
		// The reference outlived its purpose; forget it so later events skip this row.
		if _, err := w.store.SwapArtifact(ctx, req.ID, kind, &artifactID, nil); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeNotNeeded, nil
	}

	if !w.flags.EnabledOr(featureflags.Reconcile, req.Scope, true) {
		return OutcomeDisabled, nil
	}

	newID, err := w.poster.Post(ctx, kind, req)
	if err != nil {
		if models.HasCode(err, models.CodeConfiguration) {
			return OutcomeUnconfigured, nil
		}
		return OutcomeFailed, err
	}

	swapped, err := w.store.SwapArtifact(ctx, req.ID, kind, &artifactID, &newID)
	if err != nil {
		_ = w.poster.Discard(ctx, kind, req, newID)
		return OutcomeFailed, err
	}
	if !swapped {
		_ = w.poster.Discard(ctx, kind, req, newID)
		return OutcomeSuperseded, nil
	}

	slog.InfoContext(ctx, "recreated deleted artifact",
		slog.String("request_id", req.ID),
		slog.String("kind", string(kind)),
		slog.String("deleted_id", artifactID),
		slog.String("new_id", newID))
	return OutcomeRecreated, nil
}
