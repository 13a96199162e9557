// Package ledger records external removals that failed and retries them on a schedule.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"lfgkeeper/internal/models"
	"lfgkeeper/internal/observability"
	"lfgkeeper/internal/repository"
)

// DefaultBatch is used when RetryPending is called without a positive batch size.
const DefaultBatch = 50

// Remover deletes a single artifact. Records store the artifact kind in LogType.
type Remover interface {
	Remove(ctx context.Context, kind models.ArtifactKind, destination, artifactID string) error
}

// Status is the operator view of the ledger.
type Status struct {
	repository.FailureStats
	ExhaustedRecords []models.FailureRecord `json:"exhausted_records,omitempty"`
}

// Ledger is the bounded-retry record of failed removals.
type Ledger struct {
	store   repository.FailureRepository
	remover Remover
	now     func() time.Time
	log     *observability.JobLogger
}

// New creates a ledger. remover may be set later with SetRemover when it depends on the ledger.
func New(store repository.FailureRepository, remover Remover) *Ledger {
	return &Ledger{
		store:   store,
		remover: remover,
		now:     func() time.Time { return time.Now().UTC() },
		log:     observability.NewJobLogger("ledger_retry"),
	}
}

// SetRemover wires the component that performs retries.
func (l *Ledger) SetRemover(r Remover) {
	l.remover = r
}

// Record adds failed artifact ids under (target, logType), merging into the open record.
func (l *Ledger) Record(ctx context.Context, target string, artifactIDs []string, logType, reason string) error {
	rec, err := l.store.Append(ctx, target, logType, artifactIDs, reason)
	if err != nil {
		return err
	}
	observability.LedgerRecords.WithLabelValues(logType).Inc()
	slog.InfoContext(ctx, "recorded failed artifact removal",
		slog.Uint64("record_id", uint64(rec.ID)),
		slog.String("channel", target),
		slog.String("log_type", logType),
		slog.String("reason", reason),
		slog.Int("pending_ids", len(rec.FailedArtifactIDs)))
	return nil
}

// RetryPending retries up to maxBatch open records and returns how many it attempted.
// Records that reach the retry cap are left unresolved and not picked up again.
func (l *Ledger) RetryPending(ctx context.Context, maxBatch int) (int, error) {
	if maxBatch <= 0 {
		maxBatch = DefaultBatch
	}
	done := l.log.Start(ctx, slog.Int("batch", maxBatch))

	records, err := l.store.ListRetryable(ctx, maxBatch)
	if err != nil {
		l.log.Error(ctx, err, "list_retryable")
		return 0, err
	}

	retried, resolved, exhausted := 0, 0, 0
	for i := range records {
		if ctx.Err() != nil {
			break
		}
		rec := &records[i]
		removed := l.attempt(ctx, rec)

		updated, err := l.store.ApplyRetry(ctx, rec.ID, removed, l.now())
		if err != nil {
			l.log.Error(ctx, err, "apply_retry", slog.Uint64("record_id", uint64(rec.ID)))
			continue
		}
		retried++
		switch {
		case updated.Resolved:
			resolved++
		case updated.Exhausted():
			exhausted++
			l.log.Warn(ctx, "failure record exhausted its retries",
				slog.Uint64("record_id", uint64(updated.ID)),
				slog.String("channel", updated.ArtifactChannel),
				slog.Any("artifact_ids", updated.FailedArtifactIDs))
		}
	}

	done(slog.Int("retried", retried), slog.Int("resolved", resolved), slog.Int("exhausted", exhausted))
	return retried, ctx.Err()
}

func (l *Ledger) attempt(ctx context.Context, rec *models.FailureRecord) []string {
	if l.remover == nil {
		return nil
	}
	kind := models.ArtifactKind(rec.LogType)
	removed := make([]string, 0, len(rec.FailedArtifactIDs))
	for _, id := range rec.FailedArtifactIDs {
		if err := l.remover.Remove(ctx, kind, rec.ArtifactChannel, id); err != nil {
			slog.DebugContext(ctx, "retry removal failed",
				slog.String("artifact_id", id),
				slog.String("error", err.Error()))
			continue
		}
		removed = append(removed, id)
	}
	return removed
}

// Status reports ledger counts and refreshes the ledger gauges.
func (l *Ledger) Status(ctx context.Context) (repository.FailureStats, error) {
	stats, err := l.store.Stats(ctx)
	if err != nil {
		return stats, err
	}
	observability.LedgerPending.Set(float64(stats.PendingRetries))
	observability.LedgerExhausted.Set(float64(stats.Exhausted))
	return stats, nil
}

// Report is Status plus up to limit exhausted records for operators.
func (l *Ledger) Report(ctx context.Context, limit int) (*Status, error) {
	stats, err := l.Status(ctx)
	if err != nil {
		return nil, err
	}
	exhausted, err := l.store.ListExhausted(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &Status{FailureStats: stats, ExhaustedRecords: exhausted}, nil
}

// Requeue resets an exhausted record so the next sweep retries it.
func (l *Ledger) Requeue(ctx context.Context, id uint) (*models.FailureRecord, error) {
	rec, err := l.store.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "failure record requeued", slog.Uint64("record_id", uint64(id)))
	return rec, nil
}

// PurgeResolved deletes records resolved more than grace ago.
func (l *Ledger) PurgeResolved(ctx context.Context, grace time.Duration) (int64, error) {
	n, err := l.store.PurgeResolved(ctx, l.now().Add(-grace))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "purged resolved failure records", slog.Int64("count", n))
	}
	return n, nil
}
