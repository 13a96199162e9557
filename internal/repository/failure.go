package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"lfgkeeper/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FailureStats aggregates the ledger by state.
type FailureStats struct {
	PendingRetries int64 `json:"pending_retries"`
	ResolvedCount  int64 `json:"resolved_count"`
	Exhausted      int64 `json:"exhausted"`
}

// FailureRepository persists FailureRecords for the retry ledger.
type FailureRepository interface {
	Append(ctx context.Context, channel, logType string, ids []string, reason string) (*models.FailureRecord, error)
	ListRetryable(ctx context.Context, limit int) ([]models.FailureRecord, error)
	ListExhausted(ctx context.Context, limit int) ([]models.FailureRecord, error)
	Save(ctx context.Context, rec *models.FailureRecord) error
	ApplyRetry(ctx context.Context, id uint, removed []string, at time.Time) (*models.FailureRecord, error)
	Requeue(ctx context.Context, id uint) (*models.FailureRecord, error)
	Stats(ctx context.Context) (FailureStats, error)
	PurgeResolved(ctx context.Context, before time.Time) (int64, error)
}

type failureRepository struct {
	db *gorm.DB
}

// NewFailureRepository creates a gorm-backed failure repository
func NewFailureRepository(db *gorm.DB) FailureRepository {
	return &failureRepository{db: db}
}

// openRecordPredicate matches the partial unique index idx_failure_open: at most one
// record per (channel, log type) is still collecting ids.
const openRecordPredicate = "resolved = false AND retry_count = 0"

// lockOpen loads and row-locks the record still collecting ids for (channel, logType).
func lockOpen(tx *gorm.DB, channel, logType string, rec *models.FailureRecord) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("artifact_channel = ? AND log_type = ?", channel, logType).
		Where(openRecordPredicate).
		Order("id ASC").
		First(rec).Error
}

// Append merges ids into the record for (channel, logType) that has not been retried yet,
// creating one if none exists. Records already retried keep their own budget, so every
// id gets the full number of attempts.
func (r *failureRepository) Append(ctx context.Context, channel, logType string, ids []string, reason string) (*models.FailureRecord, error) {
	var rec models.FailureRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := lockOpen(tx, channel, logType, &rec)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = models.FailureRecord{
				ArtifactChannel:   channel,
				LogType:           logType,
				FailedArtifactIDs: MergeIDs(nil, ids),
				FailureReason:     reason,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:     []clause.Column{{Name: "artifact_channel"}, {Name: "log_type"}},
				TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: openRecordPredicate}}},
				DoNothing:   true,
			}).Create(&rec)
			if res.Error != nil || res.RowsAffected == 1 {
				return res.Error
			}
			// A concurrent writer opened the record first.
			rec = models.FailureRecord{}
			err = lockOpen(tx, channel, logType, &rec)
		}
		if err != nil {
			return err
		}

		rec.FailedArtifactIDs = MergeIDs(rec.FailedArtifactIDs, ids)
		if reason != "" {
			rec.FailureReason = reason
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, models.NewPersistenceError(err)
	}
	return &rec, nil
}

// MergeIDs appends ids not already present, preserving order.
func MergeIDs(existing, ids []string) []string {
	out := append([]string{}, existing...)
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (r *failureRepository) ListRetryable(ctx context.Context, limit int) ([]models.FailureRecord, error) {
	var out []models.FailureRecord
	q := r.db.WithContext(ctx).
		Where("resolved = ? AND retry_count < ?", false, models.MaxRetryCount).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, models.NewPersistenceError(err)
	}
	return out, nil
}

func (r *failureRepository) ListExhausted(ctx context.Context, limit int) ([]models.FailureRecord, error) {
	var out []models.FailureRecord
	q := r.db.WithContext(ctx).
		Where("resolved = ? AND retry_count >= ?", false, models.MaxRetryCount).
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, models.NewPersistenceError(err)
	}
	return out, nil
}

func (r *failureRepository) Save(ctx context.Context, rec *models.FailureRecord) error {
	if err := r.db.WithContext(ctx).Save(rec).Error; err != nil {
		return models.NewPersistenceError(err)
	}
	return nil
}

// ApplyRetry drops the ids that were removed on this attempt from the stored list. The record
// resolves when nothing is left; otherwise its retry count goes up by one.
func (r *failureRepository) ApplyRetry(ctx context.Context, id uint, removed []string, at time.Time) (*models.FailureRecord, error) {
	var rec models.FailureRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, id).Error; err != nil {
			return err
		}
		ApplyAttempt(&rec, removed, at)
		return tx.Save(&rec).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("FailureRecord", id)
	}
	if err != nil {
		return nil, models.NewPersistenceError(err)
	}
	return &rec, nil
}

// ApplyAttempt updates rec in place after one retry that removed the given ids.
func ApplyAttempt(rec *models.FailureRecord, removed []string, at time.Time) {
	remaining := make([]string, 0, len(rec.FailedArtifactIDs))
	for _, id := range rec.FailedArtifactIDs {
		if !slices.Contains(removed, id) {
			remaining = append(remaining, id)
		}
	}
	rec.FailedArtifactIDs = remaining
	if len(remaining) == 0 {
		rec.Resolved = true
		rec.ResolvedAt = &at
		return
	}
	rec.RetryCount++
}

// Requeue gives an unresolved record a fresh retry budget. When another record for the same
// key is already waiting for its first attempt, the ids are folded into that one and the
// requeued record is removed; the surviving record is returned.
func (r *failureRepository) Requeue(ctx context.Context, id uint) (*models.FailureRecord, error) {
	var rec models.FailureRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND resolved = ?", id, false).
			First(&rec).Error
		if err != nil {
			return err
		}
		if rec.RetryCount == 0 {
			return nil
		}

		var open models.FailureRecord
		err = lockOpen(tx, rec.ArtifactChannel, rec.LogType, &open)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec.RetryCount = 0
			return tx.Save(&rec).Error
		}
		if err != nil {
			return err
		}
		open.FailedArtifactIDs = MergeIDs(open.FailedArtifactIDs, rec.FailedArtifactIDs)
		if err := tx.Save(&open).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.FailureRecord{}, rec.ID).Error; err != nil {
			return err
		}
		rec = open
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("FailureRecord", id)
	}
	if err != nil {
		return nil, models.NewPersistenceError(err)
	}
	return &rec, nil
}

func (r *failureRepository) Stats(ctx context.Context) (FailureStats, error) {
	var stats FailureStats
	db := r.db.WithContext(ctx).Model(&models.FailureRecord{})

	if err := db.Session(&gorm.Session{}).
		Where("resolved = ? AND retry_count < ?", false, models.MaxRetryCount).
		Count(&stats.PendingRetries).Error; err != nil {
		return stats, models.NewPersistenceError(err)
	}
	if err := db.Session(&gorm.Session{}).
		Where("resolved = ?", true).
		Count(&stats.ResolvedCount).Error; err != nil {
		return stats, models.NewPersistenceError(err)
	}
	if err := db.Session(&gorm.Session{}).
		Where("resolved = ? AND retry_count >= ?", false, models.MaxRetryCount).
		Count(&stats.Exhausted).Error; err != nil {
		return stats, models.NewPersistenceError(err)
	}
	return stats, nil
}

// PurgeResolved deletes resolved records whose ResolvedAt is before the cutoff.
func (r *failureRepository) PurgeResolved(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("resolved = ? AND resolved_at IS NOT NULL AND resolved_at < ?", true, before).
		Delete(&models.FailureRecord{})
	if res.Error != nil {
		return 0, models.NewPersistenceError(res.Error)
	}
	return res.RowsAffected, nil
}
