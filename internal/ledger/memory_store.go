package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"lfgkeeper/internal/models"
	"lfgkeeper/internal/repository"
)

// MemoryStore is an in-process FailureRepository for degraded mode and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uint]*models.FailureRecord
	nextID  uint
	now     func() time.Time
}

var _ repository.FailureRepository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uint]*models.FailureRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Append(_ context.Context, channel, logType string, ids []string, reason string) (*models.FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec := s.open(channel, logType); rec != nil {
		rec.FailedArtifactIDs = repository.MergeIDs(rec.FailedArtifactIDs, ids)
		if reason != "" {
			rec.FailureReason = reason
		}
		rec.UpdatedAt = now
		out := *rec
		return &out, nil
	}

	s.nextID++
	rec := &models.FailureRecord{
		ID:                s.nextID,
		ArtifactChannel:   channel,
		LogType:           logType,
		FailedArtifactIDs: repository.MergeIDs(nil, ids),
		FailureReason:     reason,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.records[rec.ID] = rec
	out := *rec
	return &out, nil
}

func (s *MemoryStore) ListRetryable(_ context.Context, limit int) ([]models.FailureRecord, error) {
	return s.filter(limit, func(r *models.FailureRecord) bool {
		return !r.Resolved && r.RetryCount < models.MaxRetryCount
	}), nil
}

func (s *MemoryStore) ListExhausted(_ context.Context, limit int) ([]models.FailureRecord, error) {
	return s.filter(limit, (*models.FailureRecord).Exhausted), nil
}

func (s *MemoryStore) Save(_ context.Context, rec *models.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == 0 {
		s.nextID++
		rec.ID = s.nextID
	}
	rec.UpdatedAt = s.now()
	cp := *rec
	cp.FailedArtifactIDs = append([]string{}, rec.FailedArtifactIDs...)
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) ApplyRetry(_ context.Context, id uint, removed []string, at time.Time) (*models.FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, models.NewNotFoundError("FailureRecord", id)
	}
	repository.ApplyAttempt(rec, removed, at)
	rec.UpdatedAt = s.now()
	out := *rec
	return &out, nil
}

func (s *MemoryStore) Requeue(_ context.Context, id uint) (*models.FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Resolved {
		return nil, models.NewNotFoundError("FailureRecord", id)
	}
	if open := s.open(rec.ArtifactChannel, rec.LogType); open != nil && open.ID != rec.ID {
		open.FailedArtifactIDs = repository.MergeIDs(open.FailedArtifactIDs, rec.FailedArtifactIDs)
		open.UpdatedAt = s.now()
		delete(s.records, rec.ID)
		rec = open
	}
	rec.RetryCount = 0
	rec.UpdatedAt = s.now()
	out := *rec
	return &out, nil
}

// open returns the record for the key that has not been retried yet. Callers hold mu.
func (s *MemoryStore) open(channel, logType string) *models.FailureRecord {
	for _, id := range s.sortedIDs() {
		rec := s.records[id]
		if rec.ArtifactChannel == channel && rec.LogType == logType && !rec.Resolved && rec.RetryCount == 0 {
			return rec
		}
	}
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (repository.FailureStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats repository.FailureStats
	for _, r := range s.records {
		switch {
		case r.Resolved:
			stats.ResolvedCount++
		case r.RetryCount >= models.MaxRetryCount:
			stats.Exhausted++
		default:
			stats.PendingRetries++
		}
	}
	return stats, nil
}

func (s *MemoryStore) PurgeResolved(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if r.Resolved && r.ResolvedAt != nil && r.ResolvedAt.Before(before) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) filter(limit int, keep func(*models.FailureRecord) bool) []models.FailureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FailureRecord, 0)
	for _, id := range s.sortedIDs() {
		r := s.records[id]
		if !keep(r) {
			continue
		}
		cp := *r
		cp.FailedArtifactIDs = append([]string{}, r.FailedArtifactIDs...)
		out = append(out, cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *MemoryStore) sortedIDs() []uint {
	ids := make([]uint, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
