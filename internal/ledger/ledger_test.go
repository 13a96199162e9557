package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lfgkeeper/internal/models"
	"lfgkeeper/internal/repository"
	"lfgkeeper/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type removerStub struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (r *removerStub) Remove(_ context.Context, kind models.ArtifactKind, destination, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, string(kind)+":"+destination+":"+id)
	if r.fail[id] {
		return errors.New("still failing")
	}
	return nil
}

func (r *removerStub) heal(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fail, id)
}

func gormStore(t *testing.T) repository.FailureRepository {
	return repository.NewFailureRepository(testutil.SQLiteDB(t))
}

func stores(t *testing.T) map[string]repository.FailureRepository {
	return map[string]repository.FailureRepository{
		"memory": NewMemoryStore(),
		"gorm":   gormStore(t),
	}
}

func TestLedger_RetryResolvesWhenListEmpties(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			remover := &removerStub{fail: map[string]bool{"b": true}}
			l := New(store, remover)
			ctx := context.Background()

			require.NoError(t, l.Record(ctx, "mod-queue", []string{"a", "b"}, "review", "timeout"))

			n, err := l.RetryPending(ctx, 10)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			stats, err := l.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), stats.PendingRetries)

			remover.heal("b")
			n, err = l.RetryPending(ctx, 10)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			stats, err = l.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, repository.FailureStats{ResolvedCount: 1}, stats)
			assert.Equal(t, []string{"review:mod-queue:a", "review:mod-queue:b", "review:mod-queue:b"}, remover.calls)

			// Nothing left to retry.
			n, err = l.RetryPending(ctx, 10)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestLedger_StopsAfterThreeFailedRetries(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			remover := &removerStub{fail: map[string]bool{"x": true}}
			l := New(store, remover)
			ctx := context.Background()

			require.NoError(t, l.Record(ctx, "lfg", []string{"x"}, "public", "rejected"))

			for i := 0; i < 5; i++ {
				_, err := l.RetryPending(ctx, 10)
				require.NoError(t, err)
			}
			assert.Len(t, remover.calls, models.MaxRetryCount)

			report, err := l.Report(ctx, 10)
			require.NoError(t, err)
			assert.Equal(t, int64(1), report.Exhausted)
			assert.Zero(t, report.PendingRetries)
			require.Len(t, report.ExhaustedRecords, 1)
			assert.False(t, report.ExhaustedRecords[0].Resolved)
			assert.Equal(t, []string{"x"}, report.ExhaustedRecords[0].FailedArtifactIDs)

			// Operators can hand it back to the sweep.
			_, err = l.Requeue(ctx, report.ExhaustedRecords[0].ID)
			require.NoError(t, err)
			remover.heal("x")
			n, err := l.RetryPending(ctx, 10)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestLedger_LateFailureGetsFullRetryBudget(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			remover := &removerStub{fail: map[string]bool{"x": true, "y": true}}
			l := New(store, remover)
			ctx := context.Background()

			require.NoError(t, l.Record(ctx, "lfg", []string{"x"}, "public", "rejected"))
			for i := 0; i < models.MaxRetryCount-1; i++ {
				_, err := l.RetryPending(ctx, 10)
				require.NoError(t, err)
			}

			// y fails after x has used two of its attempts.
			require.NoError(t, l.Record(ctx, "lfg", []string{"y"}, "public", "rejected"))
			for i := 0; i < 5; i++ {
				_, err := l.RetryPending(ctx, 10)
				require.NoError(t, err)
			}

			attempts := map[string]int{}
			for _, call := range remover.calls {
				attempts[call]++
			}
			assert.Equal(t, models.MaxRetryCount, attempts["public:lfg:x"])
			assert.Equal(t, models.MaxRetryCount, attempts["public:lfg:y"])

			stats, err := l.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), stats.Exhausted)
		})
	}
}

func TestLedger_PurgeResolvedAfterGrace(t *testing.T) {
	store := NewMemoryStore()
	l := New(store, &removerStub{})
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "c", []string{"a"}, "review", "timeout"))
	_, err := l.RetryPending(ctx, 0)
	require.NoError(t, err)

	n, err := l.PurgeResolved(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "still inside the grace window")

	l.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	n, err = l.PurgeResolved(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLedger_RecordMergesIntoOpenRecord(t *testing.T) {
	store := NewMemoryStore()
	l := New(store, nil)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "c", []string{"a"}, "review", "timeout"))
	require.NoError(t, l.Record(ctx, "c", []string{"b", "a"}, "review", "unavailable"))

	open, err := store.ListRetryable(ctx, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, []string{"a", "b"}, open[0].FailedArtifactIDs)
	assert.Equal(t, "unavailable", open[0].FailureReason)
}

func TestLedger_CancelledContextStopsBatch(t *testing.T) {
	store := NewMemoryStore()
	l := New(store, &removerStub{})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Record(ctx, "c1", []string{"a"}, "review", "timeout"))
	require.NoError(t, l.Record(ctx, "c2", []string{"b"}, "review", "timeout"))
	cancel()

	n, err := l.RetryPending(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
