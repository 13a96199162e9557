package reconcile

import (
	"context"
	"testing"
	"time"

	"lfgkeeper/internal/artifacts"
	"lfgkeeper/internal/featureflags"
	"lfgkeeper/internal/gateway"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/notifications"
	"lfgkeeper/internal/repository"
	"lfgkeeper/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo      repository.RequestRepository
	transport *gateway.MemoryTransport
	tracker   *artifacts.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	transport := gateway.NewMemoryTransport()
	return &fixture{
		repo:      repository.NewRequestRepository(testutil.SQLiteDB(t)),
		transport: transport,
		tracker:   artifacts.NewTracker(transport, testutil.Catalog(t), nil),
	}
}

// seed stores a request in status with a live artifact of kind and returns it.
func (f *fixture) seed(t *testing.T, status models.RequestStatus, kind models.ArtifactKind) *models.Request {
	t.Helper()
	ctx := context.Background()
	req := &models.Request{
		ActorID:  "actor-1",
		Scope:    testutil.Scope,
		Category: models.CategorySeekingMembers,
		Domain:   testutil.Domain,
		Payload:  map[string]string{"rank": "gold"},
		Status:   status,
	}
	require.NoError(t, f.repo.Create(ctx, req))

	id, err := f.tracker.Post(ctx, kind, req)
	require.NoError(t, err)
	ok, err := f.repo.SwapArtifact(ctx, req.ID, kind, nil, &id)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := f.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	return stored
}

func TestWorker_RecreatesDeletedPublicArtifactOnce(t *testing.T) {
	f := newFixture(t)
	req := f.seed(t, models.RequestStatusApproved, models.ArtifactPublic)
	oldID := *req.PublicArtifactID

	bus := notifications.NewBus()
	w := NewWorker(f.repo, f.tracker, nil, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, bus))

	require.True(t, f.transport.Drop(oldID))
	ev := notifications.DeletionEvent{ArtifactID: oldID}
	require.NoError(t, bus.PublishArtifactDeleted(ctx, ev))
	require.NoError(t, bus.PublishArtifactDeleted(ctx, ev))
	w.Wait()

	stored, err := f.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PublicArtifactID)
	newID := *stored.PublicArtifactID
	assert.NotEqual(t, oldID, newID)
	msg, ok := f.transport.Get(newID)
	require.True(t, ok)
	assert.Equal(t, "lfg-valorant", msg.Destination)

	// The same notification arriving again after the repair changes nothing.
	require.NoError(t, bus.PublishArtifactDeleted(ctx, ev))
	w.Wait()

	stored, err = f.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, newID, *stored.PublicArtifactID)
	assert.Equal(t, 1, f.transport.Len())
	posts, _ := f.transport.Calls()
	assert.Equal(t, int64(2), posts)
}

func TestReconcile_RecreatesReviewArtifactForPending(t *testing.T) {
	f := newFixture(t)
	req := f.seed(t, models.RequestStatusPending, models.ArtifactReview)
	w := NewWorker(f.repo, f.tracker, nil, 0)

	outcome, err := w.Reconcile(context.Background(), *req.ReviewArtifactID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecreated, outcome)

	outcome, err = w.Reconcile(context.Background(), *req.ReviewArtifactID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, outcome)
}

func TestReconcile_StaleReferenceIsCleared(t *testing.T) {
	f := newFixture(t)
	req := f.seed(t, models.RequestStatusApproved, models.ArtifactReview)
	w := NewWorker(f.repo, f.tracker, nil, 0)

	outcome, err := w.Reconcile(context.Background(), *req.ReviewArtifactID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotNeeded, outcome)

	stored, err := f.repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ReviewArtifactID)
	posts, _ := f.transport.Calls()
	assert.Equal(t, int64(1), posts)
}

func TestReconcile_FeatureFlagDisablesScope(t *testing.T) {
	f := newFixture(t)
	req := f.seed(t, models.RequestStatusApproved, models.ArtifactPublic)
	w := NewWorker(f.repo, f.tracker, featureflags.NewManager("reconcile=off"), 0)

	outcome, err := w.Reconcile(context.Background(), *req.PublicArtifactID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisabled, outcome)

	stored, err := f.repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, *req.PublicArtifactID, *stored.PublicArtifactID)
}

// lostSwapStore reports every swap as lost, as if another replica repaired first.
type lostSwapStore struct {
	Store
}

func (lostSwapStore) SwapArtifact(context.Context, string, models.ArtifactKind, *string, *string) (bool, error) {
	return false, nil
}

func TestReconcile_LosingSwapDiscardsNewPost(t *testing.T) {
	f := newFixture(t)
	req := f.seed(t, models.RequestStatusApproved, models.ArtifactPublic)
	require.True(t, f.transport.Drop(*req.PublicArtifactID))

	w := NewWorker(lostSwapStore{Store: f.repo}, f.tracker, nil, 0)
	outcome, err := w.Reconcile(context.Background(), *req.PublicArtifactID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, outcome)
	assert.Zero(t, f.transport.Len())
}

func TestReconcile_TransportFailureLeavesReference(t *testing.T) {
	f := newFixture(t)
	req := f.seed(t, models.RequestStatusApproved, models.ArtifactPublic)
	f.transport.PostErr = func(string) error { return gateway.ErrUnavailable }

	w := NewWorker(f.repo, f.tracker, nil, 0)
	outcome, err := w.Reconcile(context.Background(), *req.PublicArtifactID)
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	stored, err := f.repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, *req.PublicArtifactID, *stored.PublicArtifactID, "a later notification can still retry")
}

func TestWorker_CancelledContextSkipsScheduledRuns(t *testing.T) {
	f := newFixture(t)
	req := f.seed(t, models.RequestStatusApproved, models.ArtifactPublic)
	w := NewWorker(f.repo, f.tracker, nil, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	w.Enqueue(ctx, notifications.DeletionEvent{ArtifactID: *req.PublicArtifactID})
	cancel()
	w.Wait()

	posts, _ := f.transport.Calls()
	assert.Equal(t, int64(1), posts)
}
