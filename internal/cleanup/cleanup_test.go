package cleanup

import (
	"context"
	"testing"
	"time"

	"lfgkeeper/internal/artifacts"
	"lfgkeeper/internal/featureflags"
	"lfgkeeper/internal/gateway"
	"lfgkeeper/internal/ledger"
	"lfgkeeper/internal/lifecycle"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/repository"
	"lfgkeeper/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

const (
	archiveDays = 14
	deleteDays  = 30
	day         = 24 * time.Hour
)

type fixture struct {
	repo      repository.RequestRepository
	transport *gateway.MemoryTransport
	tracker   *artifacts.Tracker
	ledger    *ledger.Ledger
	sweeper   *Sweeper
}

func newFixture(t *testing.T, flags *featureflags.Manager) *fixture {
	t.Helper()
	repo := repository.NewRequestRepository(testutil.SQLiteDB(t))
	transport := gateway.NewMemoryTransport()
	led := ledger.New(ledger.NewMemoryStore(), nil)
	tracker := artifacts.NewTracker(transport, testutil.Catalog(t), led)
	led.SetRemover(tracker)

	machine := lifecycle.NewMachine(repo).WithClock(func() time.Time { return now })
	sw := NewSweeper(repo, machine, tracker, led, flags, Policy{
		ArchiveAfter: archiveDays * day,
		DeleteAfter:  deleteDays * day,
		BatchSize:    2,
	})
	sw.now = func() time.Time { return now }
	return &fixture{repo: repo, transport: transport, tracker: tracker, ledger: led, sweeper: sw}
}

// seed stores a request and, when kind is set, posts its artifact first.
func (f *fixture) seed(t *testing.T, status models.RequestStatus, created time.Time, kind models.ArtifactKind, mutate func(*models.Request)) *models.Request {
	t.Helper()
	req := &models.Request{
		ActorID:   "actor-1",
		Scope:     testutil.Scope,
		Category:  models.CategorySeekingMembers,
		Domain:    testutil.Domain,
		Payload:   map[string]string{"rank": "gold"},
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
	if mutate != nil {
		mutate(req)
	}
	if kind != "" {
		id, err := f.tracker.Post(context.Background(), kind, req)
		require.NoError(t, err)
		if kind == models.ArtifactPublic {
			req.PublicArtifactID = &id
		} else {
			req.ReviewArtifactID = &id
		}
	}
	require.NoError(t, f.repo.Create(context.Background(), req))
	return req
}

func (f *fixture) run(t *testing.T, opts Options) *Result {
	t.Helper()
	res, err := f.sweeper.RunCleanup(context.Background(), opts)
	require.NoError(t, err)
	return res
}

func TestRunCleanup_ExpireStalePending(t *testing.T) {
	f := newFixture(t, nil)
	stale := f.seed(t, models.RequestStatusPending, now.Add(-2*time.Hour), models.ArtifactReview, func(r *models.Request) {
		exp := now.Add(-time.Second)
		r.ExpiresAt = &exp
	})
	fresh := f.seed(t, models.RequestStatusPending, now, "", func(r *models.Request) {
		exp := now.Add(time.Hour)
		r.ExpiresAt = &exp
	})

	res := f.run(t, Options{Phases: []Phase{PhaseExpire}})
	assert.Equal(t, 1, res.Counts[PhaseExpire])
	assert.Equal(t, 1, res.ExternalCalls)
	assert.Empty(t, res.Errors)

	got, err := f.repo.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusExpired, got.Status)
	assert.Nil(t, got.ReviewArtifactID)
	_, posted := f.transport.Get(*stale.ReviewArtifactID)
	assert.False(t, posted, "review artifact removal attempted")
	_, removes := f.transport.Calls()
	assert.Equal(t, int64(1), removes)

	untouched, err := f.repo.GetByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, untouched.Status)
}

func TestRunCleanup_ArchiveOldApproved(t *testing.T) {
	f := newFixture(t, nil)
	old := f.seed(t, models.RequestStatusApproved, now.Add(-(archiveDays+1)*day), models.ArtifactPublic, nil)
	recent := f.seed(t, models.RequestStatusApproved, now.Add(-day), models.ArtifactPublic, nil)

	res := f.run(t, Options{Phases: []Phase{PhaseArchive}})
	assert.Equal(t, 1, res.Counts[PhaseArchive])

	got, err := f.repo.GetByID(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusArchived, got.Status)
	require.NotNil(t, got.ArchivedAt)
	assert.True(t, got.ArchivedAt.Equal(now))
	assert.Nil(t, got.PublicArtifactID)

	kept, err := f.repo.GetByID(context.Background(), recent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, kept.Status)
	assert.Equal(t, 1, f.transport.Len())
}

func TestRunCleanup_HardDeleteAged(t *testing.T) {
	f := newFixture(t, nil)
	aged := now.Add(-(deleteDays + 1) * day)
	archived := f.seed(t, models.RequestStatusArchived, aged, "", nil)
	softDeleted := f.seed(t, models.RequestStatusDeleted, aged, "", nil)
	young := f.seed(t, models.RequestStatusDeclined, now.Add(-day), "", nil)
	active := f.seed(t, models.RequestStatusApproved, aged, "", nil)

	res := f.run(t, Options{Phases: []Phase{PhaseHardDelete}})
	assert.Equal(t, 2, res.Counts[PhaseHardDelete])

	for _, id := range []string{archived.ID, softDeleted.ID} {
		_, err := f.repo.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, models.ErrNotFound)
	}
	for _, id := range []string{young.ID, active.ID} {
		_, err := f.repo.GetByID(context.Background(), id)
		assert.NoError(t, err)
	}
}

func TestRunCleanup_SecondRunIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	for range 5 {
		f.seed(t, models.RequestStatusPending, now.Add(-time.Hour), models.ArtifactReview, func(r *models.Request) {
			exp := now.Add(-time.Minute)
			r.ExpiresAt = &exp
		})
	}
	f.seed(t, models.RequestStatusApproved, now.Add(-(archiveDays+1)*day), models.ArtifactPublic, nil)
	f.seed(t, models.RequestStatusCancelled, now.Add(-(deleteDays+1)*day), "", nil)

	first := f.run(t, Options{})
	assert.Equal(t, 5, first.Counts[PhaseExpire], "batches continue past the batch size")
	assert.Equal(t, 1, first.Counts[PhaseArchive])
	assert.Equal(t, 1, first.Counts[PhaseHardDelete])

	_, removesBefore := f.transport.Calls()
	second := f.run(t, Options{})
	for _, phase := range AllPhases {
		assert.Zero(t, second.Counts[phase], phase)
	}
	assert.Zero(t, second.ExternalCalls)
	_, removesAfter := f.transport.Calls()
	assert.Equal(t, removesBefore, removesAfter)
}

func TestRunCleanup_DryRunNeverMutates(t *testing.T) {
	f := newFixture(t, nil)
	pending := f.seed(t, models.RequestStatusPending, now.Add(-time.Hour), models.ArtifactReview, func(r *models.Request) {
		exp := now.Add(-time.Minute)
		r.ExpiresAt = &exp
	})
	approved := f.seed(t, models.RequestStatusApproved, now.Add(-(archiveDays+1)*day), models.ArtifactPublic, nil)
	expired := f.seed(t, models.RequestStatusExpired, now.Add(-(deleteDays+1)*day), "", nil)

	res := f.run(t, Options{DryRun: true})
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Counts[PhaseExpire])
	assert.Equal(t, 1, res.Counts[PhaseArchive])
	assert.Equal(t, 1, res.Counts[PhaseHardDelete])
	assert.Zero(t, res.ExternalCalls)

	for _, want := range []*models.Request{pending, approved, expired} {
		got, err := f.repo.GetByID(context.Background(), want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.Status, got.Status)
	}
	_, removes := f.transport.Calls()
	assert.Zero(t, removes)
}

func TestRunCleanup_ScopeFilter(t *testing.T) {
	f := newFixture(t, nil)
	aged := now.Add(-(deleteDays + 1) * day)
	mine := f.seed(t, models.RequestStatusDeclined, aged, "", nil)
	other := f.seed(t, models.RequestStatusDeclined, aged, "", func(r *models.Request) { r.Scope = "guild-2" })

	res := f.run(t, Options{Phases: []Phase{PhaseHardDelete}, Scope: "guild-2"})
	assert.Equal(t, 1, res.Counts[PhaseHardDelete])

	_, err := f.repo.GetByID(context.Background(), mine.ID)
	assert.NoError(t, err)
	_, err = f.repo.GetByID(context.Background(), other.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRunCleanup_HardDeleteFlag(t *testing.T) {
	f := newFixture(t, featureflags.NewManager("hard_delete=off"))
	req := f.seed(t, models.RequestStatusArchived, now.Add(-(deleteDays+1)*day), "", nil)

	res := f.run(t, Options{Phases: []Phase{PhaseHardDelete}})
	assert.Zero(t, res.Counts[PhaseHardDelete])
	_, err := f.repo.GetByID(context.Background(), req.ID)
	assert.NoError(t, err)
}

func TestRunCleanup_HardDeletePartialRolloutReachesEnabledScopes(t *testing.T) {
	// With hard_delete=50%, guild-1 falls inside the rollout and guild-2 outside.
	flags := featureflags.NewManager("hard_delete=50%")
	require.True(t, flags.Enabled(featureflags.HardDelete, "guild-1"))
	require.False(t, flags.Enabled(featureflags.HardDelete, "guild-2"))

	f := newFixture(t, flags)
	aged := now.Add(-(deleteDays + 5) * day)
	var skipped []*models.Request
	for i := 0; i < 3; i++ {
		skipped = append(skipped, f.seed(t, models.RequestStatusArchived, aged.Add(time.Duration(i)*time.Minute), "", func(r *models.Request) {
			r.Scope = "guild-2"
		}))
	}
	target := f.seed(t, models.RequestStatusArchived, now.Add(-(deleteDays+1)*day), "", func(r *models.Request) {
		r.Scope = "guild-1"
	})

	dry := f.run(t, Options{Phases: []Phase{PhaseHardDelete}, DryRun: true})
	assert.Equal(t, 1, dry.Counts[PhaseHardDelete])

	res := f.run(t, Options{Phases: []Phase{PhaseHardDelete}})
	assert.Equal(t, dry.Counts[PhaseHardDelete], res.Counts[PhaseHardDelete])
	assert.Equal(t, 4, res.ItemsProcessed)
	assert.Empty(t, res.Errors)

	_, err := f.repo.GetByID(context.Background(), target.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	for _, r := range skipped {
		_, err := f.repo.GetByID(context.Background(), r.ID)
		assert.NoError(t, err, "disabled scope keeps %s", r.ID)
	}
}

func TestRunCleanup_RemovalFailureIsLedgered(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, models.RequestStatusApproved, now.Add(-(archiveDays+1)*day), models.ArtifactPublic, nil)
	f.transport.RemoveErr = func(string, string) error { return gateway.ErrUnavailable }

	res := f.run(t, Options{Phases: []Phase{PhaseArchive}})
	assert.Equal(t, 1, res.Counts[PhaseArchive], "the transition stands without the removal")
	assert.Empty(t, res.Errors)

	stats, err := f.ledger.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingRetries)

	// Three failed retries exhaust the record; the next run surfaces it.
	for range models.MaxRetryCount {
		_, err := f.ledger.RetryPending(context.Background(), 10)
		require.NoError(t, err)
	}
	res = f.run(t, Options{Phases: []Phase{PhaseArchive}})
	assert.Equal(t, int64(1), res.ExhaustedRecords)
}

func TestRunCleanup_RejectsUnknownPhase(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.sweeper.RunCleanup(context.Background(), Options{Phases: []Phase{"compact"}})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestParsePhase(t *testing.T) {
	for in, want := range map[string]Phase{
		"expire":      PhaseExpire,
		"archive":     PhaseArchive,
		"hardDelete":  PhaseHardDelete,
		"hard_delete": PhaseHardDelete,
	} {
		got, err := ParsePhase(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParsePhase("vacuum")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestScheduler_Add(t *testing.T) {
	s := NewScheduler()
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("cleanup", "*/5 * * * * *", noop))
	require.NoError(t, s.Add("disabled", "", noop))
	assert.Error(t, s.Add("broken", "every tuesday", noop))
	assert.Equal(t, []string{"cleanup"}, s.Jobs())
}

func TestScheduler_RunsJobsUntilCancelled(t *testing.T) {
	s := NewScheduler()
	ran := make(chan struct{}, 10)
	require.NoError(t, s.Add("tick", "* * * * * *", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- s.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
	cancel()
	require.NoError(t, <-stopped)
}
