package bootstrap

import (
	"context"
	"testing"
	"time"

	"lfgkeeper/internal/admission"
	"lfgkeeper/internal/config"
	"lfgkeeper/internal/gateway"
	"lfgkeeper/internal/lifecycle"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/notifications"
	"lfgkeeper/internal/service"
	"lfgkeeper/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                   "0",
		JWTSecret:              "bootstrap-test-secret-0123456789abcdef",
		Env:                    "test",
		ExternalTimeoutSeconds: 5,
		AdmissionLimit:         2,
		ReservationTTLSeconds:  60,
		PendingLifetimeHours:   72,
		ArchiveDays:            14,
		DeleteDays:             30,
		CleanupCron:            "0 */15 * * * *",
		RetryCron:              "30 */5 * * * *",
		ReservationSweepCron:   "",
		LedgerPurgeCron:        "0 0 4 * * *",
		LedgerGraceHours:       168,
		RetryBatchSize:         50,
		ReconcileDebounceMS:    10,
		FeatureFlags:           "reconcile=on",
	}
}

func TestBuildWithoutRedisUsesInProcessStores(t *testing.T) {
	transport := gateway.NewMemoryTransport()
	rt := Build(testConfig(), testutil.SQLiteDB(t), nil, testutil.Catalog(t), transport)

	_, isBus := rt.Events.(*notifications.Bus)
	assert.True(t, isBus)
	assert.Equal(t, time.Minute, rt.Admission.TTL())

	ctx := context.Background()
	req, err := rt.Service.CreateRequest(ctx, service.CreateRequestInput{
		ActorID:  "actor-1",
		Scope:    testutil.Scope,
		Category: models.CategorySeekingMembers,
		Domain:   testutil.Domain,
		Payload:  map[string]string{"rank": "silver"},
	})
	require.NoError(t, err)
	require.NotNil(t, req.ReviewArtifactID)
	assert.Equal(t, 1, transport.Len())

	approved, err := rt.Service.Transition(ctx, req.ID, lifecycle.ActionApprove, "mod-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, approved.Status)
}

func TestBuildWithRedisUsesDurableStores(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rt := Build(testConfig(), testutil.SQLiteDB(t), rdb, testutil.Catalog(t), gateway.NewMemoryTransport())

	_, isNotifier := rt.Events.(*notifications.Notifier)
	assert.True(t, isNotifier)

	res, err := rt.Admission.Reserve(context.Background(), admission.Slot{
		ActorID:  "actor-1",
		Scope:    testutil.Scope,
		Category: models.CategorySeekingMembers,
		Holder:   "holder-1",
	}, 2)
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
	require.NoError(t, rt.Admission.Release(context.Background(), res))
}

func TestSchedulerRegistersConfiguredJobs(t *testing.T) {
	rt := Build(testConfig(), testutil.SQLiteDB(t), nil, testutil.Catalog(t), gateway.NewMemoryTransport())

	s, err := rt.Scheduler()
	require.NoError(t, err)
	assert.Equal(t, []string{"cleanup", "ledger_retry", "ledger_purge"}, s.Jobs())
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	cfg := testConfig()
	cfg.RetryCron = "every five minutes"
	rt := Build(cfg, testutil.SQLiteDB(t), nil, testutil.Catalog(t), gateway.NewMemoryTransport())

	_, err := rt.Scheduler()
	assert.ErrorContains(t, err, "ledger_retry")
}

func TestNewTransportFollowsGatewayURL(t *testing.T) {
	cfg := testConfig()
	_, isMemory := newTransport(cfg).(*gateway.MemoryTransport)
	assert.True(t, isMemory)

	cfg.GatewayURL = "http://gateway.local"
	_, isBreaker := newTransport(cfg).(*gateway.Breaker)
	assert.True(t, isBreaker)
}
