package repository

import (
	"context"
	"testing"

	"lfgkeeper/internal/models"
	"lfgkeeper/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRequestRepository_CompareAndSwapIsTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := observability.Tracer
	observability.Tracer = tp.Tracer("test")
	t.Cleanup(func() {
		observability.Tracer = prev
		_ = tp.Shutdown(context.Background())
	})

	repo := NewRequestRepository(setupTestDB(t))
	ctx := context.Background()
	req := seedRequest(t, repo, func(r *models.Request) { r.Status = models.RequestStatusDeclined })

	_, err := repo.TransitionStatus(ctx, StatusChange{
		ID: req.ID, From: models.RequestStatusPending, To: models.RequestStatusApproved, At: t0,
	})
	require.Error(t, err)
	swapped, err := repo.SwapArtifact(ctx, req.ID, models.ArtifactPublic, nil, strPtr("pub-1"))
	require.NoError(t, err)
	require.True(t, swapped)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range rec.Ended() {
		byName[s.Name()] = s
	}
	require.Contains(t, byName, "repository.TransitionStatus")
	require.Contains(t, byName, "repository.SwapArtifact")
	assert.Equal(t, codes.Error, byName["repository.TransitionStatus"].Status().Code, "conflict recorded")
	assert.Equal(t, codes.Unset, byName["repository.SwapArtifact"].Status().Code)
}
