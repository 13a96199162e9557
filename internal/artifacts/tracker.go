// Package artifacts posts and removes the chat messages that represent a request.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lfgkeeper/internal/gateway"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/observability"

	"go.opentelemetry.io/otel/codes"
)

// DefaultTimeout bounds a single external call.
const DefaultTimeout = 5 * time.Second

// Failure reason tags stored on ledger records.
const (
	ReasonTimeout     = "timeout"
	ReasonUnavailable = "unavailable"
	ReasonRejected    = "rejected"
)

// Catalog resolves destinations and field schemas.
type Catalog interface {
	ResolveTarget(scope, domain string, kind models.ArtifactKind) (string, bool)
	Schema(category models.Category, domain string) (*models.DomainSchema, bool)
}

// Recorder receives removals that failed so they can be retried later.
type Recorder interface {
	Record(ctx context.Context, target string, artifactIDs []string, logType, reason string) error
}

// Tracker wraps the chat transport with destination resolution, timeouts and failure recording.
type Tracker struct {
	transport gateway.Transport
	catalog   Catalog
	recorder  Recorder
	render    Renderer
	timeout   time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewTracker creates a tracker. recorder may be nil, in which case failed removals are only logged.
func NewTracker(transport gateway.Transport, catalog Catalog, recorder Recorder, opts ...Option) *Tracker {
	t := &Tracker{
		transport: transport,
		catalog:   catalog,
		recorder:  recorder,
		render:    PlainRenderer{},
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Destination resolves where kind artifacts for req are posted.
func (t *Tracker) Destination(req *models.Request, kind models.ArtifactKind) (string, error) {
	dest, ok := t.catalog.ResolveTarget(req.Scope, req.Domain, kind)
	if !ok {
		return "", models.NewConfigurationError(
			fmt.Sprintf("no %s destination configured for scope %s domain %s", kind, req.Scope, req.Domain))
	}
	return dest, nil
}

// Post publishes the kind artifact for req and returns its id. A ConfigurationError means
// the step was skipped; any other error is an external failure.
func (t *Tracker) Post(ctx context.Context, kind models.ArtifactKind, req *models.Request) (string, error) {
	dest, err := t.Destination(req, kind)
	if err != nil {
		observability.ArtifactOperations.WithLabelValues("post", string(kind), "unconfigured").Inc()
		slog.WarnContext(ctx, "artifact destination not configured, skipping post",
			slog.String("request_id", req.ID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return "", err
	}

	var schema *models.DomainSchema
	if s, ok := t.catalog.Schema(req.Category, req.Domain); ok {
		schema = s
	}
	content := t.render.Render(kind, req, schema)

	ctx, span := observability.GetTraceLayer().TraceExternalCall(ctx, "post", dest)
	defer span.End()
	defer observability.TrackArtifactCall("post")()

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	id, err := t.transport.Post(callCtx, dest, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ArtifactOperations.WithLabelValues("post", string(kind), reasonFor(err)).Inc()
		slog.ErrorContext(ctx, "artifact post failed",
			slog.String("request_id", req.ID),
			slog.String("kind", string(kind)),
			slog.String("destination", dest),
			slog.String("error", err.Error()))
		return "", models.NewExternalError("post "+string(kind)+" artifact", err)
	}

	observability.ArtifactOperations.WithLabelValues("post", string(kind), "ok").Inc()
	return id, nil
}

// Remove deletes one artifact from destination.
func (t *Tracker) Remove(ctx context.Context, kind models.ArtifactKind, destination, artifactID string) error {
	ctx, span := observability.GetTraceLayer().TraceExternalCall(ctx, "remove", destination)
	defer span.End()
	defer observability.TrackArtifactCall("remove")()

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.transport.Remove(callCtx, destination, artifactID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ArtifactOperations.WithLabelValues("remove", string(kind), reasonFor(err)).Inc()
		return models.NewExternalError("remove "+string(kind)+" artifact", err)
	}
	observability.ArtifactOperations.WithLabelValues("remove", string(kind), "ok").Inc()
	return nil
}

// Discard removes artifactID best-effort. A failed removal is written to the ledger and
// returned so callers can report it; it never changes request state.
func (t *Tracker) Discard(ctx context.Context, kind models.ArtifactKind, req *models.Request, artifactID string) error {
	if artifactID == "" {
		return nil
	}
	dest, err := t.Destination(req, kind)
	if err != nil {
		slog.WarnContext(ctx, "artifact destination not configured, cannot remove",
			slog.String("request_id", req.ID),
			slog.String("artifact_id", artifactID),
			slog.String("error", err.Error()))
		return err
	}

	removeErr := t.Remove(ctx, kind, dest, artifactID)
	if removeErr == nil {
		return nil
	}

	slog.WarnContext(ctx, "artifact removal failed, recording for retry",
		slog.String("request_id", req.ID),
		slog.String("artifact_id", artifactID),
		slog.String("destination", dest),
		slog.String("error", removeErr.Error()))
	if t.recorder != nil {
		if err := t.recorder.Record(ctx, dest, []string{artifactID}, string(kind), reasonFor(removeErr)); err != nil {
			slog.ErrorContext(ctx, "failed to record artifact removal failure",
				slog.String("artifact_id", artifactID),
				slog.String("error", err.Error()))
		}
	}
	return removeErr
}

// reasonFor maps a transport error to a ledger reason tag.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, gateway.ErrUnavailable):
		return ReasonUnavailable
	default:
		return ReasonRejected
	}
}
