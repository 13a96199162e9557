package service

import (
	"context"
	"log/slog"
	"time"

	"lfgkeeper/internal/admission"
	"lfgkeeper/internal/lifecycle"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/observability"
	"lfgkeeper/internal/repository"
	"lfgkeeper/internal/validation"

	"github.com/google/uuid"
)

// maxArtifactRetries bounds re-reads when reconciliation swaps an artifact under a transition.
const maxArtifactRetries = 3

// ArtifactTracker posts and best-effort removes request artifacts.
type ArtifactTracker interface {
	Post(ctx context.Context, kind models.ArtifactKind, req *models.Request) (string, error)
	Discard(ctx context.Context, kind models.ArtifactKind, req *models.Request, artifactID string) error
}

// SchemaSource looks up the field schema for a category and domain.
type SchemaSource interface {
	Schema(category models.Category, domain string) (*models.DomainSchema, bool)
}

type RequestServiceOptions struct {
	Limit           int
	PendingLifetime time.Duration
}

type RequestService struct {
	repo      repository.RequestRepository
	machine   *lifecycle.Machine
	admission *admission.Controller
	artifacts ArtifactTracker
	schemas   SchemaSource
	opts      RequestServiceOptions
	now       func() time.Time
}

type CreateRequestInput struct {
	ActorID  string
	Scope    string
	Category models.Category
	Domain   string
	Payload  map[string]string
}

type ListRequestsInput struct {
	Scope   string
	ActorID string
	Status  models.RequestStatus
	Limit   int
	Offset  int
}

func NewRequestService(
	repo repository.RequestRepository,
	machine *lifecycle.Machine,
	controller *admission.Controller,
	artifacts ArtifactTracker,
	schemas SchemaSource,
	opts RequestServiceOptions,
) *RequestService {
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	return &RequestService{
		repo:      repo,
		machine:   machine,
		admission: controller,
		artifacts: artifacts,
		schemas:   schemas,
		opts:      opts,
		now:       time.Now,
	}
}

func (s *RequestService) validateCreate(in CreateRequestInput) error {
	if err := validation.ValidateIdentifier("actor", in.ActorID); err != nil {
		return err
	}
	if err := validation.ValidateIdentifier("scope", in.Scope); err != nil {
		return err
	}
	if err := validation.ValidateCategory(in.Category); err != nil {
		return err
	}
	if err := validation.ValidateDomain(in.Domain); err != nil {
		return err
	}
	schema, _ := s.schemas.Schema(in.Category, in.Domain)
	return validation.ValidatePayload(schema, in.Payload)
}

// CreateRequest admits, stores and announces a new pending request. A failed review post
// does not fail the call; the request is returned without a review artifact.
func (s *RequestService) CreateRequest(ctx context.Context, in CreateRequestInput) (*models.Request, error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "request", "create")
	defer span.End()

	if err := s.validateCreate(in); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	res, err := s.admission.Reserve(ctx, admission.Slot{
		Holder:   id,
		ActorID:  in.ActorID,
		Scope:    in.Scope,
		Category: in.Category,
	}, s.opts.Limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		// The row, once committed, counts on its own.
		if err := s.admission.Release(context.WithoutCancel(ctx), res); err != nil {
			slog.WarnContext(ctx, "failed to release admission reservation",
				slog.String("request_id", id),
				slog.String("error", err.Error()))
		}
	}()

	now := s.now().UTC()
	req := &models.Request{
		ID:        id,
		ActorID:   in.ActorID,
		Scope:     in.Scope,
		Category:  in.Category,
		Domain:    in.Domain,
		Payload:   in.Payload,
		Status:    models.RequestStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.opts.PendingLifetime > 0 {
		expires := now.Add(s.opts.PendingLifetime)
		req.ExpiresAt = &expires
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	s.attach(ctx, req, models.ArtifactReview)

	slog.InfoContext(ctx, "request created",
		slog.String("request_id", req.ID),
		slog.String("scope", req.Scope),
		slog.String("category", string(req.Category)),
		slog.Bool("has_review_artifact", req.ReviewArtifactID != nil))
	return req, nil
}

// attach posts the kind artifact for req and stores its id while req is still in its
// current status with no artifact of that kind. Otherwise the new message is discarded.
func (s *RequestService) attach(ctx context.Context, req *models.Request, kind models.ArtifactKind) {
	artifactID, err := s.artifacts.Post(ctx, kind, req)
	if err != nil {
		if !models.HasCode(err, models.CodeConfiguration) {
			slog.WarnContext(ctx, "artifact post failed, request kept without it",
				slog.String("request_id", req.ID),
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()))
		}
		return
	}

	stored, err := s.repo.SwapArtifactInStatus(ctx, req.ID, req.Status, kind, nil, &artifactID)
	if err != nil || !stored {
		if err != nil {
			slog.ErrorContext(ctx, "failed to store artifact id",
				slog.String("request_id", req.ID),
				slog.String("artifact_id", artifactID),
				slog.String("error", err.Error()))
		}
		_ = s.artifacts.Discard(ctx, kind, req, artifactID)
		return
	}

	if kind == models.ArtifactPublic {
		req.PublicArtifactID = &artifactID
	} else {
		req.ReviewArtifactID = &artifactID
	}
}

// discardCleared removes the artifacts a transition cleared. seen is the snapshot the
// transition was guarded on, so its ids are exactly the ones the store forgot.
func (s *RequestService) discardCleared(ctx context.Context, seen *models.Request, opts lifecycle.Options) {
	if opts.ClearReview && seen.ReviewArtifactID != nil {
		_ = s.artifacts.Discard(ctx, models.ArtifactReview, seen, *seen.ReviewArtifactID)
	}
	if opts.ClearPublic && seen.PublicArtifactID != nil {
		_ = s.artifacts.Discard(ctx, models.ArtifactPublic, seen, *seen.PublicArtifactID)
	}
}

// transition applies a guarded transition, re-reading when only an artifact id moved.
// expectedFrom picks the status the caller must observe; nil means whatever is stored.
func (s *RequestService) transition(
	ctx context.Context,
	id string,
	to models.RequestStatus,
	expectedFrom *models.RequestStatus,
	authorize func(*models.Request) error,
	opts lifecycle.Options,
) (*models.Request, error) {
	for attempt := 0; ; attempt++ {
		seen, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if authorize != nil {
			if err := authorize(seen); err != nil {
				return nil, err
			}
		}

		from := seen.Status
		if expectedFrom != nil {
			from = *expectedFrom
		}
		opts.Seen = seen
		updated, err := s.machine.ApplyTransition(ctx, id, from, to, opts)
		if lifecycle.IsArtifactChanged(err) && attempt < maxArtifactRetries {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.discardCleared(ctx, seen, opts)
		return updated, nil
	}
}

// Transition applies a moderator action. Approve and decline only apply to pending
// requests, so a second reviewer always gets an "already reviewed" conflict.
func (s *RequestService) Transition(ctx context.Context, id string, action lifecycle.Action, actorID, reason string) (*models.Request, error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "request", "transition")
	defer span.End()

	if err := validation.ValidateIdentifier("actor", actorID); err != nil {
		return nil, err
	}
	to, err := lifecycle.TargetFor(action)
	if err != nil {
		return nil, err
	}
	if action == lifecycle.ActionCancel {
		return s.Cancel(ctx, id, actorID)
	}

	var expectedFrom *models.RequestStatus
	if action == lifecycle.ActionApprove || action == lifecycle.ActionDecline {
		pending := models.RequestStatusPending
		expectedFrom = &pending
	}

	reviewer := actorID
	updated, err := s.transition(ctx, id, to, expectedFrom, nil, lifecycle.Options{
		ReviewerID:  &reviewer,
		Reason:      reason,
		ClearReview: true,
		ClearPublic: to != models.RequestStatusApproved,
	})
	if err != nil {
		return nil, err
	}

	if to == models.RequestStatusApproved {
		s.attach(ctx, updated, models.ArtifactPublic)
	}

	slog.InfoContext(ctx, "request transitioned",
		slog.String("request_id", id),
		slog.String("action", string(action)),
		slog.String("status", string(updated.Status)),
		slog.String("actor_id", actorID))
	return updated, nil
}

// Cancel withdraws a pending or approved request. Only the owner may cancel.
func (s *RequestService) Cancel(ctx context.Context, id, actorID string) (*models.Request, error) {
	owner := func(req *models.Request) error {
		if req.ActorID != actorID {
			return models.NewUnauthorizedError("only the owner can cancel a request")
		}
		return nil
	}
	updated, err := s.transition(ctx, id, models.RequestStatusCancelled, nil, owner, lifecycle.Options{
		ClearReview: true,
		ClearPublic: true,
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "request cancelled", slog.String("request_id", id), slog.String("actor_id", actorID))
	return updated, nil
}

// Resend re-posts the artifact the request's status needs and replaces the stored id.
// The replacement is stored before the old message is removed, so a deletion event for
// the old id finds nothing left to repair.
func (s *RequestService) Resend(ctx context.Context, id, actorID string, moderator bool) (*models.Request, error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "request", "resend")
	defer span.End()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !moderator && req.ActorID != actorID {
		return nil, models.NewUnauthorizedError("only the owner or a moderator can resend a request")
	}
	kind, ok := req.NeededArtifact()
	if !ok {
		return nil, models.NewConflictError(models.ReasonNothingToResend)
	}

	newID, err := s.artifacts.Post(ctx, kind, req)
	if err != nil {
		return nil, err
	}
	old := req.ArtifactID(kind)
	swapped, err := s.repo.SwapArtifactInStatus(ctx, id, req.Status, kind, old, &newID)
	if err != nil || !swapped {
		_ = s.artifacts.Discard(ctx, kind, req, newID)
		if err != nil {
			return nil, err
		}
		return nil, models.NewConflictError(models.ReasonArtifactChanged)
	}
	if old != nil {
		_ = s.artifacts.Discard(ctx, kind, req, *old)
	}

	slog.InfoContext(ctx, "request artifact resent",
		slog.String("request_id", id),
		slog.String("kind", string(kind)),
		slog.String("artifact_id", newID))
	return s.repo.GetByID(ctx, id)
}

func (s *RequestService) Get(ctx context.Context, id string) (*models.Request, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *RequestService) List(ctx context.Context, in ListRequestsInput) ([]models.Request, int64, error) {
	if in.Status != "" && !in.Status.Valid() {
		return nil, 0, models.NewValidationError("unknown status filter")
	}
	return s.repo.List(ctx, repository.RequestFilter{
		Scope:   in.Scope,
		ActorID: in.ActorID,
		Status:  in.Status,
		Limit:   in.Limit,
		Offset:  in.Offset,
	})
}
