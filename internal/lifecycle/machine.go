// Package lifecycle owns the request status state machine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lfgkeeper/internal/models"
	"lfgkeeper/internal/observability"
	"lfgkeeper/internal/repository"
)

// Action is a moderator or owner command that maps to a target status.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDecline Action = "decline"
	ActionCancel  Action = "cancel"
	ActionDelete  Action = "delete"
	ActionArchive Action = "archive"
)

var edges = map[models.RequestStatus][]models.RequestStatus{
	models.RequestStatusPending: {
		models.RequestStatusApproved,
		models.RequestStatusDeclined,
		models.RequestStatusCancelled,
		models.RequestStatusExpired,
	},
	models.RequestStatusApproved: {
		models.RequestStatusArchived,
		models.RequestStatusCancelled,
		models.RequestStatusDeleted,
	},
	models.RequestStatusDeclined:  {models.RequestStatusDeleted},
	models.RequestStatusArchived:  {models.RequestStatusDeleted},
	models.RequestStatusExpired:   {models.RequestStatusDeleted},
	models.RequestStatusCancelled: {models.RequestStatusDeleted},
}

var actionTargets = map[Action]models.RequestStatus{
	ActionApprove: models.RequestStatusApproved,
	ActionDecline: models.RequestStatusDeclined,
	ActionCancel:  models.RequestStatusCancelled,
	ActionDelete:  models.RequestStatusDeleted,
	ActionArchive: models.RequestStatusArchived,
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to models.RequestStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TargetFor resolves an action name to its target status.
func TargetFor(action Action) (models.RequestStatus, error) {
	target, ok := actionTargets[action]
	if !ok {
		return "", models.NewValidationError(fmt.Sprintf("unknown action %q", action))
	}
	return target, nil
}

// Terminal reports whether no edge leaves status.
func Terminal(status models.RequestStatus) bool {
	return len(edges[status]) == 0
}

// Store is the persistence the machine needs.
type Store interface {
	TransitionStatus(ctx context.Context, change repository.StatusChange) (*models.Request, error)
}

// Machine applies transitions with compare-and-set semantics.
type Machine struct {
	store Store
	now   func() time.Time
}

// NewMachine creates a state machine over store.
func NewMachine(store Store) *Machine {
	return &Machine{store: store, now: time.Now}
}

// WithClock overrides the time source used for transition timestamps.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Options carries the optional side fields of a transition.
type Options struct {
	ReviewerID  *string
	Reason      string
	ClearReview bool
	ClearPublic bool

	// Seen, when set, is the request as the caller read it. The update then also requires
	// its artifact ids to be unchanged, so ids the caller is about to remove are the ids
	// that were actually cleared.
	Seen *models.Request
}

// ApplyTransition moves request id from expectedFrom to to, failing with a conflict
// when the edge is illegal or another writer changed the status first.
func (m *Machine) ApplyTransition(ctx context.Context, id string, expectedFrom, to models.RequestStatus, opts Options) (*models.Request, error) {
	if !CanTransition(expectedFrom, to) {
		observability.TransitionsTotal.WithLabelValues(string(to), "illegal").Inc()
		return nil, models.NewConflictError(models.ReasonIllegalTransition)
	}

	now := m.now().UTC()
	change := repository.StatusChange{
		ID:          id,
		From:        expectedFrom,
		To:          to,
		At:          now,
		ReviewerID:  opts.ReviewerID,
		Reason:      opts.Reason,
		ClearReview: opts.ClearReview,
		ClearPublic: opts.ClearPublic,
	}
	if opts.Seen != nil {
		change.GuardArtifacts = true
		change.ReviewArtifactID = opts.Seen.ReviewArtifactID
		change.PublicArtifactID = opts.Seen.PublicArtifactID
	}
	switch to {
	case models.RequestStatusArchived:
		change.ArchivedAt = &now
	case models.RequestStatusDeleted:
		change.DeletedAt = &now
	}

	req, err := m.store.TransitionStatus(ctx, change)
	if err != nil {
		outcome := "error"
		if models.HasCode(err, models.CodeConflict) {
			outcome = "lost_race"
		}
		if IsArtifactChanged(err) {
			outcome = "artifact_changed"
		}
		observability.TransitionsTotal.WithLabelValues(string(to), outcome).Inc()
		return nil, err
	}
	observability.TransitionsTotal.WithLabelValues(string(to), "ok").Inc()
	return req, nil
}

// IsArtifactChanged reports a guarded transition that failed only because an artifact id
// moved underneath it. Re-reading and retrying is safe.
func IsArtifactChanged(err error) bool {
	var appErr *models.AppError
	return errors.As(err, &appErr) && appErr.Code == models.CodeConflict && appErr.Message == models.ReasonArtifactChanged
}
