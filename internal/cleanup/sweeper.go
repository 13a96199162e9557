// Package cleanup advances requests by age and drives the periodic maintenance jobs.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"lfgkeeper/internal/featureflags"
	"lfgkeeper/internal/lifecycle"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/observability"
	"lfgkeeper/internal/repository"
)

// Phase is one independently selectable cleanup step.
type Phase string

const (
	PhaseExpire     Phase = "expire"
	PhaseArchive    Phase = "archive"
	PhaseHardDelete Phase = "hard_delete"
)

// AllPhases in the order they run.
var AllPhases = []Phase{PhaseExpire, PhaseArchive, PhaseHardDelete}

// ParsePhase accepts the canonical names plus "hardDelete".
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "expire":
		return PhaseExpire, nil
	case "archive":
		return PhaseArchive, nil
	case "hard_delete", "hardDelete", "hard-delete":
		return PhaseHardDelete, nil
	}
	return "", models.NewValidationError(fmt.Sprintf("unknown cleanup phase %q", s))
}

const defaultBatch = 100

// Store is the slice of the request repository cleanup reads and deletes through.
type Store interface {
	ListExpired(ctx context.Context, now time.Time, page repository.Page) ([]models.Request, error)
	ListArchivable(ctx context.Context, cutoff time.Time, page repository.Page) ([]models.Request, error)
	ListPurgeable(ctx context.Context, cutoff time.Time, page repository.Page) ([]models.Request, error)
	HardDelete(ctx context.Context, id string, status models.RequestStatus) (bool, error)
}

// Discarder removes artifacts best-effort, recording failures for retry.
type Discarder interface {
	Discard(ctx context.Context, kind models.ArtifactKind, req *models.Request, artifactID string) error
}

// LedgerStatus reports the failure ledger so exhausted records show up in results.
type LedgerStatus interface {
	Status(ctx context.Context) (repository.FailureStats, error)
}

// Policy holds the age thresholds.
type Policy struct {
	ArchiveAfter time.Duration
	DeleteAfter  time.Duration
	BatchSize    int
}

// Options selects what a run does. No phases means all of them.
type Options struct {
	Phases []Phase `json:"phases"`
	Scope  string  `json:"scope,omitempty"`
	DryRun bool    `json:"dry_run"`
}

// Result is the structured outcome of one run.
type Result struct {
	Counts           map[Phase]int `json:"counts"`
	Errors           []string      `json:"errors"`
	DurationMS       int64         `json:"duration_ms"`
	ItemsProcessed   int           `json:"items_processed"`
	ExternalCalls    int           `json:"external_calls"`
	ExhaustedRecords int64         `json:"exhausted_records"`
	DryRun           bool          `json:"dry_run"`
}

func (r *Result) fail(phase Phase, id string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s %s: %v", phase, id, err))
	observability.JobErrors.WithLabelValues("cleanup", string(phase)).Inc()
}

// Sweeper runs the cleanup phases.
type Sweeper struct {
	store     Store
	machine   *lifecycle.Machine
	artifacts Discarder
	ledger    LedgerStatus
	flags     *featureflags.Manager
	policy    Policy
	now       func() time.Time
	log       *observability.JobLogger
}

// NewSweeper creates a sweeper. ledger and flags may be nil.
func NewSweeper(store Store, machine *lifecycle.Machine, artifacts Discarder, ledger LedgerStatus, flags *featureflags.Manager, policy Policy) *Sweeper {
	if policy.BatchSize <= 0 {
		policy.BatchSize = defaultBatch
	}
	return &Sweeper{
		store:     store,
		machine:   machine,
		artifacts: artifacts,
		ledger:    ledger,
		flags:     flags,
		policy:    policy,
		now:       time.Now,
		log:       observability.NewJobLogger("cleanup"),
	}
}

// RunCleanup runs the selected phases in order. Per-item failures are collected in the
// result; only an invalid phase aborts the run.
func (s *Sweeper) RunCleanup(ctx context.Context, opts Options) (*Result, error) {
	phases := opts.Phases
	if len(phases) == 0 {
		phases = AllPhases
	}
	for _, p := range phases {
		if !slices.Contains(AllPhases, p) {
			return nil, models.NewValidationError(fmt.Sprintf("unknown cleanup phase %q", p))
		}
	}

	start := time.Now()
	done := s.log.Start(ctx, slog.Any("phases", phases), slog.String("scope", opts.Scope), slog.Bool("dry_run", opts.DryRun))
	res := &Result{Counts: make(map[Phase]int, len(phases)), Errors: []string{}, DryRun: opts.DryRun}

	now := s.now().UTC()
	for _, phase := range AllPhases {
		if !slices.Contains(phases, phase) || ctx.Err() != nil {
			continue
		}
		var n int
		switch phase {
		case PhaseExpire:
			n = s.runPhase(ctx, res, phase, opts, func(page repository.Page) ([]models.Request, error) {
				return s.store.ListExpired(ctx, now, page)
			}, s.expire)
		case PhaseArchive:
			cutoff := now.Add(-s.policy.ArchiveAfter)
			n = s.runPhase(ctx, res, phase, opts, func(page repository.Page) ([]models.Request, error) {
				return s.store.ListArchivable(ctx, cutoff, page)
			}, s.archive)
		case PhaseHardDelete:
			cutoff := now.Add(-s.policy.DeleteAfter)
			n = s.runPhase(ctx, res, phase, opts, func(page repository.Page) ([]models.Request, error) {
				return s.store.ListPurgeable(ctx, cutoff, page)
			}, s.hardDelete)
		}
		res.Counts[phase] = n
		if !opts.DryRun {
			observability.CleanupItems.WithLabelValues(string(phase)).Add(float64(n))
		}
	}

	if s.ledger != nil {
		if stats, err := s.ledger.Status(ctx); err != nil {
			res.Errors = append(res.Errors, "ledger status: "+err.Error())
		} else {
			res.ExhaustedRecords = stats.Exhausted
		}
	}

	res.DurationMS = time.Since(start).Milliseconds()
	done(slog.Any("counts", res.Counts), slog.Int("errors", len(res.Errors)), slog.Int("external_calls", res.ExternalCalls))
	return res, ctx.Err()
}

type applyFunc func(ctx context.Context, res *Result, req *models.Request) (bool, error)

// runPhase walks candidates in (created_at, id) order. The cursor always advances, so rows
// that are skipped or fail never hide later candidates. A dry run walks the same pages and
// counts instead of applying.
func (s *Sweeper) runPhase(
	ctx context.Context,
	res *Result,
	phase Phase,
	opts Options,
	list func(page repository.Page) ([]models.Request, error),
	apply applyFunc,
) int {
	changed := 0
	page := repository.Page{Scope: opts.Scope, Limit: s.policy.BatchSize}
	for ctx.Err() == nil {
		batch, err := list(page)
		if err != nil {
			res.fail(phase, "list", err)
			break
		}
		for i := range batch {
			req := &batch[i]
			res.ItemsProcessed++
			if opts.DryRun {
				if s.eligible(phase, req) {
					changed++
				}
				continue
			}

			ok, err := apply(ctx, res, req)
			if err != nil {
				res.fail(phase, req.ID, err)
				continue
			}
			if ok {
				changed++
			}
		}
		if len(batch) < page.Limit {
			break
		}
		page = page.Next(batch)
	}
	return changed
}

func (s *Sweeper) eligible(phase Phase, req *models.Request) bool {
	return phase != PhaseHardDelete || s.hardDeleteEnabled(req.Scope)
}

// discard removes every artifact id the snapshot held and counts the calls.
func (s *Sweeper) discard(ctx context.Context, res *Result, req *models.Request) {
	for _, kind := range []models.ArtifactKind{models.ArtifactReview, models.ArtifactPublic} {
		id := req.ArtifactID(kind)
		if id == nil {
			continue
		}
		res.ExternalCalls++
		if err := s.artifacts.Discard(ctx, kind, req, *id); err != nil {
			slog.DebugContext(ctx, "cleanup artifact removal deferred to ledger",
				slog.String("request_id", req.ID),
				slog.String("artifact_id", *id))
		}
	}
}

// close moves req to status and removes its artifacts. Losing the CAS to another writer
// is not an error: the request is no longer a candidate.
func (s *Sweeper) close(ctx context.Context, res *Result, req *models.Request, to models.RequestStatus) (bool, error) {
	_, err := s.machine.ApplyTransition(ctx, req.ID, req.Status, to, lifecycle.Options{
		ClearReview: true,
		ClearPublic: true,
		Seen:        req,
	})
	if err != nil {
		if models.HasCode(err, models.CodeConflict) || models.HasCode(err, models.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	s.discard(ctx, res, req)
	return true, nil
}

func (s *Sweeper) expire(ctx context.Context, res *Result, req *models.Request) (bool, error) {
	return s.close(ctx, res, req, models.RequestStatusExpired)
}

func (s *Sweeper) archive(ctx context.Context, res *Result, req *models.Request) (bool, error) {
	return s.close(ctx, res, req, models.RequestStatusArchived)
}

func (s *Sweeper) hardDeleteEnabled(scope string) bool {
	return s.flags.EnabledOr(featureflags.HardDelete, scope, true)
}

func (s *Sweeper) hardDelete(ctx context.Context, res *Result, req *models.Request) (bool, error) {
	if !s.eligible(PhaseHardDelete, req) {
		return false, nil
	}
	deleted, err := s.store.HardDelete(ctx, req.ID, req.Status)
	if err != nil || !deleted {
		return false, err
	}
	s.discard(ctx, res, req)
	return true, nil
}
