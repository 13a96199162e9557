// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"time"

	"lfgkeeper/internal/models"
	"lfgkeeper/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// StatusChange describes one compare-and-set status update.
type StatusChange struct {
	ID          string
	From        models.RequestStatus
	To          models.RequestStatus
	At          time.Time
	ReviewerID  *string
	Reason      string
	ClearReview bool
	ClearPublic bool
	ArchivedAt  *time.Time
	DeletedAt   *time.Time

	// With GuardArtifacts set, the update also requires both artifact columns to still
	// hold the values below (nil meaning empty).
	GuardArtifacts   bool
	ReviewArtifactID *string
	PublicArtifactID *string
}

// RequestFilter narrows List results. Zero values mean "any".
type RequestFilter struct {
	Scope   string
	ActorID string
	Status  models.RequestStatus
	Limit   int
	Offset  int
}

// Cursor is a keyset position in (created_at, id) order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Page selects one batch of cleanup candidates. A zero Limit returns every match.
type Page struct {
	Scope string
	Limit int
	After *Cursor
}

// Next returns the page following batch.
func (p Page) Next(batch []models.Request) Page {
	if len(batch) == 0 {
		return p
	}
	last := batch[len(batch)-1]
	p.After = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	return p
}

// RequestRepository defines the interface for request data operations
type RequestRepository interface {
	Create(ctx context.Context, req *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	TransitionStatus(ctx context.Context, change StatusChange) (*models.Request, error)
	SwapArtifact(ctx context.Context, id string, kind models.ArtifactKind, expected, next *string) (bool, error)
	SwapArtifactInStatus(ctx context.Context, id string, status models.RequestStatus, kind models.ArtifactKind, expected, next *string) (bool, error)
	FindByArtifactID(ctx context.Context, artifactID string) (*models.Request, error)
	CountActive(ctx context.Context, actorID, scope string, category models.Category, exclude []string) (int64, error)
	ListExpired(ctx context.Context, now time.Time, page Page) ([]models.Request, error)
	ListArchivable(ctx context.Context, cutoff time.Time, page Page) ([]models.Request, error)
	ListPurgeable(ctx context.Context, cutoff time.Time, page Page) ([]models.Request, error)
	HardDelete(ctx context.Context, id string, status models.RequestStatus) (bool, error)
	List(ctx context.Context, filter RequestFilter) ([]models.Request, int64, error)
}

// PurgeableStatuses are the statuses the hard-delete phase may remove once aged.
var PurgeableStatuses = []models.RequestStatus{
	models.RequestStatusDeclined,
	models.RequestStatusArchived,
	models.RequestStatusExpired,
	models.RequestStatusCancelled,
	models.RequestStatusDeleted,
}

type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func artifactColumn(kind models.ArtifactKind) string {
	if kind == models.ArtifactPublic {
		return "public_artifact_id"
	}
	return "review_artifact_id"
}

func (r *requestRepository) Create(ctx context.Context, req *models.Request) error {
	defer observability.TrackQuery("create", "requests")()
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return models.NewPersistenceError(err)
	}
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	var req models.Request
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Request", id)
		}
		return nil, models.NewPersistenceError(err)
	}
	return &req, nil
}

// TransitionStatus applies change only if the stored status still equals change.From.
func (r *requestRepository) TransitionStatus(ctx context.Context, change StatusChange) (out *models.Request, err error) {
	defer observability.TrackQuery("transition", "requests")()
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, r.db.Dialector.Name(), "TransitionStatus", "requests")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(
		attribute.String("request.id", change.ID),
		attribute.String("request.from", string(change.From)),
		attribute.String("request.to", string(change.To)),
	)

	updates := map[string]interface{}{
		"status":     change.To,
		"updated_at": change.At,
	}
	if change.ReviewerID != nil {
		updates["reviewer_id"] = *change.ReviewerID
	}
	if change.Reason != "" {
		updates["review_reason"] = change.Reason
	}
	if change.ClearReview {
		updates["review_artifact_id"] = nil
	}
	if change.ClearPublic {
		updates["public_artifact_id"] = nil
	}
	if change.ArchivedAt != nil {
		updates["archived_at"] = *change.ArchivedAt
	}
	if change.DeletedAt != nil {
		updates["deleted_at"] = *change.DeletedAt
	}

	q := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("id = ? AND status = ?", change.ID, change.From)
	if change.GuardArtifacts {
		q = whereArtifact(q, models.ArtifactReview, change.ReviewArtifactID)
		q = whereArtifact(q, models.ArtifactPublic, change.PublicArtifactID)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, models.NewPersistenceError(res.Error)
	}
	if res.RowsAffected == 0 {
		// The row is gone, another writer moved it first, or only its artifacts changed.
		current, err := r.GetByID(ctx, change.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == change.From {
			return nil, models.NewConflictError(models.ReasonArtifactChanged)
		}
		return nil, models.NewConflictError(models.ReasonAlreadyReviewed)
	}

	return r.GetByID(ctx, change.ID)
}

func whereArtifact(q *gorm.DB, kind models.ArtifactKind, expected *string) *gorm.DB {
	col := artifactColumn(kind)
	if expected == nil {
		return q.Where(col + " IS NULL")
	}
	return q.Where(col+" = ?", *expected)
}

// SwapArtifact replaces the stored artifact id for kind only while it still equals expected
// (nil meaning "no artifact stored"). It reports whether the row was updated.
func (r *requestRepository) SwapArtifact(ctx context.Context, id string, kind models.ArtifactKind, expected, next *string) (bool, error) {
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, r.db.Dialector.Name(), "SwapArtifact", "requests")
	q := r.db.WithContext(ctx).Model(&models.Request{}).Where("id = ?", id)
	swapped, err := swapArtifact(q, kind, expected, next)
	span.SetAttributes(attribute.String("artifact.kind", string(kind)), attribute.Bool("artifact.swapped", swapped))
	observability.EndSpan(span, err)
	return swapped, err
}

// SwapArtifactInStatus is SwapArtifact that also requires the request to still be in status.
func (r *requestRepository) SwapArtifactInStatus(ctx context.Context, id string, status models.RequestStatus, kind models.ArtifactKind, expected, next *string) (bool, error) {
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, r.db.Dialector.Name(), "SwapArtifactInStatus", "requests")
	q := r.db.WithContext(ctx).Model(&models.Request{}).Where("id = ? AND status = ?", id, status)
	swapped, err := swapArtifact(q, kind, expected, next)
	span.SetAttributes(attribute.String("artifact.kind", string(kind)), attribute.Bool("artifact.swapped", swapped))
	observability.EndSpan(span, err)
	return swapped, err
}

func swapArtifact(q *gorm.DB, kind models.ArtifactKind, expected, next *string) (bool, error) {
	defer observability.TrackQuery("swap_artifact", "requests")()

	var value interface{}
	if next != nil {
		value = *next
	}
	res := whereArtifact(q, kind, expected).
		Updates(map[string]interface{}{artifactColumn(kind): value, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, models.NewPersistenceError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FindByArtifactID returns the request referencing artifactID, or nil when none does.
func (r *requestRepository) FindByArtifactID(ctx context.Context, artifactID string) (*models.Request, error) {
	var req models.Request
	err := r.db.WithContext(ctx).
		Where("review_artifact_id = ? OR public_artifact_id = ?", artifactID, artifactID).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewPersistenceError(err)
	}
	return &req, nil
}

// CountActive counts pending and approved requests for the admission key, skipping ids in exclude.
func (r *requestRepository) CountActive(ctx context.Context, actorID, scope string, category models.Category, exclude []string) (int64, error) {
	defer observability.TrackQuery("count_active", "requests")()

	var count int64
	q := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("actor_id = ? AND scope = ? AND category = ? AND status IN ?",
			actorID, scope, category, models.ActiveStatuses)
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, models.NewPersistenceError(err)
	}
	return count, nil
}

func (r *requestRepository) scoped(ctx context.Context, page Page) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Request{})
	if page.Scope != "" {
		q = q.Where("scope = ?", page.Scope)
	}
	if page.After != nil {
		q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", page.After.CreatedAt, page.After.CreatedAt, page.After.ID)
	}
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	return q.Order("created_at ASC").Order("id ASC")
}

// ListExpired returns pending requests whose ExpiresAt is before now.
func (r *requestRepository) ListExpired(ctx context.Context, now time.Time, page Page) ([]models.Request, error) {
	var out []models.Request
	err := r.scoped(ctx, page).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.RequestStatusPending, now).
		Find(&out).Error
	if err != nil {
		return nil, models.NewPersistenceError(err)
	}
	return out, nil
}

// ListArchivable returns approved requests created before cutoff.
func (r *requestRepository) ListArchivable(ctx context.Context, cutoff time.Time, page Page) ([]models.Request, error) {
	var out []models.Request
	err := r.scoped(ctx, page).
		Where("status = ? AND created_at < ?", models.RequestStatusApproved, cutoff).
		Find(&out).Error
	if err != nil {
		return nil, models.NewPersistenceError(err)
	}
	return out, nil
}

// ListPurgeable returns terminal-ish requests created before cutoff.
func (r *requestRepository) ListPurgeable(ctx context.Context, cutoff time.Time, page Page) ([]models.Request, error) {
	var out []models.Request
	err := r.scoped(ctx, page).
		Where("status IN ? AND created_at < ?", PurgeableStatuses, cutoff).
		Find(&out).Error
	if err != nil {
		return nil, models.NewPersistenceError(err)
	}
	return out, nil
}

// HardDelete removes the row only if its status is still status.
func (r *requestRepository) HardDelete(ctx context.Context, id string, status models.RequestStatus) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND status = ?", id, status).Delete(&models.Request{})
	if res.Error != nil {
		return false, models.NewPersistenceError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]models.Request, int64, error) {
	defer observability.TrackQuery("list", "requests")()

	q := r.db.WithContext(ctx).Model(&models.Request{})
	if filter.Scope != "" {
		q = q.Where("scope = ?", filter.Scope)
	}
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewPersistenceError(err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []models.Request
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&out).Error; err != nil {
		return nil, 0, models.NewPersistenceError(err)
	}
	return out, total, nil
}
