package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestStatus defines lifecycle states for looking-for-group requests.
type RequestStatus string

const (
	// RequestStatusPending indicates the request is awaiting moderator review.
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusApproved indicates the request is publicly listed.
	RequestStatusApproved RequestStatus = "approved"
	// RequestStatusDeclined indicates a moderator rejected the request.
	RequestStatusDeclined RequestStatus = "declined"
	// RequestStatusArchived indicates an approved request aged out.
	RequestStatusArchived RequestStatus = "archived"
	// RequestStatusExpired indicates a pending request was never reviewed in time.
	RequestStatusExpired RequestStatus = "expired"
	// RequestStatusCancelled indicates the owner withdrew the request.
	RequestStatusCancelled RequestStatus = "cancelled"
	// RequestStatusDeleted indicates a moderator soft-deleted the request.
	RequestStatusDeleted RequestStatus = "deleted"
)

// AllRequestStatuses lists every status a stored request may carry.
var AllRequestStatuses = []RequestStatus{
	RequestStatusPending,
	RequestStatusApproved,
	RequestStatusDeclined,
	RequestStatusArchived,
	RequestStatusExpired,
	RequestStatusCancelled,
	RequestStatusDeleted,
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	for _, known := range AllRequestStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ActiveStatuses count against the admission limit.
var ActiveStatuses = []RequestStatus{RequestStatusPending, RequestStatusApproved}

// Category distinguishes the two kinds of group-finding posts.
type Category string

const (
	CategorySeekingMembers   Category = "seeking-members"
	CategorySeekingPlacement Category = "seeking-placement"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategorySeekingMembers || c == CategorySeekingPlacement
}

// ArtifactKind selects which external message a request is represented by.
type ArtifactKind string

const (
	ArtifactReview ArtifactKind = "review"
	ArtifactPublic ArtifactKind = "public"
)

// Request is a looking-for-group post tracked across the store and the chat surface.
type Request struct {
	ID               string            `gorm:"primaryKey;size:36" json:"id"`
	ActorID          string            `gorm:"size:64;not null;index:idx_requests_owner" json:"actor_id"`
	Scope            string            `gorm:"size:64;not null;index:idx_requests_owner;index:idx_requests_scope_status" json:"scope"`
	Category         Category          `gorm:"type:varchar(32);not null;index:idx_requests_owner" json:"category"`
	Domain           string            `gorm:"size:64;not null" json:"domain"`
	Payload          map[string]string `gorm:"serializer:json;type:text" json:"payload"`
	Status           RequestStatus     `gorm:"type:varchar(20);not null;default:'pending';index:idx_requests_scope_status" json:"status"`
	ReviewerID       *string           `gorm:"size:64" json:"reviewer_id,omitempty"`
	ReviewReason     string            `gorm:"type:text" json:"review_reason,omitempty"`
	ReviewArtifactID *string           `gorm:"size:64;index" json:"review_artifact_id,omitempty"`
	PublicArtifactID *string           `gorm:"size:64;index" json:"public_artifact_id,omitempty"`
	CreatedAt        time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	ArchivedAt       *time.Time        `json:"archived_at,omitempty"`
	DeletedAt        *time.Time        `json:"deleted_at,omitempty"`
}

// TableName specifies the table name for GORM.
func (Request) TableName() string {
	return "requests"
}

// BeforeCreate assigns a UUID when the caller did not.
func (r *Request) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// ArtifactID returns the stored id for kind, or nil.
func (r *Request) ArtifactID(kind ArtifactKind) *string {
	if kind == ArtifactPublic {
		return r.PublicArtifactID
	}
	return r.ReviewArtifactID
}

// NeededArtifact reports which artifact the current status requires, if any.
func (r *Request) NeededArtifact() (ArtifactKind, bool) {
	switch r.Status {
	case RequestStatusPending:
		return ArtifactReview, true
	case RequestStatusApproved:
		return ArtifactPublic, true
	default:
		return "", false
	}
}
