package models

import (
	"time"

	"gorm.io/gorm"
)

// MaxRetryCount caps how many times a failure record is retried before it is left exhausted.
const MaxRetryCount = 3

// FailureRecord tracks external artifact removals that did not succeed.
type FailureRecord struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ArtifactChannel   string     `gorm:"size:128;not null;index:idx_failure_key;uniqueIndex:idx_failure_open,where:resolved = false AND retry_count = 0" json:"artifact_channel"`
	LogType           string     `gorm:"size:64;not null;index:idx_failure_key;uniqueIndex:idx_failure_open,where:resolved = false AND retry_count = 0" json:"log_type"`
	FailedArtifactIDs []string   `gorm:"serializer:json;type:text" json:"failed_artifact_ids"`
	FailureReason     string     `gorm:"size:255" json:"failure_reason"`
	RetryCount        int        `gorm:"not null;default:0" json:"retry_count"`
	Resolved          bool       `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (FailureRecord) TableName() string {
	return "failure_records"
}

// Exhausted reports whether the record hit the retry cap without resolving.
func (f *FailureRecord) Exhausted() bool {
	return !f.Resolved && f.RetryCount >= MaxRetryCount
}

// BeforeSave keeps the id list non-nil so the JSON column never stores null.
func (f *FailureRecord) BeforeSave(_ *gorm.DB) error {
	if f.FailedArtifactIDs == nil {
		f.FailedArtifactIDs = []string{}
	}
	return nil
}
