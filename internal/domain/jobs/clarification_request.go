package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RequestStatusPending  = "pending"
	RequestStatusResolved = "resolved"
)

// ClarificationRequest is one actionable question raised against a job by
// the ambiguity gate. JobID is a reference, not ownership: a job never
// deletes its requests, and several requests may point at the same job.
// A request moves pending -> resolved exactly once.
type ClarificationRequest struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	JobID   uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`

	// Kind is a developer-defined tag identifying the question shape,
	// e.g. "low_confidence_field" or "unlinked_item".
	Kind string `gorm:"column:kind;not null;index" json:"kind"`

	Status string `gorm:"column:status;not null;index" json:"status"`

	// Context holds everything a presentation layer needs to pose the
	// question and apply the answer.
	Context datatypes.JSON `gorm:"column:context;type:jsonb" json:"context"`

	// Resolution records the human's answer as submitted; nil while pending.
	Resolution datatypes.JSON `gorm:"column:resolution;type:jsonb" json:"resolution,omitempty"`

	// ResolvedAt is nil while pending.
	ResolvedAt *time.Time `gorm:"column:resolved_at" json:"resolved_at,omitempty"`

	// CreatedAt orders pending requests oldest-first.
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (ClarificationRequest) TableName() string { return "clarification_request" }
