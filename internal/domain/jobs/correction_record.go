package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	CorrectionStatusPendingReview = "pending_review"
	CorrectionStatusApproved      = "approved"
	CorrectionStatusRejected      = "rejected"
)

// CorrectionRecord is a self-contained training example: the source input,
// the model's flawed attempt, and the human's ground-truth correction.
// Fields are denormalized from the job so the table is an export-ready
// dataset on its own. One record per job.
type CorrectionRecord struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"job_id"`

	Status string `gorm:"column:status;not null;index" json:"status"`

	SourceInput     datatypes.JSON `gorm:"column:source_input;type:jsonb" json:"source_input"`
	ModelOutput     datatypes.JSON `gorm:"column:model_output;type:jsonb" json:"model_output"`
	HumanCorrection datatypes.JSON `gorm:"column:human_correction;type:jsonb" json:"human_correction"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (CorrectionRecord) TableName() string { return "correction_record" }
