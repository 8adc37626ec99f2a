package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusPending      = "pending"
	StatusInProgress   = "in_progress"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
	StatusWaitingHuman = "waiting_human"
)

const phaseStatusPrefix = "completed_phase:"

// PhaseStatus is the checkpoint status recorded after a named phase commits.
func PhaseStatus(phaseName string) string {
	return phaseStatusPrefix + phaseName
}

// PhaseFromStatus returns the phase name embedded in a checkpoint status,
// or "" when the status is not a phase checkpoint.
func PhaseFromStatus(status string) string {
	if !strings.HasPrefix(status, phaseStatusPrefix) {
		return ""
	}
	return strings.TrimPrefix(status, phaseStatusPrefix)
}

// IsTerminal reports whether a status ends an engine run for good.
// Failed jobs may still be re-dispatched by an external caller.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Job is one durable unit of automated-plus-human work. The engine is the
// only writer of Status/Context/Output/Error; CorrectedOutput is written
// only through the resolution and correction paths.
type Job struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`

	Status string `gorm:"column:status;not null;index" json:"status"`

	// Input is set at creation and never mutated afterwards.
	Input datatypes.JSON `gorm:"column:input;type:jsonb" json:"input"`

	// Context carries intermediate results between phases. It is the sole
	// inter-phase data channel and is committed atomically with Status.
	Context datatypes.JSON `gorm:"column:context;type:jsonb" json:"context,omitempty"`

	// Output is the most recent automated result.
	Output datatypes.JSON `gorm:"column:output;type:jsonb" json:"output,omitempty"`

	// CorrectedOutput is nil until a human has corrected this job.
	CorrectedOutput datatypes.JSON `gorm:"column:corrected_output;type:jsonb" json:"corrected_output,omitempty"`

	// Error is empty unless Status == failed.
	Error string `gorm:"column:error" json:"error,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (Job) TableName() string { return "job" }
