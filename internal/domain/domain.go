package domain

import (
	"github.com/crucibleworks/crucible-backend/internal/domain/jobs"
)

const (
	JobStatusPending      = jobs.StatusPending
	JobStatusInProgress   = jobs.StatusInProgress
	JobStatusCompleted    = jobs.StatusCompleted
	JobStatusFailed       = jobs.StatusFailed
	JobStatusWaitingHuman = jobs.StatusWaitingHuman

	RequestStatusPending  = jobs.RequestStatusPending
	RequestStatusResolved = jobs.RequestStatusResolved

	CorrectionStatusPendingReview = jobs.CorrectionStatusPendingReview
	CorrectionStatusApproved      = jobs.CorrectionStatusApproved
	CorrectionStatusRejected      = jobs.CorrectionStatusRejected
)

type (
	Job                  = jobs.Job
	ClarificationRequest = jobs.ClarificationRequest
	CorrectionRecord     = jobs.CorrectionRecord
)

var (
	PhaseStatus     = jobs.PhaseStatus
	PhaseFromStatus = jobs.PhaseFromStatus
	IsTerminal      = jobs.IsTerminal
)
