package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobsrepo "github.com/crucibleworks/crucible-backend/internal/data/repos/jobs"
	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/platform/dbctx"
	"github.com/crucibleworks/crucible-backend/internal/platform/logger"
)

// ClarificationService is the resolution path for clarification requests.
// It records the human's answer and applies it to the referenced job's
// corrected output. It never re-invokes the pipeline engine; resuming a
// suspended job is a separate, explicit call.
type ClarificationService interface {
	Resolve(ctx context.Context, requestID uuid.UUID, answer map[string]any) (*types.ClarificationRequest, error)
	// NextPending returns the oldest unanswered request for an owner, or
	// nil when the queue is empty.
	NextPending(ctx context.Context, ownerID uuid.UUID) (*types.ClarificationRequest, error)
	ListPending(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.ClarificationRequest, error)
}

type clarificationService struct {
	db       *gorm.DB
	log      *logger.Logger
	requests jobsrepo.ClarificationRequestRepo
	jobs     jobsrepo.JobRepo
}

func NewClarificationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	requests jobsrepo.ClarificationRequestRepo,
	jobs jobsrepo.JobRepo,
) ClarificationService {
	return &clarificationService{
		db:       db,
		log:      baseLog.With("service", "ClarificationService"),
		requests: requests,
		jobs:     jobs,
	}
}

func (s *clarificationService) Resolve(ctx context.Context, requestID uuid.UUID, answer map[string]any) (*types.ClarificationRequest, error) {
	if requestID == uuid.Nil {
		return nil, jobsrepo.ErrRequestNotFound
	}
	if answer == nil {
		answer = map[string]any{}
	}

	var resolved *types.ClarificationRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)

		req, err := s.requests.GetByID(dbc, requestID)
		if err != nil {
			return err
		}
		if req.Status != types.RequestStatusPending {
			return jobsrepo.ErrAlreadyResolved
		}

		// The resolution is the submitted answer, stored as-is; presentation
		// layers read it back unmodified.
		resolution, err := json.Marshal(answer)
		if err != nil {
			return fmt.Errorf("encode resolution: %w", err)
		}
		if err := s.requests.Resolve(dbc, req.ID, datatypes.JSON(resolution)); err != nil {
			return err
		}

		job, err := s.jobs.GetByID(dbc, req.JobID)
		if err != nil {
			return fmt.Errorf("request %s references job %s: %w", req.ID, req.JobID, err)
		}
		corrected, err := mergeCorrectedOutput(job.CorrectedOutput, answer)
		if err != nil {
			return err
		}
		if err := s.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
			"corrected_output": corrected,
		}); err != nil {
			return err
		}

		// Reload so the returned row carries the persisted resolved_at.
		updated, err := s.requests.GetByID(dbc, req.ID)
		if err != nil {
			return err
		}
		resolved = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Clarification resolved", "request_id", requestID.String(), "job_id", resolved.JobID.String())
	return resolved, nil
}

// mergeCorrectedOutput shallow-merges an answer over the job's existing
// corrected output, so several requests against the same job accumulate.
func mergeCorrectedOutput(existing datatypes.JSON, answer map[string]any) (datatypes.JSON, error) {
	merged := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return nil, fmt.Errorf("decode corrected output: %w", err)
		}
	}
	for k, v := range answer {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode corrected output: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func (s *clarificationService) NextPending(ctx context.Context, ownerID uuid.UUID) (*types.ClarificationRequest, error) {
	rows, err := s.requests.ListPending(dbctx.New(ctx), ownerID, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *clarificationService) ListPending(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.ClarificationRequest, error) {
	return s.requests.ListPending(dbctx.New(ctx), ownerID, limit)
}
