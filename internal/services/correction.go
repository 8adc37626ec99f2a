package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobsrepo "github.com/crucibleworks/crucible-backend/internal/data/repos/jobs"
	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/platform/dbctx"
	"github.com/crucibleworks/crucible-backend/internal/platform/logger"
)

// CorrectionService handles full human corrections of a job's output and
// turns them into export-ready fine-tuning records.
type CorrectionService interface {
	// SaveCorrection stores the human-verified output on the job, marks it
	// completed, and upserts the job's correction record snapshot.
	SaveCorrection(ctx context.Context, jobID uuid.UUID, corrected map[string]any) (*types.Job, error)
	// ExportJSONL serializes correction records with the given status into
	// one conversational tuning example per line.
	ExportJSONL(ctx context.Context, status string) (string, error)
}

type correctionService struct {
	db      *gorm.DB
	log     *logger.Logger
	jobs    jobsrepo.JobRepo
	records jobsrepo.CorrectionRecordRepo
}

func NewCorrectionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs jobsrepo.JobRepo,
	records jobsrepo.CorrectionRecordRepo,
) CorrectionService {
	return &correctionService{
		db:      db,
		log:     baseLog.With("service", "CorrectionService"),
		jobs:    jobs,
		records: records,
	}
}

func (s *correctionService) SaveCorrection(ctx context.Context, jobID uuid.UUID, corrected map[string]any) (*types.Job, error) {
	if corrected == nil {
		corrected = map[string]any{}
	}
	raw, err := json.Marshal(corrected)
	if err != nil {
		return nil, fmt.Errorf("encode correction: %w", err)
	}

	var job *types.Job
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)

		j, err := s.jobs.GetByID(dbc, jobID)
		if err != nil {
			return err
		}
		if err := s.jobs.UpdateFields(dbc, j.ID, map[string]interface{}{
			"corrected_output": datatypes.JSON(raw),
			"status":           types.JobStatusCompleted,
			"error":            "",
		}); err != nil {
			return err
		}
		j.CorrectedOutput = datatypes.JSON(raw)
		j.Status = types.JobStatusCompleted
		j.Error = ""

		if _, err := s.records.Upsert(dbc, &types.CorrectionRecord{
			JobID:           j.ID,
			Status:          types.CorrectionStatusApproved,
			SourceInput:     j.Input,
			ModelOutput:     j.Output,
			HumanCorrection: j.CorrectedOutput,
		}); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Correction saved", "job_id", jobID.String())
	return job, nil
}

func (s *correctionService) ExportJSONL(ctx context.Context, status string) (string, error) {
	if status == "" {
		status = types.CorrectionStatusApproved
	}
	rows, err := s.records.ListByStatus(dbctx.New(ctx), status)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, rec := range rows {
		line, err := tuningLine(rec)
		if err != nil {
			return "", fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.Write(line)
	}
	return b.String(), nil
}

// tuningLine builds one conversational training example: the source input
// as the user turn, the human correction as the model turn.
func tuningLine(rec *types.CorrectionRecord) ([]byte, error) {
	input := map[string]any{}
	if len(rec.SourceInput) > 0 {
		if err := json.Unmarshal(rec.SourceInput, &input); err != nil {
			return nil, fmt.Errorf("decode source input: %w", err)
		}
	}

	var userParts []map[string]any
	switch input["type"] {
	case "image":
		userParts = append(userParts, map[string]any{
			"fileData": map[string]any{
				"mimeType": "image/jpeg",
				"fileUri":  input["uri"],
			},
		})
	case "text":
		userParts = append(userParts, map[string]any{"text": input["content"]})
	default:
		raw, _ := json.Marshal(input)
		userParts = append(userParts, map[string]any{"text": string(raw)})
	}
	userParts = append(userParts, map[string]any{
		"text": "Extract the key business data from the provided input.",
	})

	correction := "{}"
	if len(rec.HumanCorrection) > 0 {
		correction = string(rec.HumanCorrection)
	}

	return json.Marshal(map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": userParts},
			{"role": "model", "parts": []map[string]any{{"text": correction}}},
		},
	})
}
