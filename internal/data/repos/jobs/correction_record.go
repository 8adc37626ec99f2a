package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/platform/dbctx"
	"github.com/crucibleworks/crucible-backend/internal/platform/logger"
)

type CorrectionRecordRepo interface {
	// Upsert writes the record keyed by job_id; a job has at most one
	// correction record and saving again overwrites the snapshot.
	Upsert(dbc dbctx.Context, row *types.CorrectionRecord) (*types.CorrectionRecord, error)
	GetByJobID(dbc dbctx.Context, jobID uuid.UUID) (*types.CorrectionRecord, error)
	ListByStatus(dbc dbctx.Context, status string) ([]*types.CorrectionRecord, error)
}

type correctionRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCorrectionRecordRepo(db *gorm.DB, baseLog *logger.Logger) CorrectionRecordRepo {
	return &correctionRecordRepo{
		db:  db,
		log: baseLog.With("repo", "CorrectionRecordRepo"),
	}
}

func (r *correctionRecordRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *correctionRecordRepo) Upsert(dbc dbctx.Context, row *types.CorrectionRecord) (*types.CorrectionRecord, error) {
	if row == nil || row.JobID == uuid.Nil {
		return nil, errors.New("correction record requires a job_id")
	}
	now := time.Now().UTC()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "source_input", "model_output", "human_correction", "updated_at",
			}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *correctionRecordRepo) GetByJobID(dbc dbctx.Context, jobID uuid.UUID) (*types.CorrectionRecord, error) {
	if jobID == uuid.Nil {
		return nil, nil
	}
	var row types.CorrectionRecord
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *correctionRecordRepo) ListByStatus(dbc dbctx.Context, status string) ([]*types.CorrectionRecord, error) {
	var out []*types.CorrectionRecord
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.CorrectionRecord{}).
		Order("created_at ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
