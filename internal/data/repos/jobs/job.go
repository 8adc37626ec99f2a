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

// ErrJobNotFound is returned by GetByID when no row matches the id.
var ErrJobNotFound = errors.New("job not found")

type JobRepo interface {
	Create(dbc dbctx.Context, rows []*types.Job) ([]*types.Job, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	// UpdateFields applies a multi-field update as a single UPDATE statement.
	// This is the engine's checkpoint primitive: context and status for one
	// phase commit together or not at all.
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// ClaimNextPending atomically moves the oldest pending job for dispatch
	// to in_progress and returns it. Returns nil when nothing is pending.
	ClaimNextPending(dbc dbctx.Context) (*types.Job, error)
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, statuses []string) ([]*types.Job, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobRepo) Create(dbc dbctx.Context, rows []*types.Job) ([]*types.Job, error) {
	if len(rows) == 0 {
		return []*types.Job{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	if id == uuid.Nil {
		return nil, ErrJobNotFound
	}
	var row types.Job
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return ErrJobNotFound
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *jobRepo) ClaimNextPending(dbc dbctx.Context) (*types.Job, error) {
	tx := r.handle(dbc)
	now := time.Now().UTC()
	var claimed *types.Job
	err := tx.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		q := txx.Where("status = ?", types.JobStatusPending).
			Order("created_at ASC")
		// SKIP LOCKED keeps concurrent claim loops from queueing on the
		// same row; sqlite has no row locks, the guarded update below
		// covers it there.
		if txx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var row types.Job
		qErr := q.First(&row).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		res := txx.Model(&types.Job{}).
			Where("id = ? AND status = ?", row.ID, types.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     types.JobStatusInProgress,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to another loop; report nothing claimed.
			return nil
		}
		row.Status = types.JobStatusInProgress
		row.UpdatedAt = now
		claimed = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, statuses []string) ([]*types.Job, error) {
	var out []*types.Job
	if ownerID == uuid.Nil {
		return out, nil
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
