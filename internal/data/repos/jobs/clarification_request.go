package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/platform/dbctx"
	"github.com/crucibleworks/crucible-backend/internal/platform/logger"
)

var (
	ErrRequestNotFound = errors.New("clarification request not found")

	// ErrAlreadyResolved is returned when Resolve is called on a request
	// that has already left the pending state. Resolution happens exactly
	// once; a second attempt must fail loudly, never silently succeed.
	ErrAlreadyResolved = errors.New("clarification request already resolved")
)

type ClarificationRequestRepo interface {
	Create(dbc dbctx.Context, rows []*types.ClarificationRequest) ([]*types.ClarificationRequest, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ClarificationRequest, error)
	// ListPending returns pending requests for an owner, oldest first.
	ListPending(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.ClarificationRequest, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.ClarificationRequest, error)
	CountPendingForJob(dbc dbctx.Context, jobID uuid.UUID) (int64, error)
	// Resolve transitions pending -> resolved and stores the answer. The
	// update is guarded on status so the transition can only happen once.
	Resolve(dbc dbctx.Context, id uuid.UUID, resolution datatypes.JSON) error
}

type clarificationRequestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClarificationRequestRepo(db *gorm.DB, baseLog *logger.Logger) ClarificationRequestRepo {
	return &clarificationRequestRepo{
		db:  db,
		log: baseLog.With("repo", "ClarificationRequestRepo"),
	}
}

func (r *clarificationRequestRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *clarificationRequestRepo) Create(dbc dbctx.Context, rows []*types.ClarificationRequest) ([]*types.ClarificationRequest, error) {
	if len(rows) == 0 {
		return []*types.ClarificationRequest{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *clarificationRequestRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ClarificationRequest, error) {
	if id == uuid.Nil {
		return nil, ErrRequestNotFound
	}
	var row types.ClarificationRequest
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *clarificationRequestRepo) ListPending(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.ClarificationRequest, error) {
	var out []*types.ClarificationRequest
	if ownerID == uuid.Nil {
		return out, nil
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("owner_id = ? AND status = ?", ownerID, types.RequestStatusPending).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *clarificationRequestRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.ClarificationRequest, error) {
	var out []*types.ClarificationRequest
	if jobID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *clarificationRequestRepo) CountPendingForJob(dbc dbctx.Context, jobID uuid.UUID) (int64, error) {
	if jobID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ClarificationRequest{}).
		Where("job_id = ? AND status = ?", jobID, types.RequestStatusPending).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *clarificationRequestRepo) Resolve(dbc dbctx.Context, id uuid.UUID, resolution datatypes.JSON) error {
	if id == uuid.Nil {
		return ErrRequestNotFound
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.ClarificationRequest{}).
		Where("id = ? AND status = ?", id, types.RequestStatusPending).
		Updates(map[string]interface{}{
			"status":      types.RequestStatusResolved,
			"resolution":  resolution,
			"resolved_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either missing or already resolved; look once to tell them apart.
		var count int64
		if err := r.handle(dbc).WithContext(dbc.Ctx).
			Model(&types.ClarificationRequest{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRequestNotFound
		}
		return ErrAlreadyResolved
	}
	return nil
}
