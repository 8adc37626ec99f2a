package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/crucibleworks/crucible-backend/internal/domain"
)

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, input string) *types.Job {
	tb.Helper()
	now := time.Now().UTC()
	j := &types.Job{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Status:    types.JobStatusPending,
		Input:     datatypes.JSON([]byte(input)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

func SeedClarificationRequest(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID, jobID uuid.UUID, kind string, createdAt time.Time) *types.ClarificationRequest {
	tb.Helper()
	r := &types.ClarificationRequest{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		JobID:     jobID,
		Kind:      kind,
		Status:    types.RequestStatusPending,
		Context:   datatypes.JSON([]byte(`{}`)),
		CreatedAt: createdAt,
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed clarification request: %v", err)
	}
	return r
}
