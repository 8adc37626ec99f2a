package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"

	jobsrepo "github.com/crucibleworks/crucible-backend/internal/data/repos/jobs"
	"github.com/crucibleworks/crucible-backend/internal/data/repos/testutil"
	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/platform/dbctx"
)

func TestStoreSetOutputPersistsAndMirrors(t *testing.T) {
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	log := testutil.Logger(t)
	jobs := jobsrepo.NewJobRepo(tx, log)
	requests := jobsrepo.NewClarificationRequestRepo(tx, log)
	dbc := dbctx.New(ctx)

	job := testutil.SeedJob(t, ctx, tx, uuid.New(), `{"content":"hello"}`)
	store := newStore(dbc, job, jobs, requests)

	if err := store.SetOutput(Context{"total": "41.99", "total_confidence": 0.4}); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}

	got, err := jobs.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	persisted := decodeJSON(t, got.Output)
	if persisted["total"] != "41.99" {
		t.Fatalf("expected output persisted, got %v", persisted)
	}
	mirrored := decodeJSON(t, store.Job().Output)
	if mirrored["total"] != "41.99" {
		t.Fatalf("expected in-memory job mirrored, got %v", mirrored)
	}
}

func TestStoreClarificationRequests(t *testing.T) {
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	log := testutil.Logger(t)
	jobs := jobsrepo.NewJobRepo(tx, log)
	requests := jobsrepo.NewClarificationRequestRepo(tx, log)
	dbc := dbctx.New(ctx)

	owner := uuid.New()
	job := testutil.SeedJob(t, ctx, tx, owner, `{}`)
	store := newStore(dbc, job, jobs, requests)

	pending, err := store.PendingClarifications()
	if err != nil {
		t.Fatalf("PendingClarifications: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected no pending requests, got %d", pending)
	}

	created, err := store.CreateClarificationRequests([]Finding{
		{Kind: "low_confidence_field", Context: map[string]any{"field": "total"}},
		{Kind: "unlinked_item", Context: map[string]any{"index": 2}},
	})
	if err != nil {
		t.Fatalf("CreateClarificationRequests: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 rows created, got %d", len(created))
	}
	for _, row := range created {
		if row.JobID != job.ID || row.OwnerID != owner {
			t.Fatalf("expected rows bound to job and owner, got %+v", row)
		}
		if row.Status != types.RequestStatusPending {
			t.Fatalf("expected pending status, got %q", row.Status)
		}
	}

	pending, err = store.PendingClarifications()
	if err != nil {
		t.Fatalf("PendingClarifications: %v", err)
	}
	if pending != 2 {
		t.Fatalf("expected 2 pending requests, got %d", pending)
	}

	none, err := store.CreateClarificationRequests(nil)
	if err != nil {
		t.Fatalf("CreateClarificationRequests with no findings: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no rows for empty findings, got %d", len(none))
	}
}
