package extraction_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	jobsrepo "github.com/crucibleworks/crucible-backend/internal/data/repos/jobs"
	"github.com/crucibleworks/crucible-backend/internal/data/repos/testutil"
	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/hitl"
	"github.com/crucibleworks/crucible-backend/internal/modules/extraction"
	"github.com/crucibleworks/crucible-backend/internal/pipeline"
	"github.com/crucibleworks/crucible-backend/internal/platform/dbctx"
)

func runPipeline(t *testing.T, input string, phases []pipeline.Phase) (*types.Job, jobsrepo.ClarificationRequestRepo) {
	t.Helper()
	ctx := context.Background()
	tx := testutil.Tx(t, testutil.DB(t))
	log := testutil.Logger(t)
	jobs := jobsrepo.NewJobRepo(tx, log)
	requests := jobsrepo.NewClarificationRequestRepo(tx, log)
	engine := pipeline.NewEngine(log, jobs, requests, nil)

	job := testutil.SeedJob(t, ctx, tx, uuid.New(), input)
	if err := engine.Run(ctx, job.ID, phases); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := jobs.GetByID(dbctx.New(ctx), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return got, requests
}

func TestUppercasePhase(t *testing.T) {
	job, _ := runPipeline(t, `{"content":"hello"}`, []pipeline.Phase{&extraction.UppercasePhase{}})

	if job.Status != types.JobStatusCompleted {
		t.Fatalf("expected completed, got %q", job.Status)
	}
	var out map[string]any
	if err := json.Unmarshal(job.Output, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out["content"] != "hello" || out["uppercased"] != "HELLO" {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestUppercasePhaseRejectsMissingContent(t *testing.T) {
	job, _ := runPipeline(t, `{"other":1}`, []pipeline.Phase{&extraction.UppercasePhase{}})

	if job.Status != types.JobStatusFailed {
		t.Fatalf("expected failed, got %q", job.Status)
	}
	if job.Error != "bad input" {
		t.Fatalf("expected recorded failure message, got %q", job.Error)
	}
}

func TestExtractFieldsPhaseParsesAndScores(t *testing.T) {
	input := `{"content":"Vendor: ACME\nTotal: 41.99?\n\nnot a pair"}`
	job, _ := runPipeline(t, input, []pipeline.Phase{&extraction.ExtractFieldsPhase{}})

	if job.Status != types.JobStatusCompleted {
		t.Fatalf("expected completed, got %q", job.Status)
	}
	var out map[string]any
	if err := json.Unmarshal(job.Output, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out["vendor"] != "ACME" {
		t.Fatalf("expected vendor parsed, got %v", out)
	}
	if conf, _ := out["vendor_confidence"].(float64); conf < 0.9 {
		t.Fatalf("expected clean field scored high, got %v", out["vendor_confidence"])
	}
	if out["total"] != "41.99" {
		t.Fatalf("expected hedge marker stripped, got %v", out["total"])
	}
	if conf, _ := out["total_confidence"].(float64); conf >= 0.9 {
		t.Fatalf("expected hedged field scored low, got %v", out["total_confidence"])
	}
	if _, ok := out["not_a_pair"]; ok {
		t.Fatalf("expected non-pair lines skipped, got %v", out)
	}
}

func TestExtractionPipelineGatesHedgedFields(t *testing.T) {
	gate := hitl.NewGate(&hitl.LowConfidenceDetector{Threshold: 0.9}, testutil.Logger(t))
	job, requests := runPipeline(t, `{"content":"Total: 41.99?"}`, extraction.Pipeline(gate))

	if job.Status != types.JobStatusWaitingHuman {
		t.Fatalf("expected waiting_human, got %q", job.Status)
	}
	pending, err := requests.CountPendingForJob(dbctx.New(context.Background()), job.ID)
	if err != nil {
		t.Fatalf("CountPendingForJob: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 clarification request, got %d", pending)
	}
}

func TestExtractionPipelinePassesCleanInput(t *testing.T) {
	gate := hitl.NewGate(&hitl.LowConfidenceDetector{Threshold: 0.9}, testutil.Logger(t))
	job, _ := runPipeline(t, `{"content":"Vendor: ACME"}`, extraction.Pipeline(gate))

	if job.Status != types.JobStatusCompleted {
		t.Fatalf("expected completed, got %q", job.Status)
	}
}
