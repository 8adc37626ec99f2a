package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	jobsrepo "github.com/crucibleworks/crucible-backend/internal/data/repos/jobs"
	"github.com/crucibleworks/crucible-backend/internal/data/repos/testutil"
	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/modules/extraction"
	"github.com/crucibleworks/crucible-backend/internal/pipeline"
	"github.com/crucibleworks/crucible-backend/internal/platform/dbctx"
	"github.com/crucibleworks/crucible-backend/internal/services"
)

// memoryStatusCache records published snapshots for assertions.
type memoryStatusCache struct {
	mu    sync.Mutex
	snaps map[uuid.UUID][]services.StatusSnapshot
}

func newMemoryStatusCache() *memoryStatusCache {
	return &memoryStatusCache{snaps: map[uuid.UUID][]services.StatusSnapshot{}}
}

func (c *memoryStatusCache) Set(ctx context.Context, jobID uuid.UUID, snap services.StatusSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[jobID] = append(c.snaps[jobID], snap)
	return nil
}

func (c *memoryStatusCache) Get(ctx context.Context, jobID uuid.UUID) (*services.StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := c.snaps[jobID]
	if len(all) == 0 {
		return nil, nil
	}
	last := all[len(all)-1]
	return &last, nil
}

func (c *memoryStatusCache) Clear(ctx context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, jobID)
	return nil
}

func TestPipelineNameSelection(t *testing.T) {
	if got := pipelineName(&types.Job{}, "extraction"); got != "extraction" {
		t.Fatalf("expected default for empty input, got %q", got)
	}
	job := &types.Job{Input: datatypes.JSON([]byte(`{"pipeline":"linking"}`))}
	if got := pipelineName(job, "extraction"); got != "linking" {
		t.Fatalf("expected selector honored, got %q", got)
	}
	job = &types.Job{Input: datatypes.JSON([]byte(`not json`))}
	if got := pipelineName(job, "extraction"); got != "extraction" {
		t.Fatalf("expected default for malformed input, got %q", got)
	}
	job = &types.Job{Input: datatypes.JSON([]byte(`{"pipeline":""}`))}
	if got := pipelineName(job, "extraction"); got != "extraction" {
		t.Fatalf("expected default for empty selector, got %q", got)
	}
}

func waitForStatus(t *testing.T, jobs jobsrepo.JobRepo, id uuid.UUID, want string) *types.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.GetByID(dbctx.New(context.Background()), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %q", id, want)
	return nil
}

func TestWorkerClaimsAndRunsJobs(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	jobs := jobsrepo.NewJobRepo(db, log)
	requests := jobsrepo.NewClarificationRequestRepo(db, log)
	engine := pipeline.NewEngine(log, jobs, requests, nil)

	registry := pipeline.NewRegistry()
	if err := registry.Register("extraction", extraction.Pipeline(nil)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	w := New(log, jobs, registry, engine, nil, Config{
		DefaultPipeline: "extraction",
		PollInterval:    10 * time.Millisecond,
		Concurrency:     1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	now := time.Now().UTC()
	good := &types.Job{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Status:    types.JobStatusPending,
		Input:     datatypes.JSON([]byte(`{"content":"hello"}`)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	unrouted := &types.Job{
		ID:        uuid.New(),
		OwnerID:   good.OwnerID,
		Status:    types.JobStatusPending,
		Input:     datatypes.JSON([]byte(`{"pipeline":"nope","content":"hello"}`)),
		CreatedAt: now.Add(time.Millisecond),
		UpdatedAt: now.Add(time.Millisecond),
	}
	for _, j := range []*types.Job{good, unrouted} {
		if err := db.Create(j).Error; err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}
	t.Cleanup(func() {
		db.Where("owner_id = ?", good.OwnerID).Delete(&types.Job{})
	})

	completed := waitForStatus(t, jobs, good.ID, types.JobStatusCompleted)
	if string(completed.Output) == "" {
		t.Fatalf("expected output written for completed job")
	}

	failed := waitForStatus(t, jobs, unrouted.ID, types.JobStatusFailed)
	if failed.Error == "" {
		t.Fatalf("expected failure reason recorded for unknown pipeline")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
}

type preparePhase struct{}

func (p *preparePhase) Name() string { return "prepare" }

func (p *preparePhase) Process(ctx context.Context, pc pipeline.Context, store *pipeline.Store) (pipeline.Context, error) {
	out := pc.Clone()
	out["prepared"] = true
	return out, nil
}

type defectPhase struct{}

func (p *defectPhase) Name() string { return "explode" }

func (p *defectPhase) Process(ctx context.Context, pc pipeline.Context, store *pipeline.Store) (pipeline.Context, error) {
	return nil, errors.New("connection reset")
}

func TestWorkerPublishesCheckpointStatusOnEngineFailure(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	jobs := jobsrepo.NewJobRepo(db, log)
	requests := jobsrepo.NewClarificationRequestRepo(db, log)
	engine := pipeline.NewEngine(log, jobs, requests, nil)

	registry := pipeline.NewRegistry()
	if err := registry.Register("breaking", []pipeline.Phase{&preparePhase{}, &defectPhase{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cache := newMemoryStatusCache()
	w := New(log, jobs, registry, engine, cache, Config{
		DefaultPipeline: "breaking",
		PollInterval:    10 * time.Millisecond,
		Concurrency:     1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	now := time.Now().UTC()
	job := &types.Job{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Status:    types.JobStatusPending,
		Input:     datatypes.JSON([]byte(`{"content":"hello"}`)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	t.Cleanup(func() {
		db.Where("id = ?", job.ID).Delete(&types.Job{})
	})

	// Wait for the failure snapshot to land in the cache.
	var snap *services.StatusSnapshot
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s, err := cache.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if s != nil && strings.Contains(s.Message, "connection reset") {
			snap = s
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if snap == nil {
		t.Fatalf("no failure snapshot published")
	}
	// The snapshot reflects the row's checkpoint, not the claim-time status.
	if snap.Status != types.PhaseStatus("prepare") {
		t.Fatalf("expected checkpoint status %q, got %q", types.PhaseStatus("prepare"), snap.Status)
	}
	if !strings.Contains(snap.Message, "connection reset") {
		t.Fatalf("expected engine error surfaced, got %q", snap.Message)
	}
}
