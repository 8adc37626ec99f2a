package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	jobsrepo "github.com/crucibleworks/crucible-backend/internal/data/repos/jobs"
	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/pipeline"
	"github.com/crucibleworks/crucible-backend/internal/platform/dbctx"
	"github.com/crucibleworks/crucible-backend/internal/platform/logger"
	"github.com/crucibleworks/crucible-backend/internal/services"
)

// Worker polls for pending jobs and drives them through their registered
// pipeline. Claiming moves a job to in_progress atomically, so with any
// number of loops each job is run by exactly one of them
// (single-writer-per-job).
type Worker struct {
	log      *logger.Logger
	jobs     jobsrepo.JobRepo
	registry *pipeline.Registry
	engine   *pipeline.Engine
	status   services.StatusCache // optional

	defaultPipeline string
	pollInterval    time.Duration
	concurrency     int
}

type Config struct {
	DefaultPipeline string
	PollInterval    time.Duration
	Concurrency     int
}

func New(baseLog *logger.Logger, jobs jobsrepo.JobRepo, registry *pipeline.Registry, engine *pipeline.Engine, status services.StatusCache, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Worker{
		log:             baseLog.With("component", "JobWorker"),
		jobs:            jobs,
		registry:        registry,
		engine:          engine,
		status:          status,
		defaultPipeline: cfg.DefaultPipeline,
		pollInterval:    cfg.PollInterval,
		concurrency:     cfg.Concurrency,
	}
}

// Start runs the claim loops until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.log.Info("Starting job worker pool", "concurrency", w.concurrency)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.runLoop(ctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.jobs.ClaimNextPending(dbctx.New(ctx))
			if err != nil {
				w.log.Warn("Claim failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.runOne(ctx, workerID, job)
		}
	}
}

func (w *Worker) runOne(ctx context.Context, workerID int, job *types.Job) {
	log := w.log.With("worker_id", workerID, "job_id", job.ID.String())

	name := pipelineName(job, w.defaultPipeline)
	phases, ok := w.registry.Get(name)
	if !ok {
		log.Warn("No pipeline registered", "pipeline", name)
		w.failJob(ctx, job, fmt.Sprintf("pipeline not registered: %s", name))
		return
	}

	w.publish(ctx, job.ID, services.StatusSnapshot{
		Status:   types.JobStatusInProgress,
		Message:  "pipeline " + name,
		Progress: 0,
	})

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Pipeline panic", "pipeline", name, "panic", r)
				w.failJob(ctx, job, fmt.Sprintf("panic in pipeline %s", name))
			}
		}()
		if err := w.engine.Run(ctx, job.ID, phases); err != nil {
			// Engine-level failures are not recorded on the job by the
			// engine itself; the job keeps its last checkpoint. Surface
			// them in the log and the status cache, against the row's
			// actual checkpoint status rather than the claim-time one.
			log.Error("Engine run failed", "pipeline", name, "error", err)
			status := job.Status
			if fresh, gErr := w.jobs.GetByID(dbctx.New(ctx), job.ID); gErr == nil {
				status = fresh.Status
			}
			w.publish(ctx, job.ID, services.StatusSnapshot{
				Status:  status,
				Message: err.Error(),
			})
			return
		}
		w.publishFinal(ctx, job.ID)
	}()
}

func (w *Worker) failJob(ctx context.Context, job *types.Job, msg string) {
	if err := w.jobs.UpdateFields(dbctx.New(ctx), job.ID, map[string]interface{}{
		"status": types.JobStatusFailed,
		"error":  msg,
	}); err != nil {
		w.log.Error("Failed to record job failure", "job_id", job.ID.String(), "error", err)
	}
	w.publish(ctx, job.ID, services.StatusSnapshot{
		Status:  types.JobStatusFailed,
		Message: msg,
	})
}

func (w *Worker) publishFinal(ctx context.Context, jobID uuid.UUID) {
	job, err := w.jobs.GetByID(dbctx.New(ctx), jobID)
	if err != nil {
		return
	}
	snap := services.StatusSnapshot{Status: job.Status, Message: job.Error}
	if job.Status == types.JobStatusCompleted {
		snap.Progress = 100
	}
	w.publish(ctx, jobID, snap)
}

func (w *Worker) publish(ctx context.Context, jobID uuid.UUID, snap services.StatusSnapshot) {
	if w.status == nil {
		return
	}
	_ = w.status.Set(ctx, jobID, snap)
}

// pipelineName reads the pipeline selector from the job's input payload.
func pipelineName(job *types.Job, def string) string {
	if len(job.Input) == 0 {
		return def
	}
	var input map[string]any
	if err := json.Unmarshal(job.Input, &input); err != nil {
		return def
	}
	if name, ok := input["pipeline"].(string); ok && name != "" {
		return name
	}
	return def
}
