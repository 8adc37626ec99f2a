package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	jobsrepo "github.com/crucibleworks/crucible-backend/internal/data/repos/jobs"
	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/platform/dbctx"
	"github.com/crucibleworks/crucible-backend/internal/platform/logger"
)

// Engine runs an ordered phase list against one job, committing a durable
// checkpoint after every successful phase. It is synchronous and
// single-threaded per invocation; callers must serialize runs per job id
// (single-writer-per-job, there is no lock here).
type Engine struct {
	log      *logger.Logger
	jobs     jobsrepo.JobRepo
	requests jobsrepo.ClarificationRequestRepo
	tracer   trace.Tracer
}

func NewEngine(baseLog *logger.Logger, jobs jobsrepo.JobRepo, requests jobsrepo.ClarificationRequestRepo, tracer trace.Tracer) *Engine {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("pipeline")
	}
	return &Engine{
		log:      baseLog.With("component", "PipelineEngine"),
		jobs:     jobs,
		requests: requests,
		tracer:   tracer,
	}
}

// Run executes phases in order against the job. Outcomes are observable on
// the persisted job row; the returned error covers only conditions the
// engine does not interpret: unknown job id, store write failures, and
// defect-level phase errors. A *PhaseError inside a phase is recorded on
// the job (status=failed) and is not returned.
//
// The working context starts from the job's persisted context when present,
// otherwise from its input, so re-running replays every phase against the
// last checkpoint. The engine keeps no memory of which phases already ran.
func (e *Engine) Run(ctx context.Context, jobID uuid.UUID, phases []Phase) error {
	log := e.log.With("job_id", jobID.String())
	dbc := dbctx.New(ctx)

	job, err := e.jobs.GetByID(dbc, jobID)
	if err != nil {
		log.Error("Job load failed, nothing ran", "error", err)
		return err
	}

	ctx, runSpan := e.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("job.id", jobID.String()),
			attribute.Int("pipeline.phases", len(phases)),
		))
	defer runSpan.End()
	dbc = dbctx.New(ctx)

	working, err := e.initialContext(job)
	if err != nil {
		runSpan.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := e.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status": types.JobStatusInProgress,
	}); err != nil {
		runSpan.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("mark job in_progress: %w", err)
	}
	job.Status = types.JobStatusInProgress

	for _, phase := range phases {
		next, err := e.runPhase(ctx, job, working, phase)

		var phaseErr *PhaseError
		switch {
		case err == nil:
			working = next
			if cpErr := e.checkpoint(dbc, job, working, types.PhaseStatus(phase.Name())); cpErr != nil {
				runSpan.SetStatus(codes.Error, cpErr.Error())
				return cpErr
			}
			log.Debug("Phase checkpoint committed", "phase", phase.Name())

		case errors.As(err, &phaseErr):
			log.Warn("Phase failed, stopping run", "phase", phase.Name(), "error", phaseErr.Message)
			if uErr := e.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
				"status": types.JobStatusFailed,
				"error":  phaseErr.Message,
			}); uErr != nil {
				runSpan.SetStatus(codes.Error, uErr.Error())
				return fmt.Errorf("persist phase failure: %w", uErr)
			}
			job.Status = types.JobStatusFailed
			job.Error = phaseErr.Message
			return nil

		case errors.Is(err, ErrAwaitingClarification):
			// Gate policy: stop the run. The context checkpoint and the
			// waiting status commit together, so an observer never sees a
			// waiting job with a stale context.
			if next != nil {
				working = next
			}
			if cpErr := e.checkpoint(dbc, job, working, types.JobStatusWaitingHuman); cpErr != nil {
				runSpan.SetStatus(codes.Error, cpErr.Error())
				return cpErr
			}
			log.Info("Run suspended awaiting clarification", "phase", phase.Name())
			return nil

		default:
			// Defect-level failure: not interpreted, not recorded. The job
			// still reflects the last committed checkpoint.
			runSpan.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("phase %s: %w", phase.Name(), err)
		}
	}

	raw, err := EncodeContext(working)
	if err != nil {
		runSpan.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := e.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":  types.JobStatusCompleted,
		"context": raw,
		"output":  raw,
		"error":   "",
	}); err != nil {
		runSpan.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("persist completion: %w", err)
	}
	job.Status = types.JobStatusCompleted
	job.Context = raw
	job.Output = raw
	log.Info("Run completed", "phases", len(phases))
	return nil
}

func (e *Engine) initialContext(job *types.Job) (Context, error) {
	if len(job.Context) > 0 {
		return DecodeContext(job.Context)
	}
	return DecodeContext(job.Input)
}

func (e *Engine) runPhase(ctx context.Context, job *types.Job, working Context, phase Phase) (Context, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline.phase",
		trace.WithAttributes(attribute.String("phase.name", phase.Name())))
	defer span.End()

	store := newStore(dbctx.New(ctx), job, e.jobs, e.requests)
	next, err := phase.Process(ctx, working, store)
	if err != nil && !errors.Is(err, ErrAwaitingClarification) {
		span.SetStatus(codes.Error, err.Error())
	}
	return next, err
}

// checkpoint commits context and status as one atomic field update.
func (e *Engine) checkpoint(dbc dbctx.Context, job *types.Job, working Context, status string) error {
	raw, err := EncodeContext(working)
	if err != nil {
		return err
	}
	if err := e.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
		"context": raw,
		"status":  status,
	}); err != nil {
		return fmt.Errorf("checkpoint %s: %w", status, err)
	}
	job.Context = raw
	job.Status = status
	return nil
}
