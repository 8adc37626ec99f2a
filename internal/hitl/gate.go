package hitl

import (
	"context"

	"github.com/crucibleworks/crucible-backend/internal/pipeline"
	"github.com/crucibleworks/crucible-backend/internal/platform/logger"
)

// Gate is the phase that pauses a pipeline for human review. It runs an
// AmbiguityDetector against the job; when the detector reports findings it
// persists one pending clarification request per finding and suspends the
// run. The context always passes through unchanged: the gate never
// transforms data, only gates forward progress.
//
// Replay safety: if the job already has pending requests (the run was
// resumed before anyone answered), the gate suspends again without
// creating duplicates.
type Gate struct {
	detector AmbiguityDetector
	log      *logger.Logger
}

func NewGate(detector AmbiguityDetector, baseLog *logger.Logger) *Gate {
	return &Gate{
		detector: detector,
		log:      baseLog.With("phase", "ambiguity_gate", "detector", detector.Kind()),
	}
}

func (g *Gate) Name() string { return "ambiguity_gate" }

// Process reads nothing from and writes nothing to the pipeline context.
func (g *Gate) Process(ctx context.Context, pc pipeline.Context, store *pipeline.Store) (pipeline.Context, error) {
	job := store.Job()

	pending, err := store.PendingClarifications()
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		g.log.Info("Job still has unanswered clarifications", "job_id", job.ID.String(), "pending", pending)
		return pc, pipeline.ErrAwaitingClarification
	}

	findings, err := g.detector.Detect(job)
	if err != nil {
		return nil, err
	}
	if len(findings) == 0 {
		g.log.Debug("No ambiguities found", "job_id", job.ID.String())
		return pc, nil
	}

	if _, err := store.CreateClarificationRequests(findings); err != nil {
		return nil, err
	}
	g.log.Info("Ambiguities found, suspending run", "job_id", job.ID.String(), "count", len(findings))
	return pc, pipeline.ErrAwaitingClarification
}
