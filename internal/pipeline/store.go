package pipeline

import (
	"time"

	"github.com/google/uuid"

	jobsrepo "github.com/crucibleworks/crucible-backend/internal/data/repos/jobs"
	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/platform/dbctx"
)

// Store is the capability-scoped handle a phase uses for side effects on
// the job it is processing. Phases never touch the job row directly; every
// persisted effect goes through this object so it is visible to the
// engine's checkpoints.
type Store struct {
	dbc      dbctx.Context
	job      *types.Job
	jobs     jobsrepo.JobRepo
	requests jobsrepo.ClarificationRequestRepo
}

func newStore(dbc dbctx.Context, job *types.Job, jobs jobsrepo.JobRepo, requests jobsrepo.ClarificationRequestRepo) *Store {
	return &Store{dbc: dbc, job: job, jobs: jobs, requests: requests}
}

// Job returns the in-memory job row as of the start of the current run.
// Detectors read the automated output from here.
func (s *Store) Job() *types.Job { return s.job }

// SetOutput persists an intermediate automated result onto the job and
// mirrors it in memory. The final output of a successful run is written by
// the engine itself.
func (s *Store) SetOutput(pc Context) error {
	raw, err := EncodeContext(pc)
	if err != nil {
		return err
	}
	if err := s.jobs.UpdateFields(s.dbc, s.job.ID, map[string]interface{}{
		"output": raw,
	}); err != nil {
		return err
	}
	s.job.Output = raw
	return nil
}

// Finding is one distinct issue a detector wants a human to settle.
type Finding struct {
	Kind    string
	Context map[string]any
}

// CreateClarificationRequests persists one pending request per finding,
// each referencing this store's job. Returns the created rows.
func (s *Store) CreateClarificationRequests(findings []Finding) ([]*types.ClarificationRequest, error) {
	if len(findings) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	rows := make([]*types.ClarificationRequest, 0, len(findings))
	for _, f := range findings {
		raw, err := EncodeContext(Context(f.Context))
		if err != nil {
			return nil, err
		}
		rows = append(rows, &types.ClarificationRequest{
			ID:        uuid.New(),
			OwnerID:   s.job.OwnerID,
			JobID:     s.job.ID,
			Kind:      f.Kind,
			Status:    types.RequestStatusPending,
			Context:   raw,
			CreatedAt: now,
		})
	}
	return s.requests.Create(s.dbc, rows)
}

// PendingClarifications reports how many requests for this job are still
// unanswered. Gate phases use it to pass once everything is resolved.
func (s *Store) PendingClarifications() (int64, error) {
	return s.requests.CountPendingForJob(s.dbc, s.job.ID)
}
