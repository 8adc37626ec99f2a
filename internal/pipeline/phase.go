package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
)

// Context is the open, schema-less payload phases pass between each other.
// It is the sole inter-phase data channel: a phase receives the accumulated
// context, returns the updated context, and shares no other mutable state.
// Each phase should document, informally, the keys it reads and writes.
type Context map[string]any

// Clone returns a shallow copy. Phases that branch on failure paths can
// mutate a clone without disturbing the checkpointed map.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// DecodeContext parses a persisted JSON blob into a Context. An empty blob
// decodes to an empty map.
func DecodeContext(raw datatypes.JSON) (Context, error) {
	if len(raw) == 0 {
		return Context{}, nil
	}
	var m Context
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode pipeline context: %w", err)
	}
	if m == nil {
		m = Context{}
	}
	return m, nil
}

// EncodeContext serializes a Context for the checkpoint columns.
func EncodeContext(c Context) (datatypes.JSON, error) {
	if c == nil {
		c = Context{}
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline context: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// Phase is a single named processing step. Process must be a pure
// transformation over the context it is given plus whatever it reads or
// writes through the store handle; it must not retain state between
// invocations, because one Phase value serves many jobs across many runs.
// Re-invoking the engine replays the whole phase list, so Process must
// also be safe to re-run against a context that already reflects its own
// prior effects.
//
// Process signals an expected, unrecoverable condition by returning a
// *PhaseError; the engine records it on the job and stops. Any other error
// is treated as a defect and propagates to the engine's caller with the
// last checkpoint intact.
type Phase interface {
	// Name is stable and human-readable; it labels checkpoints and logs.
	Name() string
	Process(ctx context.Context, pc Context, store *Store) (Context, error)
}

// PhaseError is the only failure the engine interprets: the job is marked
// failed with the message, and no further phases run. It is a visible,
// testable return value rather than control flow by panic.
type PhaseError struct {
	Message string
}

func (e *PhaseError) Error() string { return e.Message }

// Failf builds a PhaseError the way phases normally report one.
func Failf(format string, args ...any) *PhaseError {
	return &PhaseError{Message: fmt.Sprintf(format, args...)}
}

// ErrAwaitingClarification is returned by a gate phase to suspend the run:
// the engine checkpoints the (unchanged) context together with the
// waiting_human status and ends the run cleanly. Resuming is an explicit
// re-invocation that replays the phase list.
var ErrAwaitingClarification = errors.New("job awaiting human clarification")
