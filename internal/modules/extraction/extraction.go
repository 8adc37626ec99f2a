package extraction

import (
	"context"
	"strings"

	"github.com/crucibleworks/crucible-backend/internal/pipeline"
)

// The extraction pipeline is the reference workload shipped with the
// engine: normalize raw text, pull structured fields out of it with a
// confidence score per field, then hold at the review gate when any field
// looks uncertain.

// UppercasePhase reads "content" and writes "uppercased". It fails the job
// when the input carries no usable content.
type UppercasePhase struct{}

func (p *UppercasePhase) Name() string { return "uppercase" }

func (p *UppercasePhase) Process(ctx context.Context, pc pipeline.Context, store *pipeline.Store) (pipeline.Context, error) {
	content, ok := pc["content"].(string)
	if !ok || content == "" {
		return nil, pipeline.Failf("bad input")
	}
	out := pc.Clone()
	out["uppercased"] = strings.ToUpper(content)
	return out, nil
}

// ExtractFieldsPhase parses "content" as newline-separated "key: value"
// pairs and writes each pair to the context along with a
// "<key>_confidence" score. A value ending in "?" is treated as the
// extractor hedging: the marker is stripped and the confidence drops low
// enough for the review gate to flag it. The extracted context is also
// persisted as the job's automated output so detectors can read it.
type ExtractFieldsPhase struct{}

const (
	confidenceCertain = 0.95
	confidenceHedged  = 0.40
)

func (p *ExtractFieldsPhase) Name() string { return "extract_fields" }

func (p *ExtractFieldsPhase) Process(ctx context.Context, pc pipeline.Context, store *pipeline.Store) (pipeline.Context, error) {
	content, ok := pc["content"].(string)
	if !ok {
		return nil, pipeline.Failf("bad input")
	}
	out := pc.Clone()
	for _, line := range strings.Split(content, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = normalizeKey(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		confidence := confidenceCertain
		if strings.HasSuffix(value, "?") {
			value = strings.TrimSpace(strings.TrimSuffix(value, "?"))
			confidence = confidenceHedged
		}
		out[key] = value
		out[key+"_confidence"] = confidence
	}
	if err := store.SetOutput(out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

// Pipeline assembles the shipped phase list with the given review gate
// appended. Passing a nil gate yields the fully automated variant.
func Pipeline(gate pipeline.Phase) []pipeline.Phase {
	phases := []pipeline.Phase{
		&UppercasePhase{},
		&ExtractFieldsPhase{},
	}
	if gate != nil {
		phases = append(phases, gate)
	}
	return phases
}
