package hitl

import (
	"encoding/json"
	"fmt"
	"strings"

	types "github.com/crucibleworks/crucible-backend/internal/domain"
	"github.com/crucibleworks/crucible-backend/internal/pipeline"
)

// AmbiguityDetector inspects a job's current automated output and proposes
// zero or more clarification requests. Detect is a pure read; it creates
// nothing and returns an empty slice when nothing needs review.
// Implementations are domain-specific and selected by configuration.
type AmbiguityDetector interface {
	Kind() string
	Detect(job *types.Job) ([]pipeline.Finding, error)
}

const (
	DetectorLowConfidence = "low_confidence"
	DetectorUnlinkedItem  = "unlinked_item"
)

// Options carries the configurable knobs shared by the shipped detectors.
type Options struct {
	// ConfidenceThreshold gates the low_confidence detector; fields whose
	// confidence falls below it are flagged.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// ItemsKey and LinkKey shape the unlinked_item detector.
	ItemsKey string `yaml:"items_key"`
	LinkKey  string `yaml:"link_key"`
}

// FromConfig builds one of the shipped detector variants by kind.
func FromConfig(kind string, opts Options) (AmbiguityDetector, error) {
	switch strings.TrimSpace(kind) {
	case DetectorLowConfidence:
		threshold := opts.ConfidenceThreshold
		if threshold <= 0 {
			threshold = 0.9
		}
		return &LowConfidenceDetector{Threshold: threshold}, nil
	case DetectorUnlinkedItem:
		itemsKey := opts.ItemsKey
		if itemsKey == "" {
			itemsKey = "items"
		}
		linkKey := opts.LinkKey
		if linkKey == "" {
			linkKey = "linked_item_id"
		}
		return &UnlinkedItemDetector{ItemsKey: itemsKey, LinkKey: linkKey}, nil
	default:
		return nil, fmt.Errorf("unknown detector kind: %q", kind)
	}
}

// effectiveOutput merges the human-corrected output over the automated one,
// so fields a human already settled do not get flagged again on replay.
func effectiveOutput(job *types.Job) (map[string]any, error) {
	out := map[string]any{}
	if len(job.Output) > 0 {
		if err := json.Unmarshal(job.Output, &out); err != nil {
			return nil, fmt.Errorf("decode job output: %w", err)
		}
	}
	if len(job.CorrectedOutput) > 0 {
		corrected := map[string]any{}
		if err := json.Unmarshal(job.CorrectedOutput, &corrected); err != nil {
			return nil, fmt.Errorf("decode corrected output: %w", err)
		}
		for k, v := range corrected {
			out[k] = v
		}
	}
	return out, nil
}

// LowConfidenceDetector flags every numeric confidence field below the
// threshold. It inspects top-level fields named "confidence" or ending in
// "_confidence".
type LowConfidenceDetector struct {
	Threshold float64
}

func (d *LowConfidenceDetector) Kind() string { return DetectorLowConfidence }

func (d *LowConfidenceDetector) Detect(job *types.Job) ([]pipeline.Finding, error) {
	out, err := effectiveOutput(job)
	if err != nil {
		return nil, err
	}
	var findings []pipeline.Finding
	for key, val := range out {
		if key != "confidence" && !strings.HasSuffix(key, "_confidence") {
			continue
		}
		confidence, ok := asFloat(val)
		if !ok || confidence >= d.Threshold {
			continue
		}
		field := strings.TrimSuffix(key, "_confidence")
		findings = append(findings, pipeline.Finding{
			Kind: "low_confidence_field",
			Context: map[string]any{
				"field":      field,
				"confidence": confidence,
				"threshold":  d.Threshold,
				"value":      out[field],
				"prompt":     fmt.Sprintf("The field %q was extracted with confidence %.2f (below %.2f). Please verify it.", field, confidence, d.Threshold),
			},
		})
	}
	return findings, nil
}

// UnlinkedItemDetector flags entries of an item list that have no canonical
// link id yet.
type UnlinkedItemDetector struct {
	ItemsKey string
	LinkKey  string
}

func (d *UnlinkedItemDetector) Kind() string { return DetectorUnlinkedItem }

func (d *UnlinkedItemDetector) Detect(job *types.Job) ([]pipeline.Finding, error) {
	out, err := effectiveOutput(job)
	if err != nil {
		return nil, err
	}
	items, ok := out[d.ItemsKey].([]any)
	if !ok {
		return nil, nil
	}
	var findings []pipeline.Finding
	for i, entry := range items {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if link, present := item[d.LinkKey]; present && link != nil {
			continue
		}
		name, _ := item["name"].(string)
		findings = append(findings, pipeline.Finding{
			Kind: "unlinked_item",
			Context: map[string]any{
				"index":     i,
				"item_name": name,
				"prompt":    fmt.Sprintf("The item %q needs to be linked to a canonical record. Which one is it?", name),
			},
		})
	}
	return findings, nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
