package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crucibleworks/crucible-backend/internal/hitl"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PIPELINES_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected default concurrency 4, got %d", cfg.WorkerConcurrency)
	}
	if cfg.PollInterval != time.Second {
		t.Fatalf("expected default poll interval 1s, got %s", cfg.PollInterval)
	}
	if cfg.DefaultPipeline != "extraction" {
		t.Fatalf("expected default pipeline, got %q", cfg.DefaultPipeline)
	}
	if len(cfg.Pipelines) != 0 {
		t.Fatalf("expected no pipelines without a config file, got %d", len(cfg.Pipelines))
	}
}

func TestLoadPipelinesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	content := `pipelines:
  - name: extraction
    detector: low_confidence
    options:
      confidence_threshold: 0.8
  - name: linking
    detector: unlinked_item
    options:
      items_key: line_items
      link_key: sku
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PIPELINES_CONFIG", path)
	t.Setenv("WORKER_CONCURRENCY", "2")
	t.Setenv("POLL_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerConcurrency != 2 || cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected env overrides applied, got %+v", cfg)
	}
	if len(cfg.Pipelines) != 2 {
		t.Fatalf("expected 2 pipelines, got %d", len(cfg.Pipelines))
	}
	first := cfg.Pipelines[0]
	if first.Name != "extraction" || first.Detector != hitl.DetectorLowConfidence {
		t.Fatalf("unexpected first pipeline: %+v", first)
	}
	if first.Options.ConfidenceThreshold != 0.8 {
		t.Fatalf("expected threshold parsed, got %v", first.Options.ConfidenceThreshold)
	}
	second := cfg.Pipelines[1]
	if second.Options.ItemsKey != "line_items" || second.Options.LinkKey != "sku" {
		t.Fatalf("unexpected second pipeline options: %+v", second.Options)
	}
}

func TestLoadRejectsBadPipelinesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	content := `pipelines:
  - name: extraction
  - name: extraction
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PIPELINES_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for duplicate pipeline names")
	}

	t.Setenv("PIPELINES_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
