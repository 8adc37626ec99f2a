package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crucibleworks/crucible-backend/internal/hitl"
	"github.com/crucibleworks/crucible-backend/internal/platform/envutil"
)

// Config is the process-level configuration, read once at startup from the
// environment plus an optional YAML pipelines file.
type Config struct {
	LogMode           string
	ServiceName       string
	Environment       string
	WorkerConcurrency int
	PollInterval      time.Duration
	DefaultPipeline   string
	Pipelines         []PipelineConfig
}

// PipelineConfig declares one registered pipeline and, when Detector is
// set, the ambiguity detector that guards its gate phase.
type PipelineConfig struct {
	Name     string       `yaml:"name"`
	Detector string       `yaml:"detector"`
	Options  hitl.Options `yaml:"options"`
}

type pipelinesFile struct {
	Pipelines []PipelineConfig `yaml:"pipelines"`
}

func Load() (Config, error) {
	cfg := Config{
		LogMode:           envutil.String("LOG_MODE", "default"),
		ServiceName:       envutil.String("SERVICE_NAME", "crucible-backend"),
		Environment:       envutil.String("ENVIRONMENT", "development"),
		WorkerConcurrency: envutil.Int("WORKER_CONCURRENCY", 4),
		PollInterval:      envutil.Duration("POLL_INTERVAL", time.Second),
		DefaultPipeline:   envutil.String("DEFAULT_PIPELINE", "extraction"),
	}

	path := envutil.String("PIPELINES_CONFIG", "")
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read pipelines config: %w", err)
	}
	var file pipelinesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return cfg, fmt.Errorf("parse pipelines config: %w", err)
	}
	seen := map[string]bool{}
	for _, p := range file.Pipelines {
		if p.Name == "" {
			return cfg, fmt.Errorf("pipelines config: entry missing name")
		}
		if seen[p.Name] {
			return cfg, fmt.Errorf("pipelines config: duplicate pipeline %q", p.Name)
		}
		seen[p.Name] = true
	}
	cfg.Pipelines = file.Pipelines
	return cfg, nil
}
