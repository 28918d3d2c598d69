// Package config provides configuration loading for stage adapter bindings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/storyreel/storyreel/pkg/models"
)

// StageBinding configures one stage's adapter chain and execution policy.
// Omitted policy fields fall back to the stage defaults.
type StageBinding struct {
	Adapters        []AdapterConfig `yaml:"adapters"`
	TimeoutSeconds  int             `yaml:"timeout_seconds,omitempty"`
	MaxAttempts     int             `yaml:"max_attempts,omitempty"`
	CacheTTLSeconds int             `yaml:"cache_ttl_seconds,omitempty"`
}

// AdapterConfig names a registered factory and its provider configuration.
type AdapterConfig struct {
	Factory string         `yaml:"factory"`
	Config  map[string]any `yaml:"config"`
}

// Bindings maps each stage to its binding. Stages absent from the file stay
// unbound and fail health checks until configured.
type Bindings map[models.Stage]StageBinding

// LoadBindings loads the bindings file. YAML is a superset of JSON, so both
// formats work.
func LoadBindings(path string) (Bindings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bindings file %s: %w", path, err)
	}

	var bindings Bindings

	if err := yaml.Unmarshal(data, &bindings); err != nil {
		return nil, fmt.Errorf("failed to parse bindings file %s: %w", path, err)
	}

	for stage, binding := range bindings {
		if !validStage(stage) {
			return nil, fmt.Errorf("bindings file %s names unknown stage '%s'", path, stage)
		}

		if len(binding.Adapters) == 0 {
			return nil, fmt.Errorf("stage '%s' has no adapters configured", stage)
		}

		for i, adapter := range binding.Adapters {
			if adapter.Factory == "" {
				return nil, fmt.Errorf("stage '%s' adapter %d has no factory", stage, i)
			}
		}
	}

	return bindings, nil
}

func validStage(stage models.Stage) bool {
	for _, known := range models.Stages {
		if stage == known {
			return true
		}
	}

	return false
}
