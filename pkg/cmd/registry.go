// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/storyreel/storyreel/pkg/adapters/httpjson"
	"github.com/storyreel/storyreel/pkg/adapters/stub"
	"github.com/storyreel/storyreel/pkg/capability"
	"github.com/storyreel/storyreel/pkg/config"
	"github.com/storyreel/storyreel/pkg/models"
	"github.com/storyreel/storyreel/pkg/registry"
)

// NewRegistry builds the adapter registry. With an empty bindings path every
// stage is bound to the stub adapter, which is what local development wants.
func NewRegistry(logger *slog.Logger, bindingsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)
	registerNativeFactories(reg)

	if bindingsPath == "" {
		if err := bindAllToStub(reg); err != nil {
			return nil, err
		}

		return reg, nil
	}

	if err := bindFromFile(reg, bindingsPath); err != nil {
		return nil, err
	}

	return reg, nil
}

func registerNativeFactories(reg *registry.Registry) {
	reg.RegisterFactory(httpjson.NewFactory())
	reg.RegisterFactory(stub.NewFactory())
}

func bindAllToStub(reg *registry.Registry) error {
	for _, stage := range models.Stages {
		adapter, err := reg.CreateAdapter("stub", map[string]any{"id": "stub"})
		if err != nil {
			return err
		}

		if err := reg.BindStage(stage, registry.StagePolicy{}, adapter); err != nil {
			return err
		}
	}

	return nil
}

// bindFromFile binds the registry from the per-stage adapter chain
// configuration. Every configured adapter's config is validated against its
// factory schema before the process accepts work.
func bindFromFile(reg *registry.Registry, path string) error {
	bindings, err := config.LoadBindings(path)
	if err != nil {
		return err
	}

	for stage, b := range bindings {
		chain := make([]capability.Adapter, 0, len(b.Adapters))

		for _, ac := range b.Adapters {
			adapter, err := reg.CreateAdapter(ac.Factory, ac.Config)
			if err != nil {
				return fmt.Errorf("stage '%s': %w", stage, err)
			}

			chain = append(chain, adapter)
		}

		policy := registry.StagePolicy{
			Timeout:     time.Duration(b.TimeoutSeconds) * time.Second,
			MaxAttempts: b.MaxAttempts,
			CacheTTL:    time.Duration(b.CacheTTLSeconds) * time.Second,
		}

		if err := reg.BindStage(stage, policy, chain...); err != nil {
			return err
		}
	}

	return nil
}
