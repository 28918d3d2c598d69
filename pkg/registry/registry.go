// Package registry resolves stages to capability adapter chains and their
// execution policies. Chains are builder-configured: the first adapter is the
// primary provider, the rest are fallbacks tried in order.
package registry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/storyreel/storyreel/pkg/cache"
	"github.com/storyreel/storyreel/pkg/capability"
	"github.com/storyreel/storyreel/pkg/models"
)

// StagePolicy tunes execution of one stage.
type StagePolicy struct {
	// Timeout bounds a single adapter invocation.
	Timeout time.Duration
	// MaxAttempts is the per-adapter attempt budget for transient failures.
	MaxAttempts int
	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration
	// CacheTTL is the time-to-live of this stage's cached results.
	CacheTTL time.Duration
}

func defaultPolicy(stage models.Stage) StagePolicy {
	return StagePolicy{
		Timeout:        60 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: 500 * time.Millisecond,
		CacheTTL:       cache.TTLFor(stage),
	}
}

type binding struct {
	policy StagePolicy
	chain  []capability.Adapter
}

// Registry holds adapter factories and per-stage bindings. Registration
// happens during startup; lookups afterwards are read-only.
type Registry struct {
	logger    *slog.Logger
	factories map[string]capability.Factory
	bindings  map[models.Stage]binding
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[string]capability.Factory),
		bindings:  make(map[models.Stage]binding),
	}
}

// RegisterFactory makes an adapter factory available by its ID.
func (r *Registry) RegisterFactory(factory capability.Factory) {
	r.factories[factory.ID()] = factory
}

// CreateAdapter validates config against the factory's JSON schema and builds
// the adapter.
func (r *Registry) CreateAdapter(factoryID string, config map[string]any) (capability.Adapter, error) {
	factory, ok := r.factories[factoryID]
	if !ok {
		return nil, fmt.Errorf("adapter factory '%s' not registered", factoryID)
	}

	err := validateConfig(factory.Schema(), config)
	if err != nil {
		return nil, fmt.Errorf("invalid config for adapter '%s': %w", factoryID, err)
	}

	return factory.Create(config)
}

// BindStage attaches an adapter chain and policy to a stage. The chain must
// not be empty; later adapters are fallbacks.
func (r *Registry) BindStage(stage models.Stage, policy StagePolicy, adapters ...capability.Adapter) error {
	if !models.IsValidStage(stage) {
		return fmt.Errorf("unknown stage '%s'", stage)
	}

	if len(adapters) == 0 {
		return fmt.Errorf("stage '%s' needs at least one adapter", stage)
	}

	defaults := defaultPolicy(stage)

	if policy.Timeout <= 0 {
		policy.Timeout = defaults.Timeout
	}

	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaults.MaxAttempts
	}

	if policy.RetryBaseDelay <= 0 {
		policy.RetryBaseDelay = defaults.RetryBaseDelay
	}

	if policy.CacheTTL <= 0 {
		policy.CacheTTL = defaults.CacheTTL
	}

	r.bindings[stage] = binding{policy: policy, chain: adapters}

	r.logger.Debug("Bound stage",
		"stage", stage,
		"adapters", len(adapters),
		"max_attempts", policy.MaxAttempts)

	return nil
}

// ChainFor returns the adapter chain bound to the stage.
func (r *Registry) ChainFor(stage models.Stage) ([]capability.Adapter, error) {
	b, ok := r.bindings[stage]
	if !ok {
		return nil, fmt.Errorf("no adapter bound for stage '%s'", stage)
	}

	return b.chain, nil
}

// HealthCheck reports whether every adapter-backed stage has a chain bound.
func (r *Registry) HealthCheck() (string, bool) {
	missing := 0

	for _, stage := range models.Stages {
		if _, ok := r.bindings[stage]; !ok {
			missing++
		}
	}

	if missing > 0 {
		return fmt.Sprintf("%d stages have no adapter bound", missing), false
	}

	return "All stages bound", true
}

// PolicyFor returns the stage's policy, falling back to defaults for unbound
// stages.
func (r *Registry) PolicyFor(stage models.Stage) StagePolicy {
	b, ok := r.bindings[stage]
	if !ok {
		return defaultPolicy(stage)
	}

	return b.policy
}
