// Package strategy implements the Strategy Runner capability set (C7): a
// per-strategy policy object consuming the plays it owns, plus a registry
// mapping string tags to runner constructors.
package strategy

import (
	"context"

	"github.com/optionstrike/engine/internal/broker"
	"github.com/optionstrike/engine/internal/clock"
	"github.com/optionstrike/engine/internal/executor"
	"github.com/optionstrike/engine/internal/marketdata"
	"github.com/optionstrike/engine/internal/playstore"
	"github.com/optionstrike/engine/internal/playtypes"
	"github.com/optionstrike/engine/internal/trailing"
)

// Runner is the capability set every strategy implements (spec.md §4.7).
type Runner interface {
	Name() string
	Enabled() bool
	OnCycleStart(ctx context.Context) error
	EvaluateNewPlays(ctx context.Context) error
	EvaluateOpenPlays(ctx context.Context) error
	OnCycleEnd(ctx context.Context) error
}

// Deps bundles the shared collaborators every built-in runner needs,
// avoiding deep inheritance (spec.md §9: strategies are peers sharing named
// helper modules, not parent classes).
type Deps struct {
	Store    *playstore.Store
	Gateway  *marketdata.Gateway
	Broker   broker.Broker
	Executor *executor.Executor
	Trailing *trailing.Manager
	Clock    clock.Clock
}

// Registry maps a string tag to a constructor, per spec.md §4.7:
// "A registry maps string tag -> runner class. Adding a strategy requires
// implementing the capability set and registering the tag."
type Registry struct {
	factories map[string]func(Deps, map[string]interface{}) (Runner, error)
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func(Deps, map[string]interface{}) (Runner, error))}
}

// Register adds a constructor under tag.
func (r *Registry) Register(tag string, factory func(Deps, map[string]interface{}) (Runner, error)) {
	r.factories[tag] = factory
}

// Build constructs the runner registered under tag with the given
// strategy-specific config block.
func (r *Registry) Build(tag string, deps Deps, cfg map[string]interface{}) (Runner, error) {
	factory, ok := r.factories[tag]
	if !ok {
		return nil, &unknownTagError{tag: tag}
	}
	return factory(deps, cfg)
}

type unknownTagError struct{ tag string }

func (e *unknownTagError) Error() string { return "strategy: no runner registered for tag " + e.tag }

// playsForTag filters ids owned by this strategy by loading and checking
// StrategyTag (the store itself is strategy-agnostic).
func playsForTag(store *playstore.Store, state playtypes.State, tag string) ([]*playtypes.Play, error) {
	ids, err := store.List(state)
	if err != nil {
		return nil, err
	}
	owned := make([]*playtypes.Play, 0, len(ids))
	for _, id := range ids {
		p, err := store.Load(id)
		if err != nil {
			continue // quarantined/malformed; store already logged it
		}
		if p.StrategyTag == tag {
			owned = append(owned, p)
		}
	}
	return owned, nil
}
