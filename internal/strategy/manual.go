package strategy

import (
	"context"

	"github.com/optionstrike/engine/internal/logging"
)

var log = logging.For("strategy")

// ManualSwings is the "manual swings" built-in variant: plays are
// hand-authored elsewhere; this runner only evaluates their triggers.
type ManualSwings struct {
	tag     string
	enabled bool
	deps    Deps
}

// NewManualSwings builds the manual-swings runner. It is registered under
// whatever tag the operator configures (commonly "manual").
func NewManualSwings(deps Deps, cfg map[string]interface{}) (Runner, error) {
	tag, _ := cfg["tag"].(string)
	if tag == "" {
		tag = "manual"
	}
	enabled := true
	if v, ok := cfg["enabled"].(bool); ok {
		enabled = v
	}
	return &ManualSwings{tag: tag, enabled: enabled, deps: deps}, nil
}

func (r *ManualSwings) Name() string                           { return r.tag }
func (r *ManualSwings) Enabled() bool                          { return r.enabled }
func (r *ManualSwings) OnCycleStart(ctx context.Context) error { return nil }
func (r *ManualSwings) OnCycleEnd(ctx context.Context) error   { return nil }

func (r *ManualSwings) EvaluateNewPlays(ctx context.Context) error {
	return evaluateNewGeneric(ctx, r.deps, r.tag)
}

func (r *ManualSwings) EvaluateOpenPlays(ctx context.Context) error {
	return evaluateOpenGeneric(ctx, r.deps, r.tag)
}
