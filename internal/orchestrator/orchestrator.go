// Package orchestrator implements the cycle scheduler (C8): a single
// cooperative tick loop running every enabled strategy through the
// on_cycle_start -> evaluate_new_plays -> evaluate_open_plays -> on_cycle_end
// pipeline, sequentially or on a bounded worker pool.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/optionstrike/engine/internal/errs"
	"github.com/optionstrike/engine/internal/logging"
	"github.com/optionstrike/engine/internal/strategy"
)

var log = logging.For("orchestrator")

// Mode selects how strategies within a phase are invoked.
type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
)

// Config holds the orchestrator's scheduling parameters (spec.md §6,
// `orchestration.*`).
type Config struct {
	Enabled           bool
	Mode              Mode
	MaxParallelWorkers int
	TickInterval      time.Duration
	FallbackToLegacy  bool
	DryRun            bool
}

// Orchestrator runs the tick loop over a fixed set of strategy runners.
type Orchestrator struct {
	cfg      Config
	runners  []strategy.Runner
	legacy   strategy.Runner // manual swings, used by the fallback path
	fallenBack bool
}

// New builds an Orchestrator over the given enabled runners. legacy is the
// single-strategy fallback path used when fallback_to_legacy triggers.
func New(cfg Config, runners []strategy.Runner, legacy strategy.Runner) *Orchestrator {
	if cfg.MaxParallelWorkers < 1 {
		cfg.MaxParallelWorkers = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	return &Orchestrator{cfg: cfg, runners: runners, legacy: legacy}
}

// Run starts the cooperative tick loop; it blocks until ctx is canceled. A
// shutdown signal lets the in-flight tick complete before returning — no
// tick is interrupted mid-phase.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("shutdown signal received; draining in-flight tick")
			return nil
		case start := <-ticker.C:
			deadline := start.Add(o.cfg.TickInterval)
			if time.Now().After(deadline) {
				log.Warnf("skipping tick: previous tick exceeded the configured interval")
				continue
			}
			if err := o.Tick(ctx); err != nil {
				log.Errorf("tick failed: %v", err)
				if o.cfg.FallbackToLegacy && !o.fallenBack {
					log.Warnf("falling back to manual-swings-only orchestration for the remainder of the session")
					o.fallenBack = true
				}
			}
		}
	}
}

// Tick runs exactly one pass of the four phases (spec.md §4: "on_cycle_start
// -> evaluate_new_plays -> evaluate_open_plays -> on_cycle_end") over every
// enabled runner, or just the legacy runner once fallenBack.
func (o *Orchestrator) Tick(ctx context.Context) error {
	runners := o.activeRunners()

	if err := o.runPhase(ctx, runners, func(ctx context.Context, r strategy.Runner) error {
		return r.OnCycleStart(ctx)
	}); err != nil {
		return err
	}
	if err := o.runPhase(ctx, runners, func(ctx context.Context, r strategy.Runner) error {
		return r.EvaluateNewPlays(ctx)
	}); err != nil {
		return err
	}
	if err := o.runPhase(ctx, runners, func(ctx context.Context, r strategy.Runner) error {
		return r.EvaluateOpenPlays(ctx)
	}); err != nil {
		return err
	}
	return o.runPhase(ctx, runners, func(ctx context.Context, r strategy.Runner) error {
		return r.OnCycleEnd(ctx)
	})
}

func (o *Orchestrator) activeRunners() []strategy.Runner {
	if o.fallenBack {
		if o.legacy == nil {
			return nil
		}
		return []strategy.Runner{o.legacy}
	}
	active := make([]strategy.Runner, 0, len(o.runners))
	for _, r := range o.runners {
		if r.Enabled() {
			active = append(active, r)
		}
	}
	return active
}

// runPhase invokes fn over every runner, sequentially or on a bounded
// worker pool per cfg.Mode. Each runner's error is logged immediately and
// also collected; a runner failing does not stop its siblings within the
// same phase, but once the phase completes every collected error is
// joined into a single errs.Fatal so Tick (and in turn Run's
// fallback_to_legacy branch) can see that the cycle was not clean.
func (o *Orchestrator) runPhase(ctx context.Context, runners []strategy.Runner, fn func(context.Context, strategy.Runner) error) error {
	if o.cfg.Mode != Parallel || len(runners) <= 1 {
		var errList []error
		for _, r := range runners {
			if err := fn(ctx, r); err != nil {
				log.Errorf("strategy %s: %v", r.Name(), err)
				errList = append(errList, err)
			}
		}
		return joinRunnerErrors(errList)
	}

	sem := make(chan struct{}, o.cfg.MaxParallelWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errList []error
	for _, r := range runners {
		wg.Add(1)
		sem <- struct{}{}
		go func(r strategy.Runner) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(ctx, r); err != nil {
				log.Errorf("strategy %s: %v", r.Name(), err)
				mu.Lock()
				errList = append(errList, err)
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()
	return joinRunnerErrors(errList)
}

// joinRunnerErrors wraps any per-runner failures from a phase into a single
// errs.Fatal, the signal Run's fallback_to_legacy branch watches for.
func joinRunnerErrors(errList []error) error {
	if len(errList) == 0 {
		return nil
	}
	return &errs.Fatal{Reason: "strategy runner failed during tick", Cause: errors.Join(errList...)}
}

// RunOnce executes a single tick and returns, used by the `once` CLI
// subcommand.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	return o.Tick(ctx)
}
