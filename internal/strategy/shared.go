package strategy

import (
	"context"

	"github.com/optionstrike/engine/internal/evaluator"
	"github.com/optionstrike/engine/internal/executor"
	"github.com/optionstrike/engine/internal/playtypes"
	"github.com/optionstrike/engine/internal/trailing"
)

// evaluateNewGeneric runs the common NEW-play evaluation path (fetch
// quotes, evaluate, open on EnterNow) shared by every built-in runner that
// doesn't need bespoke entry-scan logic.
func evaluateNewGeneric(ctx context.Context, deps Deps, tag string) error {
	plays, err := playsForTag(deps.Store, playtypes.StateNew, tag)
	if err != nil {
		return err
	}
	for _, p := range plays {
		if err := evaluateOneNewGeneric(ctx, deps, p); err != nil {
			log.Errorf("evaluating new play %s: %v", p.ID, err)
		}
	}
	return nil
}

func evaluateOneNewGeneric(ctx context.Context, deps Deps, p *playtypes.Play) error {
	stock, err := deps.Gateway.GetStockQuote(ctx, p.Symbol)
	if err != nil {
		return err
	}
	opt, err := deps.Gateway.GetOptionQuote(ctx, p.OCCSymbol)
	if err != nil {
		return err
	}
	decision := evaluator.Evaluate(evaluator.Snapshot{Play: p, StockQuote: stock, OptionQuote: opt, Clock: deps.Clock})
	if decision.Kind != evaluator.EnterNow {
		return nil
	}
	return deps.Executor.Open(ctx, p, decision, executor.OpenAccountView{})
}

// evaluateOpenGeneric runs the common OPEN-play evaluation path (trailing
// update, evaluate, close on ExitNow) plus polling any PENDING_* plays
// owned by tag.
func evaluateOpenGeneric(ctx context.Context, deps Deps, tag string) error {
	plays, err := playsForTag(deps.Store, playtypes.StateOpen, tag)
	if err != nil {
		return err
	}
	for _, p := range plays {
		if err := evaluateOneOpenGeneric(ctx, deps, p); err != nil {
			log.Errorf("evaluating open play %s: %v", p.ID, err)
		}
	}

	return evaluatePendingGeneric(ctx, deps, tag)
}

// evaluatePendingGeneric polls any PENDING_OPENING/PENDING_CLOSING plays
// owned by tag. Runners with bespoke EvaluateOpenPlays logic (e.g. the
// chain-scanning short-puts runner) call this directly instead of going
// through evaluateOpenGeneric.
func evaluatePendingGeneric(ctx context.Context, deps Deps, tag string) error {
	pending, err := playsForTag(deps.Store, playtypes.StatePendingOpening, tag)
	if err == nil {
		for _, p := range pending {
			if err := deps.Executor.PollOpen(ctx, p); err != nil {
				log.Warnf("polling open order for play %s: %v", p.ID, err)
			}
		}
	}
	closing, err := playsForTag(deps.Store, playtypes.StatePendingClosing, tag)
	if err == nil {
		for _, p := range closing {
			if err := deps.Executor.PollClose(ctx, p); err != nil {
				log.Warnf("polling close order for play %s: %v", p.ID, err)
			}
		}
	}
	return nil
}

func evaluateOneOpenGeneric(ctx context.Context, deps Deps, p *playtypes.Play) error {
	stock, err := deps.Gateway.GetStockQuote(ctx, p.Symbol)
	if err != nil {
		return err
	}
	opt, err := deps.Gateway.GetOptionQuote(ctx, p.OCCSymbol)
	if err != nil {
		return err
	}

	if p.IsTrailingEnabled() && deps.Trailing != nil {
		if cfg := p.TrailConfigured(); cfg != nil && cfg.Type == playtypes.TrailATR {
			if candles, err := deps.Gateway.GetHistoricalCandles(ctx, p.Symbol, cfg.ATRPeriod); err == nil {
				trailing.WithATR(cfg, candles, cfg.ATRMultiplier)
			}
		}
		if deps.Trailing.Update(p, stock, opt) {
			if err := deps.Store.Save(p); err != nil {
				return err
			}
		}
	}

	decision := evaluator.Evaluate(evaluator.Snapshot{Play: p, StockQuote: stock, OptionQuote: opt, Clock: deps.Clock})
	if decision.Kind != evaluator.ExitNowKind {
		return nil
	}
	return deps.Executor.Close(ctx, p, decision)
}
