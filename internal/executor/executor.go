// Package executor implements the Order Executor (C6): translates an
// evaluator decision into concrete broker order(s), drives fills, and
// transitions play state.
package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/optionstrike/engine/internal/audit"
	"github.com/optionstrike/engine/internal/broker"
	"github.com/optionstrike/engine/internal/errs"
	"github.com/optionstrike/engine/internal/evaluator"
	"github.com/optionstrike/engine/internal/logging"
	"github.com/optionstrike/engine/internal/marketdata"
	"github.com/optionstrike/engine/internal/playstore"
	"github.com/optionstrike/engine/internal/playtypes"
	"github.com/optionstrike/engine/internal/risk"
)

var log = logging.For("executor")

// Executor drives a play's open/close/roll sequences against the broker.
type Executor struct {
	store   *playstore.Store
	brk     broker.Broker
	gateway *marketdata.Gateway
	gate    *risk.Gate
	trail   *audit.Trail
	dryRun  bool
}

// New builds an Executor. When dryRun is true (spec.md §4.8), order
// submission is replaced by a no-op that logs the intended call and
// state transitions that require fills are suppressed.
func New(store *playstore.Store, brk broker.Broker, gateway *marketdata.Gateway, gate *risk.Gate, trail *audit.Trail, dryRun bool) *Executor {
	return &Executor{store: store, brk: brk, gateway: gateway, gate: gate, trail: trail, dryRun: dryRun}
}

// OpenAccountView is the subset of account+exposure state the risk gate
// needs, fetched by the caller once per cycle.
type OpenAccountView struct {
	Account    broker.Account
	OpenShorts []risk.OpenShortPosition
}

// Open executes the open sequence (spec.md §4.6): risk check, resolve
// order, submit, record id durably, transition NEW -> PENDING_OPENING.
// Idempotent: if the play already has an open order id it does nothing
// (the caller should be polling instead).
func (e *Executor) Open(ctx context.Context, p *playtypes.Play, decision evaluator.Decision, account OpenAccountView) error {
	if p.OpenOrderID != "" {
		log.Warnf("Open called for play %s which already has order id %s; skipping resubmit", p.ID, p.OpenOrderID)
		return nil
	}

	if err := e.gate.Check(p, account.Account, account.OpenShorts); err != nil {
		var denied *errs.RiskDenied
		if isRiskDenied(err, &denied) {
			p.LastError = denied.Error()
			if e.trail != nil {
				e.trail.RiskDenied(p.ID, denied.Reason)
			}
			return e.store.Save(p)
		}
		return err
	}

	side, orderType, limitPrice := openOrderParams(p, decision)

	if e.dryRun {
		log.Infof("[dry-run] would submit open order for play %s: side=%s qty=%d type=%s limit=%v", p.ID, side, p.Contracts, orderType, limitPrice)
		return nil
	}

	orderID, err := e.brk.SubmitOrder(ctx, p.OCCSymbol, side, p.Contracts, orderType, limitPrice, broker.Day)
	if err != nil {
		var rejected *errs.BrokerRejected
		if isBrokerRejected(err, &rejected) {
			p.LastError = rejected.Error()
			return e.store.Save(p)
		}
		return err
	}

	if e.trail != nil {
		e.trail.OrderSubmitted(p.ID, orderID, string(side), p.OCCSymbol, p.Contracts)
	}

	_, err = e.store.Transition(p.ID, playtypes.StatePendingOpening, func(pl *playtypes.Play) {
		pl.OpenOrderID = orderID
	})
	return err
}

// PollOpen polls the open order and advances state per spec.md §4.6 step 5.
func (e *Executor) PollOpen(ctx context.Context, p *playtypes.Play) error {
	if p.OpenOrderID == "" {
		return fmt.Errorf("PollOpen called for play %s with no open order id", p.ID)
	}
	state, err := e.brk.GetOrder(ctx, p.OpenOrderID)
	if err != nil {
		// BrokerUnavailable: PENDING_* preserved, retry the poll next tick.
		return err
	}

	switch state.Status {
	case broker.StatusFilled:
		return e.onOpenFilled(ctx, p, state)
	case broker.StatusPartiallyFilled:
		return e.onOpenPartialEndOfDay(ctx, p, state)
	case broker.StatusRejected:
		if e.trail != nil {
			e.trail.OrderPolled(p.ID, p.OpenOrderID, string(state.Status), state.FilledQty, state.AvgFillPrice)
		}
		_, err := e.store.Transition(p.ID, playtypes.StateNew, func(pl *playtypes.Play) {
			pl.OpenOrderID = ""
			pl.LastError = state.Reason
		})
		return err
	case broker.StatusExpired:
		_, err := e.store.Transition(p.ID, playtypes.StateExpired, nil)
		return err
	default:
		return nil // new / other non-terminal statuses: keep polling
	}
}

func (e *Executor) onOpenFilled(ctx context.Context, p *playtypes.Play, state broker.OrderState) error {
	if e.trail != nil {
		e.trail.OrderPolled(p.ID, p.OpenOrderID, string(state.Status), state.FilledQty, state.AvgFillPrice)
	}
	fillPrice := decimal.NewFromFloat(state.AvgFillPrice)

	var deltaF, thetaF *float64
	if greeks, err := e.gateway.GetGreeks(ctx, p.OCCSymbol); err == nil {
		d, t := greeks.Delta, greeks.Theta
		deltaF, thetaF = &d, &t
	}

	_, err := e.store.Transition(p.ID, playtypes.StateOpen, func(pl *playtypes.Play) {
		pl.EntryPrice = &fillPrice
		pl.Fills.OpenPrice = &fillPrice
		pl.Fills.OpenGreeksDelta = deltaF
		pl.Fills.OpenGreeksTheta = thetaF
		resolveAbsoluteLevels(pl, fillPrice)
	})
	if err == nil && e.trail != nil {
		e.trail.StateTransition(p.ID, string(playtypes.StatePendingOpening), string(playtypes.StateOpen), "filled")
	}
	return err
}

// onOpenPartialEndOfDay applies the chosen partial-fill policy
// (cancel-remainder, spec.md §9 open question resolution): cancel what's
// left, record the partial, transition to OPEN with reduced quantity. It runs
// on the first poll that reports partially_filled, whatever the time of day.
func (e *Executor) onOpenPartialEndOfDay(ctx context.Context, p *playtypes.Play, state broker.OrderState) error {
	if err := e.brk.CancelOrder(ctx, p.OpenOrderID); err != nil {
		log.Warnf("canceling remainder of partially-filled order %s for play %s: %v", p.OpenOrderID, p.ID, err)
	}
	if e.trail != nil {
		e.trail.OrderCanceled(p.ID, p.OpenOrderID)
	}
	fillPrice := decimal.NewFromFloat(state.AvgFillPrice)
	_, err := e.store.Transition(p.ID, playtypes.StateOpen, func(pl *playtypes.Play) {
		pl.Contracts = state.FilledQty
		pl.EntryPrice = &fillPrice
		pl.Fills.OpenPrice = &fillPrice
		resolveAbsoluteLevels(pl, fillPrice)
	})
	return err
}

// resolveAbsoluteLevels computes absolute TP/SL premium levels from any
// premium-% configs once the entry fill price is known, per step 5's
// "compute absolute TP/SL levels from relative configs" instruction.
func resolveAbsoluteLevels(p *playtypes.Play, fillPrice decimal.Decimal) {
	if p.TP.PremiumPct != nil && p.TP.Premium == nil {
		move := fillPrice.Mul(decimal.NewFromFloat(*p.TP.PremiumPct))
		var target decimal.Decimal
		if p.PositionSide == playtypes.Long {
			target = fillPrice.Add(move)
		} else {
			target = fillPrice.Sub(move)
		}
		p.TP.Premium = &target
	}
	if p.SL.PremiumPct != nil && p.SL.Premium == nil {
		move := fillPrice.Mul(decimal.NewFromFloat(*p.SL.PremiumPct))
		var target decimal.Decimal
		if p.PositionSide == playtypes.Long {
			target = fillPrice.Sub(move)
		} else {
			target = fillPrice.Add(move)
		}
		p.SL.Premium = &target
	}
}

// Close executes the close sequence (mirror of Open): submit exit order,
// move OPEN -> PENDING_CLOSING. Contingency SL, and any decision whose order
// spec asks for market, submits market; otherwise a limit at the configured
// reference side.
func (e *Executor) Close(ctx context.Context, p *playtypes.Play, decision evaluator.Decision) error {
	if p.CloseOrderID != "" {
		log.Warnf("Close called for play %s which already has order id %s; skipping resubmit", p.ID, p.CloseOrderID)
		return nil
	}

	side, orderType, limitPrice := closeOrderParams(p, decision)

	if e.dryRun {
		log.Infof("[dry-run] would submit close order for play %s: side=%s qty=%d type=%s limit=%v reason=%s", p.ID, side, p.Contracts, orderType, limitPrice, decision.ExitReason)
		return nil
	}

	orderID, err := e.brk.SubmitOrder(ctx, p.OCCSymbol, side, p.Contracts, orderType, limitPrice, broker.Day)
	if err != nil {
		var rejected *errs.BrokerRejected
		if isBrokerRejected(err, &rejected) {
			p.LastError = rejected.Error()
			return e.store.Save(p)
		}
		return err
	}
	if e.trail != nil {
		e.trail.OrderSubmitted(p.ID, orderID, string(side), p.OCCSymbol, p.Contracts)
	}

	_, err = e.store.Transition(p.ID, playtypes.StatePendingClosing, func(pl *playtypes.Play) {
		pl.CloseOrderID = orderID
		pl.Fills.CloseReason = string(decision.ExitReason)
	})
	return err
}

// PollClose polls the close order and advances to CLOSED, or restores OPEN
// on rejection.
func (e *Executor) PollClose(ctx context.Context, p *playtypes.Play) error {
	if p.CloseOrderID == "" {
		return fmt.Errorf("PollClose called for play %s with no close order id", p.ID)
	}
	state, err := e.brk.GetOrder(ctx, p.CloseOrderID)
	if err != nil {
		return err
	}

	switch state.Status {
	case broker.StatusFilled, broker.StatusPartiallyFilled:
		if e.trail != nil {
			e.trail.OrderPolled(p.ID, p.CloseOrderID, string(state.Status), state.FilledQty, state.AvgFillPrice)
		}
		fillPrice := decimal.NewFromFloat(state.AvgFillPrice)
		_, err := e.store.Transition(p.ID, playtypes.StateClosed, func(pl *playtypes.Play) {
			pl.Fills.ClosePrice = &fillPrice
		})
		if err == nil && e.trail != nil {
			e.trail.StateTransition(p.ID, string(playtypes.StatePendingClosing), string(playtypes.StateClosed), p.Fills.CloseReason)
		}
		return err
	case broker.StatusRejected:
		_, err := e.store.Transition(p.ID, playtypes.StateOpen, func(pl *playtypes.Play) {
			pl.CloseOrderID = ""
			pl.LastError = state.Reason
		})
		return err
	default:
		return nil
	}
}

func isRiskDenied(err error, target **errs.RiskDenied) bool {
	if d, ok := err.(*errs.RiskDenied); ok {
		*target = d
		return true
	}
	return false
}

func isBrokerRejected(err error, target **errs.BrokerRejected) bool {
	if d, ok := err.(*errs.BrokerRejected); ok {
		*target = d
		return true
	}
	return false
}

func openOrderParams(p *playtypes.Play, decision evaluator.Decision) (broker.Side, broker.OrderType, *float64) {
	side := broker.Buy
	if p.PositionSide == playtypes.Short {
		side = broker.Sell
	}
	if decision.Order.Market {
		return side, broker.Market, nil
	}
	var lp *float64
	if decision.Order.LimitPrice != nil {
		f, _ := decision.Order.LimitPrice.Float64()
		lp = &f
	}
	return side, broker.Limit, lp
}

func closeOrderParams(p *playtypes.Play, decision evaluator.Decision) (broker.Side, broker.OrderType, *float64) {
	side := broker.Sell
	if p.PositionSide == playtypes.Short {
		side = broker.Buy
	}
	if decision.ExitReason == evaluator.ExitContingencySL || decision.Order.Market {
		return side, broker.Market, nil
	}
	var lp *float64
	if decision.Order.LimitPrice != nil {
		f, _ := decision.Order.LimitPrice.Float64()
		lp = &f
	}
	return side, broker.Limit, lp
}
