package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionstrike/engine/internal/broker"
	"github.com/optionstrike/engine/internal/playtypes"
)

// RollTarget describes the contract the executor should roll into.
type RollTarget struct {
	OCCSymbol  string
	Expiration time.Time
	Strike     decimal.Decimal
}

// Roll executes spec.md §4.6's atomic roll pair for SHORT plays: submit
// BTC for the current contract, and on fill submit STO for the roll
// target. If BTC fills but STO fails, the play transitions to CLOSED and a
// diagnostic is recorded — no silent retry, matching the "no silent retry"
// rule for rolls specifically.
func (e *Executor) Roll(ctx context.Context, p *playtypes.Play, target RollTarget) error {
	if p.PositionSide != playtypes.Short {
		return &rollError{Reason: "roll is only defined for SHORT plays"}
	}

	if e.dryRun {
		log.Infof("[dry-run] would roll play %s from %s to %s", p.ID, p.OCCSymbol, target.OCCSymbol)
		return nil
	}

	btcID, err := e.brk.SubmitOrder(ctx, p.OCCSymbol, broker.Buy, p.Contracts, broker.Market, nil, broker.Day)
	if err != nil {
		return err
	}
	if e.trail != nil {
		e.trail.OrderSubmitted(p.ID, btcID, "BUY", p.OCCSymbol, p.Contracts)
	}

	btcState, err := pollUntilTerminal(ctx, e.brk, btcID)
	if err != nil {
		return err
	}
	if btcState.Status != broker.StatusFilled {
		log.Warnf("roll BTC for play %s did not fill (status=%s); leaving play OPEN for retry", p.ID, btcState.Status)
		return nil
	}

	stoID, err := e.brk.SubmitOrder(ctx, target.OCCSymbol, broker.Sell, p.Contracts, broker.Market, nil, broker.Day)
	if err != nil {
		// BTC filled but STO failed: close out rather than leave a naked,
		// un-tracked gap. No silent retry.
		log.Errorf("roll STO failed for play %s after BTC filled: %v; closing play", p.ID, err)
		closePrice := decimal.NewFromFloat(btcState.AvgFillPrice)
		_, tErr := e.store.Transition(p.ID, playtypes.StateClosed, func(pl *playtypes.Play) {
			pl.Fills.ClosePrice = &closePrice
			pl.Fills.CloseReason = "roll_sto_failed"
			pl.LastError = err.Error()
		})
		if tErr != nil {
			return tErr
		}
		return nil
	}
	if e.trail != nil {
		e.trail.OrderSubmitted(p.ID, stoID, "SELL", target.OCCSymbol, p.Contracts)
	}

	stoState, err := pollUntilTerminal(ctx, e.brk, stoID)
	if err != nil {
		return err
	}
	if stoState.Status != broker.StatusFilled {
		log.Errorf("roll STO for play %s did not fill (status=%s) after BTC filled; closing play", p.ID, stoState.Status)
		closePrice := decimal.NewFromFloat(btcState.AvgFillPrice)
		_, tErr := e.store.Transition(p.ID, playtypes.StateClosed, func(pl *playtypes.Play) {
			pl.Fills.ClosePrice = &closePrice
			pl.Fills.CloseReason = "roll_sto_unfilled"
		})
		return tErr
	}

	newCredit := decimal.NewFromFloat(stoState.AvgFillPrice)
	creditDelta := newCredit.Sub(*p.EntryPrice)
	_, err = e.store.Roll(p.ID, func(pl *playtypes.Play) {
		if pl.OriginalExpiration == nil {
			orig := pl.Expiration
			pl.OriginalExpiration = &orig
		}
		pl.RollCount++
		pl.RollHistory = append(pl.RollHistory, playtypes.RollRecord{
			FromContract: pl.OCCSymbol,
			ToContract:   target.OCCSymbol,
			CreditDelta:  creditDelta,
			RolledAt:     btcState.pollTime(),
			RollCount:    pl.RollCount,
		})
		pl.OCCSymbol = target.OCCSymbol
		pl.Expiration = target.Expiration
		pl.Strike = target.Strike
		pl.EntryPrice = &newCredit
		pl.OpenOrderID = ""
		pl.CloseOrderID = ""
	})
	return err
}

// pollUntilTerminal polls an order until it reaches a terminal status. Used
// only by the roll sequence, which must observe the BTC fill synchronously
// before deciding whether to submit the STO leg (unlike the normal
// open/close paths, which poll once per cycle).
func pollUntilTerminal(ctx context.Context, b broker.Broker, orderID string) (rollOrderState, error) {
	const maxAttempts = 10
	const pollInterval = 2 * time.Second
	for i := 0; i < maxAttempts; i++ {
		state, err := b.GetOrder(ctx, orderID)
		if err != nil {
			return rollOrderState{}, err
		}
		if isTerminalStatus(state.Status) {
			return rollOrderState{OrderState: state, at: time.Now()}, nil
		}
		select {
		case <-ctx.Done():
			return rollOrderState{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	state, err := b.GetOrder(ctx, orderID)
	if err != nil {
		return rollOrderState{}, err
	}
	return rollOrderState{OrderState: state, at: time.Now()}, nil
}

func isTerminalStatus(s broker.OrderStatus) bool {
	switch s {
	case broker.StatusFilled, broker.StatusCanceled, broker.StatusRejected, broker.StatusExpired:
		return true
	default:
		return false
	}
}

type rollOrderState struct {
	broker.OrderState
	at time.Time
}

func (r rollOrderState) pollTime() time.Time { return r.at }

type rollError struct{ Reason string }

func (e *rollError) Error() string { return e.Reason }
