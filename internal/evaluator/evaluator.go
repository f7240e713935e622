// Package evaluator implements the Condition Evaluator (C5): given a play
// and current market data, decides which of {entry, TP, SL, contingency-SL,
// expiration} fires.
package evaluator

import (
	"github.com/shopspring/decimal"

	"github.com/optionstrike/engine/internal/clock"
	"github.com/optionstrike/engine/internal/marketdata"
	"github.com/optionstrike/engine/internal/playtypes"
)

// ExitReason names which exit trigger fired.
type ExitReason string

const (
	ExitOptionExpired  ExitReason = "OptionExpired"
	ExitContingencySL  ExitReason = "ContingencySL"
	ExitSL             ExitReason = "SL"
	ExitTP             ExitReason = "TP"
)

// Kind discriminates the Decision union.
type Kind int

const (
	Wait Kind = iota
	EnterNow
	ExitNowKind
)

// OrderSpec is the concrete order the executor should submit if a decision
// requires one.
type OrderSpec struct {
	OrderType  playtypes.OrderTypePolicy
	LimitPrice *decimal.Decimal
	Market     bool
}

// Decision is the evaluator's return value: exactly one of Wait,
// EnterNow(OrderSpec), or ExitNow(reason, OrderSpec).
type Decision struct {
	Kind      Kind
	Order     OrderSpec
	ExitReason ExitReason
}

// Snapshot bundles the inputs a single evaluation needs.
type Snapshot struct {
	Play         *playtypes.Play
	StockQuote   marketdata.StockQuote
	OptionQuote  marketdata.OptionQuote
	Clock        clock.Clock
}

// Evaluate returns the decision for one play given one data snapshot.
// Ordering is fixed: OptionExpired -> ContingencySL -> SL -> TP; the first
// hit wins and an evaluation cycle never fires more than one decision.
func Evaluate(s Snapshot) Decision {
	p := s.Play

	switch p.State {
	case playtypes.StateNew:
		return evaluateEntry(s)
	case playtypes.StateOpen:
		return evaluateExit(s)
	default:
		return Decision{Kind: Wait}
	}
}

func evaluateEntry(s Snapshot) Decision {
	p := s.Play

	if !s.Clock.IsPrimarySession() {
		return Decision{Kind: Wait}
	}
	today := s.Clock.Now()
	if isAfterDate(today, p.Expiration) {
		return Decision{Kind: Wait}
	}

	ref := referencePrice(p.Entry.PriceReference, s.StockQuote)
	target := p.Entry.TargetStockPrice
	buffer := p.Entry.Buffer
	lo := target.Sub(buffer)
	hi := target.Add(buffer)
	refDec := decimal.NewFromFloat(ref)

	// Inclusive at target +/- buffer (spec.md §8 boundary behavior).
	if refDec.LessThan(lo) || refDec.GreaterThan(hi) {
		return Decision{Kind: Wait}
	}

	return Decision{Kind: EnterNow, Order: resolveOrder(p.Entry.OrderType, s.OptionQuote)}
}

func evaluateExit(s Snapshot) Decision {
	p := s.Play
	today := s.Clock.Now()

	// 1. OptionExpired: today == expiration date and position not closed.
	if isSameDate(today, p.Expiration) {
		return Decision{Kind: ExitNowKind, ExitReason: ExitOptionExpired, Order: OrderSpec{Market: true}}
	}

	// 2. ContingencySL
	if p.SL.Mode == playtypes.SLContingency && p.SL.ContingencyPrice != nil {
		if contingencyFires(p, s.StockQuote) {
			return Decision{Kind: ExitNowKind, ExitReason: ExitContingencySL, Order: OrderSpec{Market: true}}
		}
	}

	// 3. SL
	if slFires(p, s.StockQuote, s.OptionQuote) {
		return Decision{Kind: ExitNowKind, ExitReason: ExitSL, Order: resolveExitOrder(p, false, s.OptionQuote)}
	}

	// 4. TP
	if tpFires(p, s.StockQuote, s.OptionQuote) {
		return Decision{Kind: ExitNowKind, ExitReason: ExitTP, Order: resolveExitOrder(p, true, s.OptionQuote)}
	}

	return Decision{Kind: Wait}
}

