package evaluator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionstrike/engine/internal/marketdata"
	"github.com/optionstrike/engine/internal/playtypes"
)

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func isSameDate(a, b time.Time) bool {
	return dateOnly(a).Equal(dateOnly(b))
}

// isAfterDate reports whether now's calendar date is strictly after
// expiration's calendar date (exchange-local, per spec.md's DTE rule).
func isAfterDate(now, expiration time.Time) bool {
	return dateOnly(now).After(dateOnly(expiration))
}

func referencePrice(ref playtypes.PriceReference, q marketdata.StockQuote) float64 {
	switch ref {
	case playtypes.RefBid:
		return q.Bid
	case playtypes.RefAsk:
		return q.Ask
	case playtypes.RefMid:
		return q.Mid()
	default:
		return q.Last
	}
}

func resolveOrder(policy playtypes.OrderTypePolicy, q marketdata.OptionQuote) OrderSpec {
	switch policy {
	case playtypes.OrderMarket:
		return OrderSpec{Market: true}
	case playtypes.OrderLimitBid:
		p := decimal.NewFromFloat(q.Bid)
		return OrderSpec{OrderType: policy, LimitPrice: &p}
	case playtypes.OrderLimitAsk:
		p := decimal.NewFromFloat(q.Ask)
		return OrderSpec{OrderType: policy, LimitPrice: &p}
	case playtypes.OrderLimitMid:
		p := decimal.NewFromFloat(q.Mid())
		return OrderSpec{OrderType: policy, LimitPrice: &p}
	default:
		p := decimal.NewFromFloat(q.Last)
		return OrderSpec{OrderType: policy, LimitPrice: &p}
	}
}

// resolveExitOrder prices the close order: TP legs cross at the favorable
// side (bid for a sale, ask for a buyback); contingency SL is handled
// separately as an always-market order by the caller.
func resolveExitOrder(p *playtypes.Play, isTP bool, q marketdata.OptionQuote) OrderSpec {
	closesLong := p.PositionSide == playtypes.Long // STC: sell at bid
	var price float64
	switch {
	case closesLong:
		price = q.Bid
	default:
		price = q.Ask
	}
	d := decimal.NewFromFloat(price)
	return OrderSpec{LimitPrice: &d}
}

// contingencyFires checks the looser stock-price contingency trigger
// against the configured reference side, using the same four-way
// (Side, PositionSide) direction logic as slFires/tpFires.
func contingencyFires(p *playtypes.Play, q marketdata.StockQuote) bool {
	if p.SL.ContingencyPrice == nil {
		return false
	}
	last := contingencyReferencePrice(p.SL.ContingencyReference, q)
	lastDec := decimal.NewFromFloat(last)
	level := *p.SL.ContingencyPrice
	if isLongCall(p) {
		return lastDec.LessThanOrEqual(level)
	}
	if isLongPut(p) {
		return lastDec.GreaterThanOrEqual(level)
	}
	if p.Side == playtypes.Put {
		return lastDec.LessThanOrEqual(level)
	}
	return lastDec.GreaterThanOrEqual(level)
}

func contingencyReferencePrice(ref playtypes.ContingencyReference, q marketdata.StockQuote) float64 {
	switch ref {
	case playtypes.ContingencyBid:
		return q.Bid
	case playtypes.ContingencyAsk:
		return q.Ask
	default:
		return q.Last
	}
}

// slFires evaluates stock-price and premium stop-loss triggers per
// spec.md §4.5. Trailing SL levels are pre-computed by the Trailing
// Manager into p.TrailLevel before the evaluator runs, so a TRAILING mode
// SL is checked exactly like a STOP mode SL once the level exists.
func slFires(p *playtypes.Play, stock marketdata.StockQuote, opt marketdata.OptionQuote) bool {
	level := p.SL.StockPrice
	if p.SL.Mode == playtypes.SLTrailing {
		level = p.TrailLevel
	}
	if level != nil {
		last := decimal.NewFromFloat(stock.Last)
		if isLongCall(p) {
			if last.LessThanOrEqual(*level) {
				return true
			}
		} else if isLongPut(p) {
			if last.GreaterThanOrEqual(*level) {
				return true
			}
		} else {
			// SHORT: favorable direction is away from the strike toward
			// worthless; SL fires when price moves unfavorably toward/
			// through the strike beyond the configured level.
			if p.Side == playtypes.Put {
				if last.LessThanOrEqual(*level) {
					return true
				}
			} else if last.GreaterThanOrEqual(*level) {
				return true
			}
		}
	}

	if p.SL.Premium != nil {
		target := *p.SL.Premium
		if p.PositionSide == playtypes.Long {
			// LONG: SL fires when ask falls to/below the target (the
			// conservative side — we need to be able to sell at SL).
			if decimal.NewFromFloat(opt.Ask).LessThanOrEqual(target) {
				return true
			}
		} else {
			// SHORT: SL fires when bid rises to/above the target (cost
			// to buy back has risen past our tolerance).
			if decimal.NewFromFloat(opt.Bid).GreaterThanOrEqual(target) {
				return true
			}
		}
	}

	if p.SL.PremiumPct != nil && p.EntryPrice != nil {
		target := absoluteFromPct(*p.EntryPrice, *p.SL.PremiumPct, p.PositionSide, false)
		if p.PositionSide == playtypes.Long {
			if decimal.NewFromFloat(opt.Ask).LessThanOrEqual(target) {
				return true
			}
		} else if decimal.NewFromFloat(opt.Bid).GreaterThanOrEqual(target) {
			return true
		}
	}

	return false
}

func tpFires(p *playtypes.Play, stock marketdata.StockQuote, opt marketdata.OptionQuote) bool {
	level := p.TP.StockPrice
	if p.TP.Mode == playtypes.TPTrailing {
		level = p.TrailLevel
	}
	if level != nil {
		last := decimal.NewFromFloat(stock.Last)
		if isLongCall(p) {
			if last.GreaterThanOrEqual(*level) {
				return true
			}
		} else if isLongPut(p) {
			if last.LessThanOrEqual(*level) {
				return true
			}
		} else {
			if p.Side == playtypes.Put {
				if last.GreaterThanOrEqual(*level) {
					return true
				}
			} else if last.LessThanOrEqual(*level) {
				return true
			}
		}
	}

	if p.TP.Premium != nil {
		target := *p.TP.Premium
		if p.PositionSide == playtypes.Long {
			// LONG: TP when bid rises to/above target (we can sell there).
			if decimal.NewFromFloat(opt.Bid).GreaterThanOrEqual(target) {
				return true
			}
		} else {
			// SHORT: TP when ask falls to/below target (cheap buyback).
			if decimal.NewFromFloat(opt.Ask).LessThanOrEqual(target) {
				return true
			}
		}
	}

	if p.TP.PremiumPct != nil && p.EntryPrice != nil {
		target := absoluteFromPct(*p.EntryPrice, *p.TP.PremiumPct, p.PositionSide, true)
		if p.PositionSide == playtypes.Long {
			if decimal.NewFromFloat(opt.Bid).GreaterThanOrEqual(target) {
				return true
			}
		} else if decimal.NewFromFloat(opt.Ask).LessThanOrEqual(target) {
			return true
		}
	}

	return false
}

// absoluteFromPct converts a premium-%-move trigger to an absolute target
// using the stored entry premium/credit, per spec.md §4.5.
func absoluteFromPct(entry decimal.Decimal, pct float64, side playtypes.PositionSide, isTP bool) decimal.Decimal {
	move := entry.Mul(decimal.NewFromFloat(pct))
	favorable := (side == playtypes.Long) == isTP
	if favorable {
		return entry.Add(move)
	}
	return entry.Sub(move)
}

func isLongCall(p *playtypes.Play) bool {
	return p.PositionSide == playtypes.Long && p.Side == playtypes.Call
}

func isLongPut(p *playtypes.Play) bool {
	return p.PositionSide == playtypes.Long && p.Side == playtypes.Put
}
