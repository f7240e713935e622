// Package trailing implements the Trailing Manager (C9): dynamic TP/SL
// level updates for plays flagged trailing. It runs inside
// evaluate_open_plays before the Condition Evaluator on every cycle.
package trailing

import (
	"github.com/shopspring/decimal"

	"github.com/optionstrike/engine/internal/audit"
	"github.com/optionstrike/engine/internal/logging"
	"github.com/optionstrike/engine/internal/marketdata"
	"github.com/optionstrike/engine/internal/playtypes"
)

var log = logging.For("trailing")

// Manager updates trail peaks/levels for trailing-enabled plays.
type Manager struct {
	gateway *marketdata.Gateway
	trail   *audit.Trail
}

// New builds a trailing Manager.
func New(gateway *marketdata.Gateway, trail *audit.Trail) *Manager {
	return &Manager{gateway: gateway, trail: trail}
}

// Update runs the six-step trailing algorithm from spec.md §4.9 against one
// play, mutating it in place. It returns true if the stored trail level
// changed (so the caller knows to persist the play before evaluation).
func (m *Manager) Update(p *playtypes.Play, stock marketdata.StockQuote, opt marketdata.OptionQuote) bool {
	cfg := p.TrailConfigured()
	if cfg == nil {
		return false
	}

	basis := cfg.Basis
	if basis == "" {
		basis = playtypes.TrailBasisStockPrice
	}

	// SPEC_FULL.md §9: premium-based trailing is accepted in the schema but
	// intentionally left unwired for LONG plays, matching the original's
	// "documented but not wired end-to-end" behavior.
	if basis == playtypes.TrailBasisPremium {
		log.Warnf("play %s configured with premium trail basis, which is not wired; skipping activation", p.ID)
		return false
	}

	favorableUp := isFavorableUp(p)
	current := decimal.NewFromFloat(stock.Last)

	if p.TrailPeak == nil {
		p.TrailPeak = &current
	} else if isMoreFavorable(current, *p.TrailPeak, favorableUp) {
		p.TrailPeak = &current
	}
	peak := *p.TrailPeak

	if p.EntryPrice == nil {
		return false
	}
	if !activationCrossed(p, *p.EntryPrice, current, favorableUp, cfg.ActivationPct) {
		return false
	}

	proposed := computeLevel(peak, cfg, favorableUp)

	if p.TrailLevel != nil {
		// Ratchet only: never move the trail away from the peak.
		if isMoreFavorable(*p.TrailLevel, proposed, favorableUp) {
			proposed = *p.TrailLevel
		}
		if proposed.Sub(*p.TrailLevel).Abs().LessThan(cfg.MinLockTick) {
			return false
		}
	}

	p.TrailLevel = &proposed
	if p.TP.Mode == playtypes.TPTrailing {
		p.TP.StockPrice = &proposed
	}
	if p.SL.Mode == playtypes.SLTrailing {
		p.SL.StockPrice = &proposed
	}
	p.TrailHistory = append(p.TrailHistory, playtypes.TrailHistoryEntry{At: stock.Timestamp, Peak: peak, Level: proposed})

	peakF, _ := peak.Float64()
	levelF, _ := proposed.Float64()
	if m.trail != nil {
		m.trail.TrailUpdated(p.ID, peakF, levelF)
	}
	return true
}

// isFavorableUp reports whether "more favorable" means a higher stock
// price for this play (LONG CALL, SHORT PUT) as opposed to lower (LONG
// PUT, SHORT CALL).
func isFavorableUp(p *playtypes.Play) bool {
	if p.PositionSide == playtypes.Long {
		return p.Side == playtypes.Call
	}
	// SHORT: favorable direction is away from the strike toward worthless.
	return p.Side == playtypes.Put
}

func isMoreFavorable(candidate, baseline decimal.Decimal, up bool) bool {
	if up {
		return candidate.GreaterThan(baseline)
	}
	return candidate.LessThan(baseline)
}

func activationCrossed(p *playtypes.Play, entry, current decimal.Decimal, up bool, activationPct float64) bool {
	if activationPct <= 0 {
		return true
	}
	threshold := decimal.NewFromFloat(activationPct)
	move := current.Sub(entry).Div(entry).Abs()
	return move.GreaterThanOrEqual(threshold) && isMoreFavorable(current, entry, up)
}

func computeLevel(peak decimal.Decimal, cfg *playtypes.TrailConfig, up bool) decimal.Decimal {
	var delta decimal.Decimal
	switch cfg.Type {
	case playtypes.TrailPercent:
		delta = peak.Mul(decimal.NewFromFloat(cfg.PercentTrail))
	case playtypes.TrailFixed:
		delta = cfg.FixedAmount
	case playtypes.TrailATR:
		// ATR is precomputed by the caller into FixedAmount via
		// WithATR before Update is invoked; falling back to FixedAmount
		// here keeps this function pure (no gateway dependency).
		delta = cfg.FixedAmount
	}
	if up {
		return peak.Sub(delta)
	}
	return peak.Add(delta)
}

// WithATR resolves an ATR-type trail config's FixedAmount field from
// historical candles fetched via C1, per spec.md §4.9 step 4's ATR branch.
// Called by the strategy runner before each Update of an ATR trail, since ATR
// computation needs a gateway round-trip Update itself does not make.
func WithATR(cfg *playtypes.TrailConfig, candles []marketdata.Candle, multiplier float64) {
	if cfg.Type != playtypes.TrailATR || len(candles) == 0 {
		return
	}
	atr := averageTrueRange(candles, cfg.ATRPeriod)
	cfg.FixedAmount = decimal.NewFromFloat(atr * multiplier)
}

func averageTrueRange(candles []marketdata.Candle, period int) float64 {
	if period <= 0 || period > len(candles) {
		period = len(candles)
	}
	if period < 2 {
		return 0
	}
	recent := candles[len(candles)-period:]
	var sum float64
	for i := 1; i < len(recent); i++ {
		h, l, pc := recent[i].High, recent[i].Low, recent[i-1].Close
		tr := max3(h-l, abs(h-pc), abs(l-pc))
		sum += tr
	}
	return sum / float64(len(recent)-1)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
