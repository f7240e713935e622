// Package risk implements the Risk Gate (C11): pre-trade buying-power and
// notional-leverage checks for short-premium plays.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/optionstrike/engine/internal/broker"
	"github.com/optionstrike/engine/internal/errs"
	"github.com/optionstrike/engine/internal/playtypes"
)

// Limits holds the account-wide risk parameters that gate SHORT entries
// (spec.md §6 per-strategy config: capital allocation %, notional leverage
// ×).
type Limits struct {
	MaxNotionalLeverage   float64 // e.g. 2.0 = 2x account equity
	MaxCapitalAllocation  float64 // e.g. 0.5 = 50% of account equity
}

// OpenShortPosition summarizes one currently-open SHORT play for the
// purpose of aggregate exposure checks.
type OpenShortPosition struct {
	Notional    decimal.Decimal
	BuyingPower decimal.Decimal
}

// Gate evaluates SHORT entries against account state before the executor
// submits STO.
type Gate struct {
	limits Limits
}

// New builds a Gate with the given account-wide limits.
func New(limits Limits) *Gate {
	return &Gate{limits: limits}
}

// Check applies spec.md §4.11's three checks in order and returns the
// first violated reason, or nil if the play may proceed.
func (g *Gate) Check(p *playtypes.Play, account broker.Account, openShorts []OpenShortPosition) error {
	if p.PositionSide != playtypes.Short {
		return nil // only SHORT entries are risk-gated
	}

	required := p.Strike.Mul(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(int64(p.Contracts)))
	requiredF, _ := required.Float64()

	if requiredF > account.OptionsBuyingPower {
		return &errs.RiskDenied{PlayID: p.ID, Reason: fmt.Sprintf(
			"insufficient options buying power: required=%.0f, available=%.0f", requiredF, account.OptionsBuyingPower)}
	}

	var totalNotional, totalBP decimal.Decimal
	for _, o := range openShorts {
		totalNotional = totalNotional.Add(o.Notional)
		totalBP = totalBP.Add(o.BuyingPower)
	}

	maxNotional := account.Equity * g.limits.MaxNotionalLeverage
	projectedNotional, _ := totalNotional.Add(required).Float64()
	if projectedNotional > maxNotional {
		return &errs.RiskDenied{PlayID: p.ID, Reason: fmt.Sprintf(
			"notional leverage exceeded: projected=%.0f, max=%.0f (%.1fx equity %.0f)",
			projectedNotional, maxNotional, g.limits.MaxNotionalLeverage, account.Equity)}
	}

	maxAllocation := account.Equity * g.limits.MaxCapitalAllocation
	projectedBP, _ := totalBP.Add(required).Float64()
	if projectedBP > maxAllocation {
		return &errs.RiskDenied{PlayID: p.ID, Reason: fmt.Sprintf(
			"capital allocation exceeded: projected=%.0f, max=%.0f (%.1f%% of equity %.0f)",
			projectedBP, maxAllocation, g.limits.MaxCapitalAllocation*100, account.Equity)}
	}

	return nil
}
