package strategy

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optionstrike/engine/internal/executor"
	"github.com/optionstrike/engine/internal/marketdata"
	"github.com/optionstrike/engine/internal/playtypes"
)

// ShortPutsConfig is the strategy-specific parameter block for the
// cash-secured short-puts built-in variant (spec.md §4.7).
type ShortPutsConfig struct {
	Symbol        string
	DTEMin        int
	DTEMax        int
	TargetDelta   float64
	IVRankMin     float64
	RollDTE       int
	ProfitTargetPct float64
	Contracts     int
}

// ShortPuts scans one chain expiration (at the midpoint of the DTE range) for
// the out-of-the-money put whose |delta| is nearest the target, creates STO
// plays, and manages rolls at <= 21 DTE (spec.md §8 Scenario B). IV rank is
// not checked; the IVRankMin setting has no effect.
type ShortPuts struct {
	tag     string
	enabled bool
	cfg     ShortPutsConfig
	deps    Deps
}

// NewShortPuts builds the short-puts runner from a decoded config block.
func NewShortPuts(deps Deps, raw map[string]interface{}) (Runner, error) {
	tag, _ := raw["tag"].(string)
	if tag == "" {
		tag = "short_puts"
	}
	enabled := true
	if v, ok := raw["enabled"].(bool); ok {
		enabled = v
	}
	cfg := ShortPutsConfig{
		Symbol:          getString(raw, "symbol", "SPY"),
		DTEMin:          getInt(raw, "dte_min", 35),
		DTEMax:          getInt(raw, "dte_max", 49),
		TargetDelta:     getFloat(raw, "target_delta", 0.30),
		IVRankMin:       getFloat(raw, "iv_rank_min", 30),
		RollDTE:         getInt(raw, "roll_dte", 21),
		ProfitTargetPct: getFloat(raw, "profit_target_pct", 0.5),
		Contracts:       getInt(raw, "contracts", 1),
	}
	return &ShortPuts{tag: tag, enabled: enabled, cfg: cfg, deps: deps}, nil
}

func (r *ShortPuts) Name() string  { return r.tag }
func (r *ShortPuts) Enabled() bool { return r.enabled }

func (r *ShortPuts) OnCycleStart(ctx context.Context) error { return nil }
func (r *ShortPuts) OnCycleEnd(ctx context.Context) error   { return nil }

// EvaluateNewPlays scans the chain for a candidate strike and opens a new
// STO play when none is currently owned by this tag.
func (r *ShortPuts) EvaluateNewPlays(ctx context.Context) error {
	existing, err := playsForTag(r.deps.Store, playtypes.StateNew, r.tag)
	if err != nil {
		return err
	}
	openPlays, err := playsForTag(r.deps.Store, playtypes.StateOpen, r.tag)
	if err != nil {
		return err
	}
	if len(existing) > 0 || len(openPlays) > 0 {
		// One position at a time per tag; avoid piling up duplicate scans.
		return evaluateNewGeneric(ctx, r.deps, r.tag)
	}

	contract, err := r.scanChain(ctx)
	if err != nil {
		log.Warnf("short_puts: chain scan for %s: %v", r.cfg.Symbol, err)
		return nil
	}
	if contract == nil {
		return nil // no candidate met criteria this cycle
	}

	exp, err := time.Parse("2006-01-02", contract.ExpirationDate)
	if err != nil {
		return err
	}
	p := &playtypes.Play{
		ID:           uuid.NewString(),
		Name:         "short-put-" + r.cfg.Symbol,
		CreatedAt:    time.Now(),
		StrategyTag:  r.tag,
		Creator:      "short_puts",
		Symbol:       r.cfg.Symbol,
		OCCSymbol:    contract.OCCSymbol,
		Side:         playtypes.Put,
		Strike:       decimal.NewFromFloat(contract.Strike),
		Expiration:   exp,
		OrderAction:  playtypes.STO,
		PositionSide: playtypes.Short,
		Contracts:    r.cfg.Contracts,
		State:        playtypes.StateNew,
		Entry: playtypes.EntrySpec{
			TargetStockPrice: decimal.NewFromFloat(contract.Strike),
			PriceReference:   playtypes.RefLast,
			Buffer:           decimal.NewFromFloat(1000), // chain-scan entries fire on availability, not a stock-price band
			OrderType:        playtypes.OrderLimitBid,
		},
		TP: playtypes.TPSpec{Mode: playtypes.TPSingle, PremiumPct: &r.cfg.ProfitTargetPct},
		SL: playtypes.SLSpec{Mode: playtypes.SLStop, PremiumPct: floatPtr(2.0)},
	}
	playtypes.Normalize(p)
	if err := playtypes.Validate(p); err != nil {
		return err
	}
	return r.deps.Store.Save(p)
}

func (r *ShortPuts) scanChain(ctx context.Context) (*marketdata.OptionContract, error) {
	stock, err := r.deps.Gateway.GetStockQuote(ctx, r.cfg.Symbol)
	if err != nil {
		return nil, err
	}
	targetExp := r.deps.Clock.Now().AddDate(0, 0, (r.cfg.DTEMin+r.cfg.DTEMax)/2).Format("2006-01-02")
	chain, err := r.deps.Gateway.GetOptionChain(ctx, r.cfg.Symbol, targetExp)
	if err != nil {
		return nil, err
	}

	var best *marketdata.OptionContract
	bestDeltaDist := math.MaxFloat64
	for i := range chain.Contracts {
		c := &chain.Contracts[i]
		if c.OptionType != "put" {
			continue
		}
		if c.Strike >= stock.Last {
			continue // cash-secured puts are sold below spot
		}
		if c.Greeks == nil {
			continue
		}
		dist := math.Abs(math.Abs(c.Greeks.Delta) - r.cfg.TargetDelta)
		if dist < bestDeltaDist {
			bestDeltaDist = dist
			best = c
		}
	}
	return best, nil
}

func (r *ShortPuts) EvaluateOpenPlays(ctx context.Context) error {
	plays, err := playsForTag(r.deps.Store, playtypes.StateOpen, r.tag)
	if err != nil {
		return err
	}
	for _, p := range plays {
		dte := r.deps.Clock.DaysToExpiration(p.Expiration)
		if dte <= r.cfg.RollDTE && p.CloseOrderID == "" {
			if err := r.tryRoll(ctx, p); err != nil {
				log.Errorf("short_puts: rolling play %s: %v", p.ID, err)
			}
			continue
		}
		if err := evaluateOneOpenGeneric(ctx, r.deps, p); err != nil {
			log.Errorf("short_puts: evaluating open play %s: %v", p.ID, err)
		}
	}
	return evaluatePendingGeneric(ctx, r.deps, r.tag)
}

func (r *ShortPuts) tryRoll(ctx context.Context, p *playtypes.Play) error {
	contract, err := r.scanChain(ctx)
	if err != nil || contract == nil {
		return err
	}
	exp, err := time.Parse("2006-01-02", contract.ExpirationDate)
	if err != nil {
		return err
	}
	return r.deps.Executor.Roll(ctx, p, executor.RollTarget{
		OCCSymbol:  contract.OCCSymbol,
		Expiration: exp,
		Strike:     decimal.NewFromFloat(contract.Strike),
	})
}

func floatPtr(f float64) *float64 { return &f }

func getString(m map[string]interface{}, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func getInt(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func getFloat(m map[string]interface{}, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
