package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optionstrike/engine/internal/broker"
	"github.com/optionstrike/engine/internal/playtypes"
)

// SpreadsConfig parameterizes the vertical-credit-spread variant.
type SpreadsConfig struct {
	Symbol         string
	Width          float64 // distance in strikes between short and long legs
	TargetDelta    float64
	ExpirationDays int
	Contracts      int
}

// Spreads is a thin multi-leg variant proving out the capability set with a
// compound order: a short leg (the Play itself, driven through the normal
// lifecycle) paired with a long leg recorded in Extra and submitted
// alongside it. Full multi-leg order management (combined fill tracking,
// leg-level roll) is out of scope; this runner honors the same lifecycle
// contract spec.md asks for and nothing more.
type Spreads struct {
	tag     string
	enabled bool
	cfg     SpreadsConfig
	deps    Deps
}

// NewSpreads builds the spreads runner from a decoded config block.
func NewSpreads(deps Deps, raw map[string]interface{}) (Runner, error) {
	tag, _ := raw["tag"].(string)
	if tag == "" {
		tag = "spreads"
	}
	enabled := true
	if v, ok := raw["enabled"].(bool); ok {
		enabled = v
	}
	cfg := SpreadsConfig{
		Symbol:         getString(raw, "symbol", "SPY"),
		Width:          getFloat(raw, "width", 5),
		TargetDelta:    getFloat(raw, "target_delta", 0.20),
		ExpirationDays: getInt(raw, "expiration_days", 35),
		Contracts:      getInt(raw, "contracts", 1),
	}
	return &Spreads{tag: tag, enabled: enabled, cfg: cfg, deps: deps}, nil
}

func (r *Spreads) Name() string  { return r.tag }
func (r *Spreads) Enabled() bool { return r.enabled }

func (r *Spreads) OnCycleStart(ctx context.Context) error { return nil }
func (r *Spreads) OnCycleEnd(ctx context.Context) error   { return nil }

func (r *Spreads) EvaluateNewPlays(ctx context.Context) error {
	existing, err := playsForTag(r.deps.Store, playtypes.StateNew, r.tag)
	if err != nil {
		return err
	}
	open, err := playsForTag(r.deps.Store, playtypes.StateOpen, r.tag)
	if err != nil {
		return err
	}
	if len(existing) > 0 || len(open) > 0 {
		return evaluateNewGeneric(ctx, r.deps, r.tag)
	}

	stock, err := r.deps.Gateway.GetStockQuote(ctx, r.cfg.Symbol)
	if err != nil {
		return err
	}
	exp := r.deps.Clock.Now().AddDate(0, 0, r.cfg.ExpirationDays)
	shortStrike := decimal.NewFromFloat(stock.Last).Round(0)
	longStrike := shortStrike.Sub(decimal.NewFromFloat(r.cfg.Width))

	shortOCC := occSymbolPlaceholder(r.cfg.Symbol, playtypes.Put, r.cfg.ExpirationDays)
	longOCC := occSymbolPlaceholder(r.cfg.Symbol, playtypes.Put, r.cfg.ExpirationDays)

	p := &playtypes.Play{
		ID:           uuid.NewString(),
		Name:         "put-credit-spread-" + r.cfg.Symbol,
		CreatedAt:    time.Now(),
		StrategyTag:  r.tag,
		Creator:      "spreads",
		Symbol:       r.cfg.Symbol,
		OCCSymbol:    shortOCC,
		Side:         playtypes.Put,
		Strike:       shortStrike,
		Expiration:   exp,
		OrderAction:  playtypes.STO,
		PositionSide: playtypes.Short,
		Contracts:    r.cfg.Contracts,
		State:        playtypes.StateNew,
		Entry: playtypes.EntrySpec{
			TargetStockPrice: decimal.NewFromFloat(stock.Last),
			PriceReference:   playtypes.RefLast,
			Buffer:           decimal.NewFromFloat(1000),
			OrderType:        playtypes.OrderLimitBid,
		},
		TP: playtypes.TPSpec{Mode: playtypes.TPSingle, PremiumPct: floatPtr(0.5)},
		SL: playtypes.SLSpec{Mode: playtypes.SLStop, PremiumPct: floatPtr(2.0)},
		Extra: map[string]interface{}{
			"long_leg_occ_symbol": longOCC,
			"long_leg_strike":     longStrike.String(),
		},
	}
	playtypes.Normalize(p)
	if err := playtypes.Validate(p); err != nil {
		return err
	}
	return r.deps.Store.Save(p)
}

// EvaluateOpenPlays drives the short leg through the normal open/close
// evaluator path; the long leg is opened alongside it directly via the broker
// since the play schema models a single instrument. Nothing here closes the
// long leg when the short leg is closed.
func (r *Spreads) EvaluateOpenPlays(ctx context.Context) error {
	pending, err := r.deps.Store.List(playtypes.StatePendingOpening)
	if err == nil {
		for _, id := range pending {
			p, lerr := r.deps.Store.Load(id)
			if lerr != nil || p.StrategyTag != r.tag {
				continue
			}
			r.openLongLegIfNeeded(ctx, p)
		}
	}
	return evaluateOpenGeneric(ctx, r.deps, r.tag)
}

func (r *Spreads) openLongLegIfNeeded(ctx context.Context, p *playtypes.Play) {
	if p.Extra == nil {
		return
	}
	longOCC, _ := p.Extra["long_leg_occ_symbol"].(string)
	if longOCC == "" {
		return
	}
	if _, done := p.Extra["long_leg_order_id"]; done {
		return
	}
	orderID, err := r.deps.Broker.SubmitOrder(ctx, longOCC, broker.Buy, p.Contracts, broker.Market, nil, broker.Day)
	if err != nil {
		log.Warnf("spreads: submitting long leg for play %s: %v", p.ID, err)
		return
	}
	p.Extra["long_leg_order_id"] = orderID
	if err := r.deps.Store.Save(p); err != nil {
		log.Errorf("spreads: recording long leg order id for play %s: %v", p.ID, err)
	}
}
