package strategy

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/optionstrike/engine/internal/playtypes"
)

// MomentumPlaybookEntry is one gap/momentum rule read from the strategy's
// YAML playbook (spec.md §4.7: "reads a YAML playbook of gap/momentum
// criteria, instantiates plays at cycle start").
type MomentumPlaybookEntry struct {
	Symbol       string  `yaml:"symbol"`
	Side         string  `yaml:"side"` // CALL | PUT
	GapPct       float64 `yaml:"gap_pct"`
	EntryBuffer  float64 `yaml:"entry_buffer"`
	TPPremium    float64 `yaml:"tp_premium"`
	SLPremium    float64 `yaml:"sl_premium"`
	Contracts    int     `yaml:"contracts"`
	ExpirationDays int   `yaml:"expiration_days"`
}

// Momentum is the "momentum" built-in variant.
type Momentum struct {
	tag          string
	enabled      bool
	playbookPath string
	deps         Deps
}

// NewMomentum builds the momentum runner. cfg must carry "playbook_path".
func NewMomentum(deps Deps, cfg map[string]interface{}) (Runner, error) {
	tag, _ := cfg["tag"].(string)
	if tag == "" {
		tag = "momentum"
	}
	enabled := true
	if v, ok := cfg["enabled"].(bool); ok {
		enabled = v
	}
	path, _ := cfg["playbook_path"].(string)
	return &Momentum{tag: tag, enabled: enabled, playbookPath: path, deps: deps}, nil
}

func (r *Momentum) Name() string  { return r.tag }
func (r *Momentum) Enabled() bool { return r.enabled }

// OnCycleStart reloads the playbook once per tick, per spec.md §4.7.
func (r *Momentum) OnCycleStart(ctx context.Context) error {
	if r.playbookPath == "" {
		return nil
	}
	entries, err := loadPlaybook(r.playbookPath)
	if err != nil {
		log.Warnf("momentum: loading playbook %s: %v", r.playbookPath, err)
		return nil // a bad playbook quarantines nothing; it just pauses entries this cycle
	}
	for _, e := range entries {
		if err := r.instantiate(ctx, e); err != nil {
			log.Errorf("momentum: instantiating play for %s: %v", e.Symbol, err)
		}
	}
	return nil
}

func loadPlaybook(path string) ([]MomentumPlaybookEntry, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's own strategy config, not untrusted input
	if err != nil {
		return nil, err
	}
	var entries []MomentumPlaybookEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Momentum) instantiate(ctx context.Context, e MomentumPlaybookEntry) error {
	stock, err := r.deps.Gateway.GetStockQuote(ctx, e.Symbol)
	if err != nil {
		return err
	}

	side := playtypes.Call
	if e.Side == "PUT" {
		side = playtypes.Put
	}
	contracts := e.Contracts
	if contracts <= 0 {
		contracts = 1
	}
	expDays := e.ExpirationDays
	if expDays <= 0 {
		expDays = 30
	}

	p := &playtypes.Play{
		ID:          uuid.NewString(),
		Name:        "momentum-" + e.Symbol,
		CreatedAt:   time.Now(),
		StrategyTag: r.tag,
		Creator:     "momentum",
		Symbol:      e.Symbol,
		OCCSymbol:   occSymbolPlaceholder(e.Symbol, side, expDays),
		Side:        side,
		Strike:      decimal.NewFromFloat(stock.Last),
		Expiration:  time.Now().AddDate(0, 0, expDays),
		OrderAction: playtypes.BTO,
		PositionSide: playtypes.Long,
		Contracts:   contracts,
		State:       playtypes.StateNew,
		Entry: playtypes.EntrySpec{
			TargetStockPrice: decimal.NewFromFloat(stock.Last),
			PriceReference:   playtypes.RefLast,
			Buffer:           decimal.NewFromFloat(e.EntryBuffer),
			OrderType:        playtypes.OrderLimitAsk,
		},
		TP: playtypes.TPSpec{Mode: playtypes.TPSingle, Premium: decimalPtr(e.TPPremium)},
		SL: playtypes.SLSpec{Mode: playtypes.SLStop, Premium: decimalPtr(e.SLPremium)},
	}
	playtypes.Normalize(p)
	if err := playtypes.Validate(p); err != nil {
		return err
	}
	return r.deps.Store.Save(p)
}

func decimalPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

// occSymbolPlaceholder builds an OCC-shaped symbol for the given side and
// expiration with an all-zero strike field; it does not look up a listed
// contract or pick a strike.
func occSymbolPlaceholder(symbol string, side playtypes.OptionSide, expirationDays int) string {
	letter := "C"
	if side == playtypes.Put {
		letter = "P"
	}
	exp := time.Now().AddDate(0, 0, expirationDays).Format("060102")
	return symbol + exp + letter + "00000000"
}

func (r *Momentum) EvaluateNewPlays(ctx context.Context) error {
	return evaluateNewGeneric(ctx, r.deps, r.tag)
}

func (r *Momentum) EvaluateOpenPlays(ctx context.Context) error {
	return evaluateOpenGeneric(ctx, r.deps, r.tag)
}

func (r *Momentum) OnCycleEnd(ctx context.Context) error { return nil }
