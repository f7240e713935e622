package playtypes

import (
	"fmt"
	"strings"

	"github.com/optionstrike/engine/internal/errs"
)

// transitions enumerates the permitted state machine edges (spec.md §3).
// The key is the current state; the value set is every state directly
// reachable from it. Rolls are a same-state transition and are not routed
// through Transition (see playstore.Roll).
var transitions = map[State]map[State]bool{
	StateNew:             {StatePendingOpening: true},
	StatePendingOpening:  {StateOpen: true, StateNew: true, StateExpired: true},
	StateOpen:            {StatePendingClosing: true, StateExpired: true},
	StatePendingClosing:  {StateClosed: true, StateOpen: true},
	StateClosed:          {},
	StateExpired:         {},
}

// ValidTransition reports whether from -> to is a permitted edge.
func ValidTransition(from, to State) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Validate checks every invariant spec.md §3 and §4.4 assigns to the
// Play Schema & Validator. It is the single source of truth for field
// presence and value ranges — no other component may accept a malformed
// play (legacy defaulting happens in Normalize, called before Validate).
func Validate(p *Play) error {
	if strings.TrimSpace(p.ID) == "" {
		return &errs.ValidationError{Subject: "play", Reason: "id is required"}
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return &errs.ValidationError{Subject: p.ID, Reason: "symbol is required"}
	}
	if strings.TrimSpace(p.OCCSymbol) == "" {
		return &errs.ValidationError{Subject: p.ID, Reason: "occ_symbol is required"}
	}
	if p.Side != Call && p.Side != Put {
		return &errs.ValidationError{Subject: p.ID, Reason: fmt.Sprintf("unknown option side %q", p.Side)}
	}
	if p.Strike.IsNegative() || p.Strike.IsZero() {
		return &errs.ValidationError{Subject: p.ID, Reason: "strike must be positive"}
	}
	if p.Contracts <= 0 {
		return &errs.ValidationError{Subject: p.ID, Reason: "contracts must be a positive integer"}
	}

	if err := validatePositionAgreement(p); err != nil {
		return err
	}
	if err := validateOCCConsistency(p); err != nil {
		return err
	}
	if err := validateTPSLModes(p); err != nil {
		return err
	}
	if err := validatePremiumTargets(p); err != nil {
		return err
	}
	if err := validateContingency(p); err != nil {
		return err
	}
	if !stateKnown(p.State) {
		return &errs.ValidationError{Subject: p.ID, Reason: fmt.Sprintf("unknown state %q", p.State)}
	}
	if p.State == StateOpen && p.EntryPrice == nil {
		return &errs.IntegrityError{PlayID: p.ID, Reason: "OPEN play has no filled entry price/credit"}
	}
	if (p.State == StatePendingOpening || p.State == StatePendingClosing) && p.OpenOrderID == "" && p.CloseOrderID == "" {
		return &errs.IntegrityError{PlayID: p.ID, Reason: "PENDING_* play has no recorded broker order id"}
	}
	return nil
}

func stateKnown(s State) bool {
	for _, known := range AllStates {
		if known == s {
			return true
		}
	}
	return false
}

// validatePositionAgreement enforces LONG <-> BTO/STC and SHORT <-> STO/BTC.
func validatePositionAgreement(p *Play) error {
	switch p.PositionSide {
	case Long:
		if p.OrderAction != BTO && p.OrderAction != STC {
			return &errs.ValidationError{Subject: p.ID, Reason: "LONG position_side requires order_action BTO (open) or STC (close)"}
		}
	case Short:
		if p.OrderAction != STO && p.OrderAction != BTC {
			return &errs.ValidationError{Subject: p.ID, Reason: "SHORT position_side requires order_action STO (open) or BTC (close)"}
		}
	default:
		return &errs.ValidationError{Subject: p.ID, Reason: fmt.Sprintf("unknown position_side %q", p.PositionSide)}
	}
	return nil
}

// validateOCCConsistency is a structural check: the OCC symbol must encode
// the same underlying/side/strike this record declares. It deliberately
// does not try to fully parse the OCC date digits against Expiration here;
// that's the concern of the OCC codec, not the validator.
func validateOCCConsistency(p *Play) error {
	if !strings.HasPrefix(p.OCCSymbol, p.Symbol) {
		return &errs.ValidationError{Subject: p.ID, Reason: "occ_symbol does not start with underlying symbol"}
	}
	wantSide := "C"
	if p.Side == Put {
		wantSide = "P"
	}
	if !strings.Contains(p.OCCSymbol[len(p.Symbol):], wantSide) {
		return &errs.ValidationError{Subject: p.ID, Reason: "occ_symbol side does not match declared option side"}
	}
	return nil
}

func validateTPSLModes(p *Play) error {
	switch p.TP.Mode {
	case TPSingle, TPMultiple, TPTrailing:
	default:
		return &errs.ValidationError{Subject: p.ID, Reason: fmt.Sprintf("unknown tp mode %q", p.TP.Mode)}
	}
	switch p.SL.Mode {
	case SLStop, SLLimit, SLContingency, SLTrailing:
	default:
		return &errs.ValidationError{Subject: p.ID, Reason: fmt.Sprintf("unknown sl mode %q", p.SL.Mode)}
	}
	return nil
}

// validatePremiumTargets enforces P4: SHORT TP premium < entry credit;
// LONG TP premium > entry premium. Only checked once an entry price exists.
func validatePremiumTargets(p *Play) error {
	if p.EntryPrice == nil || p.TP.Premium == nil {
		return nil
	}
	switch p.PositionSide {
	case Short:
		if !p.TP.Premium.LessThan(*p.EntryPrice) {
			return &errs.ValidationError{Subject: p.ID, Reason: "SHORT play tp premium target must be below entry credit"}
		}
	case Long:
		if !p.TP.Premium.GreaterThan(*p.EntryPrice) {
			return &errs.ValidationError{Subject: p.ID, Reason: "LONG play tp premium target must be above entry premium"}
		}
	}
	return nil
}

// validateContingency requires the contingency level to sit strictly
// further from entry than the ordinary SL level, when both are
// stock-price based.
func validateContingency(p *Play) error {
	if p.SL.Mode != SLContingency || p.SL.ContingencyPrice == nil || p.SL.StockPrice == nil {
		return nil
	}
	// unfavorable moves go down for a long call or a short put, up otherwise.
	unfavorableIsDown := (p.PositionSide == Long && p.Side == Call) || (p.PositionSide == Short && p.Side == Put)
	if unfavorableIsDown {
		if !p.SL.ContingencyPrice.LessThan(*p.SL.StockPrice) {
			return &errs.ValidationError{Subject: p.ID, Reason: "contingency SL must be further from entry than ordinary SL"}
		}
		return nil
	}
	if !p.SL.ContingencyPrice.GreaterThan(*p.SL.StockPrice) {
		return &errs.ValidationError{Subject: p.ID, Reason: "contingency SL must be further from entry than ordinary SL"}
	}
	return nil
}

// Normalize applies legacy-record defaults (spec.md §4.4) before Validate
// is called: missing position_side defaults to LONG; a nil trail config
// means trailing is disabled.
func Normalize(p *Play) {
	if p.PositionSide == "" {
		p.PositionSide = Long
	}
	if p.State == "" {
		p.State = StateNew
	}
}
