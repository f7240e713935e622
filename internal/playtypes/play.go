// Package playtypes defines the Play entity, its enumerated fields, and the
// invariants every other component relies on (§3 of the engine spec).
package playtypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is a play's position in the lifecycle state machine.
type State string

const (
	StateNew             State = "NEW"
	StatePendingOpening   State = "PENDING_OPENING"
	StateOpen             State = "OPEN"
	StatePendingClosing    State = "PENDING_CLOSING"
	StateClosed           State = "CLOSED"
	StateExpired          State = "EXPIRED"
)

// Dir is the directory name a state is stored under within the play store root.
func (s State) Dir() string {
	switch s {
	case StateNew:
		return "new"
	case StatePendingOpening:
		return "pending-opening"
	case StateOpen:
		return "open"
	case StatePendingClosing:
		return "pending-closing"
	case StateClosed:
		return "closed"
	case StateExpired:
		return "expired"
	default:
		return ""
	}
}

// Terminal reports whether a state has no outgoing transitions.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateExpired
}

// AllStates enumerates every state directory the store must create.
var AllStates = []State{StateNew, StatePendingOpening, StateOpen, StatePendingClosing, StateClosed, StateExpired}

// OptionSide is CALL or PUT.
type OptionSide string

const (
	Call OptionSide = "CALL"
	Put  OptionSide = "PUT"
)

// OrderAction is the broker-facing intent for a leg.
type OrderAction string

const (
	BTO OrderAction = "BTO"
	STC OrderAction = "STC"
	STO OrderAction = "STO"
	BTC OrderAction = "BTC"
)

// PositionSide is the economic side of the play.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// PriceReference selects which quote field a rule compares against.
type PriceReference string

const (
	RefLast PriceReference = "last"
	RefBid  PriceReference = "bid"
	RefAsk  PriceReference = "ask"
	RefMid  PriceReference = "mid"
)

// OrderTypePolicy selects how the executor prices an order.
type OrderTypePolicy string

const (
	OrderMarket    OrderTypePolicy = "market"
	OrderLimitBid  OrderTypePolicy = "limit@bid"
	OrderLimitAsk  OrderTypePolicy = "limit@ask"
	OrderLimitMid  OrderTypePolicy = "limit@mid"
	OrderLimitLast OrderTypePolicy = "limit@last"
)

// TPMode selects the take-profit evaluation strategy.
type TPMode string

const (
	TPSingle   TPMode = "Single"
	TPMultiple TPMode = "Multiple"
	TPTrailing TPMode = "Trailing"
)

// SLMode selects the stop-loss evaluation strategy.
type SLMode string

const (
	SLStop        SLMode = "STOP"
	SLLimit       SLMode = "LIMIT"
	SLContingency SLMode = "CONTINGENCY"
	SLTrailing    SLMode = "TRAILING"
)

// TrailType selects how a trailing level is computed from the peak.
type TrailType string

const (
	TrailPercent TrailType = "percent"
	TrailATR     TrailType = "atr"
	TrailFixed   TrailType = "fixed"
)

// TrailBasis selects what a trailing level tracks.
type TrailBasis string

const (
	TrailBasisStockPrice TrailBasis = "stock_price"
	TrailBasisPremium    TrailBasis = "premium"
)

// ContingencyReference names which quote field a contingency SL compares
// against — spec.md §9 leaves this implementation-specific and asks
// reimplementers to make it explicit.
type ContingencyReference string

const (
	ContingencyBid  ContingencyReference = "bid"
	ContingencyAsk  ContingencyReference = "ask"
	ContingencyLast ContingencyReference = "last"
)

// TrailConfig describes a trailing TP/SL configuration.
type TrailConfig struct {
	Type               TrailType  `json:"type"`
	Basis              TrailBasis `json:"basis,omitempty"`
	ActivationPct      float64    `json:"activation_pct"`
	PercentTrail       float64    `json:"percent_trail,omitempty"`
	FixedAmount        decimal.Decimal `json:"fixed_amount,omitempty"`
	ATRPeriod          int        `json:"atr_period,omitempty"`
	ATRMultiplier      float64    `json:"atr_multiplier,omitempty"`
	MinLockTick        decimal.Decimal `json:"min_lock_tick"`
}

// EntrySpec describes a play's entry rule.
type EntrySpec struct {
	TargetStockPrice decimal.Decimal `json:"target_stock_price"`
	PriceReference   PriceReference  `json:"price_reference"`
	Buffer           decimal.Decimal `json:"buffer"`
	OrderType        OrderTypePolicy `json:"order_type"`
}

// TPSpec describes a play's take-profit configuration.
type TPSpec struct {
	Mode              TPMode          `json:"mode"`
	StockPrice        *decimal.Decimal `json:"stock_price,omitempty"`
	Premium           *decimal.Decimal `json:"premium,omitempty"`
	PremiumPct        *float64        `json:"premium_pct,omitempty"`
	Trail             *TrailConfig    `json:"trail,omitempty"`
}

// SLSpec describes a play's stop-loss configuration.
type SLSpec struct {
	Mode                 SLMode               `json:"mode"`
	StockPrice           *decimal.Decimal     `json:"stock_price,omitempty"`
	Premium              *decimal.Decimal     `json:"premium,omitempty"`
	PremiumPct           *float64             `json:"premium_pct,omitempty"`
	Trail                *TrailConfig         `json:"trail,omitempty"`
	ContingencyPrice     *decimal.Decimal     `json:"contingency_price,omitempty"`
	ContingencyReference ContingencyReference `json:"contingency_reference,omitempty"`
}

// RollRecord is an immutable append-only entry recording one roll of a
// SHORT play to a new contract/expiration.
type RollRecord struct {
	FromContract string          `json:"from_contract"`
	ToContract   string          `json:"to_contract"`
	CreditDelta  decimal.Decimal `json:"credit_delta"`
	RolledAt     time.Time       `json:"rolled_at"`
	RollCount    int             `json:"roll_count"`
}

// TrailHistoryEntry records one trailing-level update.
type TrailHistoryEntry struct {
	At    time.Time       `json:"at"`
	Peak  decimal.Decimal `json:"peak"`
	Level decimal.Decimal `json:"level"`
}

// Fills records the realized outcome of the play's open/close legs.
type Fills struct {
	OpenFilledAt    *time.Time      `json:"open_filled_at,omitempty"`
	OpenPrice       *decimal.Decimal `json:"open_price,omitempty"` // premium (LONG) or credit (SHORT)
	OpenGreeksDelta *float64        `json:"open_greeks_delta,omitempty"`
	OpenGreeksTheta *float64        `json:"open_greeks_theta,omitempty"`
	CloseFilledAt   *time.Time      `json:"close_filled_at,omitempty"`
	ClosePrice      *decimal.Decimal `json:"close_price,omitempty"`
	CloseReason     string          `json:"close_reason,omitempty"`
}

// Play is the atomic unit of the engine: one declarative trade with entry,
// exit, and lifecycle state.
type Play struct {
	// Identity
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	StrategyTag string   `json:"strategy_tag"`
	Creator    string    `json:"creator"`

	// Instrument
	Symbol     string     `json:"symbol"`
	OCCSymbol  string     `json:"occ_symbol"`
	Side       OptionSide `json:"side"`
	Strike     decimal.Decimal `json:"strike"`
	Expiration time.Time  `json:"expiration"` // date only, exchange-local

	// Intent
	OrderAction  OrderAction  `json:"order_action"`
	PositionSide PositionSide `json:"position_side"`
	Contracts    int          `json:"contracts"`

	// Entry / exit
	Entry EntrySpec `json:"entry"`
	TP    TPSpec    `json:"tp"`
	SL    SLSpec    `json:"sl"`

	// Runtime
	State             State        `json:"state"`
	OpenOrderID       string       `json:"open_order_id,omitempty"`
	CloseOrderID      string       `json:"close_order_id,omitempty"`
	EntryPrice        *decimal.Decimal `json:"entry_price,omitempty"` // premium (LONG) / credit (SHORT)
	TrailPeak         *decimal.Decimal `json:"trail_peak,omitempty"`
	TrailLevel        *decimal.Decimal `json:"trail_level,omitempty"`
	TrailHistory      []TrailHistoryEntry `json:"trail_history,omitempty"`
	RollCount         int          `json:"roll_count"`
	OriginalExpiration *time.Time  `json:"original_expiration,omitempty"`
	RollHistory       []RollRecord `json:"roll_history,omitempty"`

	// Logging record
	Fills Fills `json:"fills"`

	// LastError is a structured note of the most recent non-fatal error
	// encountered acting on this play, surfaced by `status`.
	LastError string `json:"last_error,omitempty"`

	// Extra preserves unknown fields round-trip per §9's tagged-variant
	// schema design note: anything the validator doesn't recognize by name
	// is kept here rather than dropped.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// IsTrailingEnabled reports whether either TP or SL is configured with a
// trailing mode.
func (p *Play) IsTrailingEnabled() bool {
	return p.TP.Mode == TPTrailing || p.SL.Mode == SLTrailing
}

// TrailConfigured returns whichever trail config is active, preferring TP.
func (p *Play) TrailConfigured() *TrailConfig {
	if p.TP.Mode == TPTrailing && p.TP.Trail != nil {
		return p.TP.Trail
	}
	if p.SL.Mode == SLTrailing && p.SL.Trail != nil {
		return p.SL.Trail
	}
	return nil
}
