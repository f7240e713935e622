package evaluator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/optionstrike/engine/internal/clock"
	"github.com/optionstrike/engine/internal/marketdata"
	"github.com/optionstrike/engine/internal/playtypes"
)

func frozenClock(at time.Time, primary bool) *clock.Frozen {
	return &clock.Frozen{At: at, PrimarySess: primary, OpenToday: primary}
}

func longCallPlay() *playtypes.Play {
	return &playtypes.Play{
		ID:           "p1",
		Symbol:       "AAPL",
		Side:         playtypes.Call,
		PositionSide: playtypes.Long,
		OrderAction:  playtypes.BTO,
		Expiration:   time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		Entry: playtypes.EntrySpec{
			TargetStockPrice: decimal.NewFromInt(150),
			Buffer:           decimal.NewFromFloat(0.5),
			PriceReference:   playtypes.RefLast,
			OrderType:        playtypes.OrderMarket,
		},
		State: playtypes.StateNew,
	}
}

func TestEvaluateEntry_WaitsOutsideSession(t *testing.T) {
	p := longCallPlay()
	snap := Snapshot{
		Play:       p,
		StockQuote: marketdata.StockQuote{Last: 150},
		Clock:      frozenClock(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), false),
	}
	d := Evaluate(snap)
	assert.Equal(t, Wait, d.Kind)
}

func TestEvaluateEntry_WaitsAfterExpiration(t *testing.T) {
	p := longCallPlay()
	snap := Snapshot{
		Play:       p,
		StockQuote: marketdata.StockQuote{Last: 150},
		Clock:      frozenClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), true),
	}
	d := Evaluate(snap)
	assert.Equal(t, Wait, d.Kind)
}

func TestEvaluateEntry_FiresWithinBuffer(t *testing.T) {
	p := longCallPlay()
	snap := Snapshot{
		Play:       p,
		StockQuote: marketdata.StockQuote{Last: 150.5},
		Clock:      frozenClock(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), true),
	}
	d := Evaluate(snap)
	assert.Equal(t, EnterNow, d.Kind)
}

func TestEvaluateEntry_BoundaryInclusive(t *testing.T) {
	p := longCallPlay()
	hi := p.Entry.TargetStockPrice.Add(p.Entry.Buffer)
	snap := Snapshot{
		Play:       p,
		StockQuote: marketdata.StockQuote{Last: hiFloat(hi)},
		Clock:      frozenClock(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), true),
	}
	d := Evaluate(snap)
	assert.Equal(t, EnterNow, d.Kind, "target+buffer is inclusive")
}

func hiFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func TestEvaluateEntry_WaitsOutsideBuffer(t *testing.T) {
	p := longCallPlay()
	snap := Snapshot{
		Play:       p,
		StockQuote: marketdata.StockQuote{Last: 152},
		Clock:      frozenClock(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), true),
	}
	d := Evaluate(snap)
	assert.Equal(t, Wait, d.Kind)
}

func openPlay(side playtypes.OptionSide, pos playtypes.PositionSide) *playtypes.Play {
	entry := decimal.NewFromFloat(2.00)
	return &playtypes.Play{
		ID:           "p2",
		Symbol:       "AAPL",
		Side:         side,
		PositionSide: pos,
		Expiration:   time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		State:        playtypes.StateOpen,
		EntryPrice:   &entry,
	}
}

func TestEvaluateExit_OptionExpiredWinsOverEverythingElse(t *testing.T) {
	p := openPlay(playtypes.Call, playtypes.Long)
	slPrice := decimal.NewFromInt(1000) // would also fire SL if checked
	p.SL = playtypes.SLSpec{Mode: playtypes.SLStop, StockPrice: &slPrice}
	snap := Snapshot{
		Play:       p,
		StockQuote: marketdata.StockQuote{Last: 1},
		Clock:      frozenClock(time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC), true),
	}
	d := Evaluate(snap)
	assert.Equal(t, ExitNowKind, d.Kind)
	assert.Equal(t, ExitOptionExpired, d.ExitReason)
}

func TestEvaluateExit_ContingencySLBeforeOrdinarySL(t *testing.T) {
	p := openPlay(playtypes.Put, playtypes.Short)
	contingency := decimal.NewFromInt(150)
	ordinary := decimal.NewFromInt(155)
	p.SL = playtypes.SLSpec{
		Mode:                 playtypes.SLContingency,
		StockPrice:           &ordinary,
		ContingencyPrice:     &contingency,
		ContingencyReference: playtypes.ContingencyLast,
	}
	snap := Snapshot{
		Play:       p,
		StockQuote: marketdata.StockQuote{Last: 145},
		Clock:      frozenClock(time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC), true),
	}
	d := Evaluate(snap)
	assert.Equal(t, ExitNowKind, d.Kind)
	assert.Equal(t, ExitContingencySL, d.ExitReason)
}

func TestEvaluateExit_SLBeforeTP(t *testing.T) {
	p := openPlay(playtypes.Call, playtypes.Long)
	slPrice := decimal.NewFromInt(140)
	tpPrice := decimal.NewFromInt(130)
	p.SL = playtypes.SLSpec{Mode: playtypes.SLStop, StockPrice: &slPrice}
	p.TP = playtypes.TPSpec{Mode: playtypes.TPSingle, StockPrice: &tpPrice}
	snap := Snapshot{
		Play:       p,
		StockQuote: marketdata.StockQuote{Last: 139}, // at or below SL and at or above TP: both fire, SL wins
		Clock:      frozenClock(time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC), true),
	}
	d := Evaluate(snap)
	assert.Equal(t, ExitNowKind, d.Kind)
	assert.Equal(t, ExitSL, d.ExitReason)
}

func TestEvaluateExit_TPFires(t *testing.T) {
	p := openPlay(playtypes.Call, playtypes.Long)
	tpPrice := decimal.NewFromInt(160)
	p.TP = playtypes.TPSpec{Mode: playtypes.TPSingle, StockPrice: &tpPrice}
	snap := Snapshot{
		Play:       p,
		StockQuote: marketdata.StockQuote{Last: 161},
		OptionQuote: marketdata.OptionQuote{Bid: 5, Ask: 5.2},
		Clock:      frozenClock(time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC), true),
	}
	d := Evaluate(snap)
	assert.Equal(t, ExitNowKind, d.Kind)
	assert.Equal(t, ExitTP, d.ExitReason)
}

func TestEvaluateExit_Waits(t *testing.T) {
	p := openPlay(playtypes.Call, playtypes.Long)
	tpPrice := decimal.NewFromInt(200)
	slPrice := decimal.NewFromInt(100)
	p.TP = playtypes.TPSpec{Mode: playtypes.TPSingle, StockPrice: &tpPrice}
	p.SL = playtypes.SLSpec{Mode: playtypes.SLStop, StockPrice: &slPrice}
	snap := Snapshot{
		Play:       p,
		StockQuote: marketdata.StockQuote{Last: 150},
		Clock:      frozenClock(time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC), true),
	}
	d := Evaluate(snap)
	assert.Equal(t, Wait, d.Kind)
}

func TestSLFires_ShortPutDirection(t *testing.T) {
	p := openPlay(playtypes.Put, playtypes.Short)
	level := decimal.NewFromInt(140)
	p.SL = playtypes.SLSpec{Mode: playtypes.SLStop, StockPrice: &level}

	assert.True(t, slFires(p, marketdata.StockQuote{Last: 139}, marketdata.OptionQuote{}))
	assert.False(t, slFires(p, marketdata.StockQuote{Last: 145}, marketdata.OptionQuote{}))
}

func TestSLFires_LongPutDirection(t *testing.T) {
	p := openPlay(playtypes.Put, playtypes.Long)
	level := decimal.NewFromInt(160)
	p.SL = playtypes.SLSpec{Mode: playtypes.SLStop, StockPrice: &level}

	assert.True(t, slFires(p, marketdata.StockQuote{Last: 161}, marketdata.OptionQuote{}))
	assert.False(t, slFires(p, marketdata.StockQuote{Last: 159}, marketdata.OptionQuote{}))
}

func TestTPFires_ShortCallDirection(t *testing.T) {
	p := openPlay(playtypes.Call, playtypes.Short)
	level := decimal.NewFromInt(140)
	p.TP = playtypes.TPSpec{Mode: playtypes.TPSingle, StockPrice: &level}

	assert.True(t, tpFires(p, marketdata.StockQuote{Last: 139}, marketdata.OptionQuote{}))
	assert.False(t, tpFires(p, marketdata.StockQuote{Last: 145}, marketdata.OptionQuote{}))
}

func TestSLFires_PremiumTarget(t *testing.T) {
	p := openPlay(playtypes.Call, playtypes.Long)
	target := decimal.NewFromFloat(1.00)
	p.SL = playtypes.SLSpec{Mode: playtypes.SLStop, Premium: &target}

	assert.True(t, slFires(p, marketdata.StockQuote{}, marketdata.OptionQuote{Ask: 0.90}))
	assert.False(t, slFires(p, marketdata.StockQuote{}, marketdata.OptionQuote{Ask: 1.50}))
}

func TestTPFires_PremiumPctTarget_Short(t *testing.T) {
	p := openPlay(playtypes.Put, playtypes.Short)
	pct := 0.5
	p.TP = playtypes.TPSpec{Mode: playtypes.TPSingle, PremiumPct: &pct}
	// entry credit is 2.00; a 50% favorable move for SHORT means ask <= 1.00
	assert.True(t, tpFires(p, marketdata.StockQuote{}, marketdata.OptionQuote{Ask: 0.95}))
	assert.False(t, tpFires(p, marketdata.StockQuote{}, marketdata.OptionQuote{Ask: 1.50}))
}
