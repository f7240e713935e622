package executor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionstrike/engine/internal/audit"
	"github.com/optionstrike/engine/internal/broker"
	"github.com/optionstrike/engine/internal/errs"
	"github.com/optionstrike/engine/internal/evaluator"
	"github.com/optionstrike/engine/internal/marketdata"
	"github.com/optionstrike/engine/internal/playstore"
	"github.com/optionstrike/engine/internal/playtypes"
	"github.com/optionstrike/engine/internal/risk"
)

// fakeBroker is a scriptable broker.Broker double.
type fakeBroker struct {
	submitErr    error
	orderID      string
	orderState   broker.OrderState
	getOrderErr  error
	cancelCalled bool
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, occSymbol string, side broker.Side, qty int, orderType broker.OrderType, limitPrice *float64, tif broker.TIF) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.orderID, nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error {
	f.cancelCalled = true
	return nil
}
func (f *fakeBroker) GetOrder(ctx context.Context, orderID string) (broker.OrderState, error) {
	return f.orderState, f.getOrderErr
}
func (f *fakeBroker) GetAccount(ctx context.Context) (broker.Account, error) {
	return broker.Account{}, nil
}
func (f *fakeBroker) GetPosition(ctx context.Context, occSymbol string) (int, bool, error) {
	return 0, false, nil
}

func newTestGateway() *marketdata.Gateway {
	return marketdata.NewGateway(nil, time.Second, nil)
}

func newOpeningPlay(t *testing.T) *playstore.Store {
	t.Helper()
	store, err := playstore.New(t.TempDir())
	require.NoError(t, err)
	return store
}

func shortPutPlay(id string) *playtypes.Play {
	return &playtypes.Play{
		ID:           id,
		Symbol:       "AAPL",
		OCCSymbol:    "AAPL260116P00150000",
		Side:         playtypes.Put,
		Strike:       decimal.NewFromInt(150),
		OrderAction:  playtypes.STO,
		PositionSide: playtypes.Short,
		Contracts:    1,
		Entry:        playtypes.EntrySpec{TargetStockPrice: decimal.NewFromInt(150), PriceReference: playtypes.RefLast, OrderType: playtypes.OrderMarket},
		TP:           playtypes.TPSpec{Mode: playtypes.TPSingle},
		SL:           playtypes.SLSpec{Mode: playtypes.SLStop},
		State:        playtypes.StateNew,
	}
}

func TestOpen_SubmitsOrderAndTransitionsToPendingOpening(t *testing.T) {
	store := newOpeningPlay(t)
	p := shortPutPlay("p1")
	require.NoError(t, store.Save(p))

	brk := &fakeBroker{orderID: "order-1"}
	gate := risk.New(risk.Limits{MaxNotionalLeverage: 10, MaxCapitalAllocation: 10})
	exec := New(store, brk, newTestGateway(), gate, audit.New(nil), false)

	account := OpenAccountView{Account: broker.Account{OptionsBuyingPower: 100000, Equity: 100000}}
	decision := evaluator.Decision{Kind: evaluator.EnterNow, Order: evaluator.OrderSpec{Market: true}}

	err := exec.Open(context.Background(), p, decision, account)
	require.NoError(t, err)

	reloaded, err := store.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, playtypes.StatePendingOpening, reloaded.State)
	assert.Equal(t, "order-1", reloaded.OpenOrderID)
}

func TestOpen_SkipsResubmitWhenAlreadySubmitted(t *testing.T) {
	store := newOpeningPlay(t)
	p := shortPutPlay("p2")
	p.OpenOrderID = "already-submitted"
	require.NoError(t, store.Save(p))

	brk := &fakeBroker{orderID: "should-not-be-used"}
	gate := risk.New(risk.Limits{MaxNotionalLeverage: 10, MaxCapitalAllocation: 10})
	exec := New(store, brk, newTestGateway(), gate, audit.New(nil), false)

	err := exec.Open(context.Background(), p, evaluator.Decision{}, OpenAccountView{})
	require.NoError(t, err)
	assert.Equal(t, "already-submitted", p.OpenOrderID)
}

func TestOpen_RiskDeniedQuarantinesReasonWithoutSubmitting(t *testing.T) {
	store := newOpeningPlay(t)
	p := shortPutPlay("p3")
	require.NoError(t, store.Save(p))

	brk := &fakeBroker{orderID: "order-x"}
	gate := risk.New(risk.Limits{MaxNotionalLeverage: 10, MaxCapitalAllocation: 10})
	exec := New(store, brk, newTestGateway(), gate, audit.New(nil), false)

	account := OpenAccountView{Account: broker.Account{OptionsBuyingPower: 1, Equity: 100000}}
	err := exec.Open(context.Background(), p, evaluator.Decision{Order: evaluator.OrderSpec{Market: true}}, account)
	require.NoError(t, err)

	reloaded, err := store.Load("p3")
	require.NoError(t, err)
	assert.Equal(t, playtypes.StateNew, reloaded.State, "risk-denied play must stay in NEW")
	assert.Contains(t, reloaded.LastError, "insufficient options buying power")
}

func TestOpen_DryRunNeverSubmitsOrTransitions(t *testing.T) {
	store := newOpeningPlay(t)
	p := shortPutPlay("p4")
	require.NoError(t, store.Save(p))

	brk := &fakeBroker{orderID: "order-should-not-appear"}
	gate := risk.New(risk.Limits{MaxNotionalLeverage: 10, MaxCapitalAllocation: 10})
	exec := New(store, brk, newTestGateway(), gate, audit.New(nil), true)

	account := OpenAccountView{Account: broker.Account{OptionsBuyingPower: 100000, Equity: 100000}}
	err := exec.Open(context.Background(), p, evaluator.Decision{Order: evaluator.OrderSpec{Market: true}}, account)
	require.NoError(t, err)

	reloaded, err := store.Load("p4")
	require.NoError(t, err)
	assert.Equal(t, playtypes.StateNew, reloaded.State)
	assert.Empty(t, reloaded.OpenOrderID)
}

func TestPollOpen_FilledTransitionsToOpenWithEntryPrice(t *testing.T) {
	store := newOpeningPlay(t)
	p := shortPutPlay("p5")
	p.State = playtypes.StatePendingOpening
	p.OpenOrderID = "order-1"
	require.NoError(t, store.Save(p))

	brk := &fakeBroker{orderState: broker.OrderState{Status: broker.StatusFilled, FilledQty: 1, AvgFillPrice: 2.15}}
	gate := risk.New(risk.Limits{MaxNotionalLeverage: 10, MaxCapitalAllocation: 10})
	exec := New(store, brk, newTestGateway(), gate, audit.New(nil), false)

	require.NoError(t, exec.PollOpen(context.Background(), p))

	reloaded, err := store.Load("p5")
	require.NoError(t, err)
	assert.Equal(t, playtypes.StateOpen, reloaded.State)
	require.NotNil(t, reloaded.EntryPrice)
	assert.True(t, reloaded.EntryPrice.Equal(decimal.NewFromFloat(2.15)))
}

func TestPollOpen_RejectedReturnsToNew(t *testing.T) {
	store := newOpeningPlay(t)
	p := shortPutPlay("p6")
	p.State = playtypes.StatePendingOpening
	p.OpenOrderID = "order-1"
	require.NoError(t, store.Save(p))

	brk := &fakeBroker{orderState: broker.OrderState{Status: broker.StatusRejected, Reason: "insufficient margin"}}
	gate := risk.New(risk.Limits{MaxNotionalLeverage: 10, MaxCapitalAllocation: 10})
	exec := New(store, brk, newTestGateway(), gate, audit.New(nil), false)

	require.NoError(t, exec.PollOpen(context.Background(), p))

	reloaded, err := store.Load("p6")
	require.NoError(t, err)
	assert.Equal(t, playtypes.StateNew, reloaded.State)
	assert.Empty(t, reloaded.OpenOrderID)
	assert.Equal(t, "insufficient margin", reloaded.LastError)
}

func TestPollOpen_TransientErrorPreservesPendingState(t *testing.T) {
	store := newOpeningPlay(t)
	p := shortPutPlay("p7")
	p.State = playtypes.StatePendingOpening
	p.OpenOrderID = "order-1"
	require.NoError(t, store.Save(p))

	brk := &fakeBroker{getOrderErr: &errs.BrokerUnavailable{Op: "get_order"}}
	gate := risk.New(risk.Limits{MaxNotionalLeverage: 10, MaxCapitalAllocation: 10})
	exec := New(store, brk, newTestGateway(), gate, audit.New(nil), false)

	err := exec.PollOpen(context.Background(), p)
	assert.Error(t, err)

	reloaded, err := store.Load("p7")
	require.NoError(t, err)
	assert.Equal(t, playtypes.StatePendingOpening, reloaded.State)
}

func TestClose_SubmitsAndTransitionsToPendingClosing(t *testing.T) {
	store := newOpeningPlay(t)
	entry := decimal.NewFromFloat(2.00)
	p := shortPutPlay("p8")
	p.State = playtypes.StateOpen
	p.EntryPrice = &entry
	require.NoError(t, store.Save(p))

	brk := &fakeBroker{orderID: "close-1"}
	gate := risk.New(risk.Limits{MaxNotionalLeverage: 10, MaxCapitalAllocation: 10})
	exec := New(store, brk, newTestGateway(), gate, audit.New(nil), false)

	decision := evaluator.Decision{Kind: evaluator.ExitNowKind, ExitReason: evaluator.ExitTP, Order: evaluator.OrderSpec{Market: true}}
	require.NoError(t, exec.Close(context.Background(), p, decision))

	reloaded, err := store.Load("p8")
	require.NoError(t, err)
	assert.Equal(t, playtypes.StatePendingClosing, reloaded.State)
	assert.Equal(t, "close-1", reloaded.CloseOrderID)
	assert.Equal(t, "TP", reloaded.Fills.CloseReason)
}

func TestPollClose_FilledTransitionsToClosed(t *testing.T) {
	store := newOpeningPlay(t)
	entry := decimal.NewFromFloat(2.00)
	p := shortPutPlay("p9")
	p.State = playtypes.StatePendingClosing
	p.EntryPrice = &entry
	p.CloseOrderID = "close-1"
	p.Fills.CloseReason = "TP"
	require.NoError(t, store.Save(p))

	brk := &fakeBroker{orderState: broker.OrderState{Status: broker.StatusFilled, FilledQty: 1, AvgFillPrice: 0.50}}
	gate := risk.New(risk.Limits{MaxNotionalLeverage: 10, MaxCapitalAllocation: 10})
	exec := New(store, brk, newTestGateway(), gate, audit.New(nil), false)

	require.NoError(t, exec.PollClose(context.Background(), p))

	reloaded, err := store.Load("p9")
	require.NoError(t, err)
	assert.Equal(t, playtypes.StateClosed, reloaded.State)
	require.NotNil(t, reloaded.Fills.ClosePrice)
	assert.True(t, reloaded.Fills.ClosePrice.Equal(decimal.NewFromFloat(0.50)))
}

func TestPollClose_RejectedReturnsToOpen(t *testing.T) {
	store := newOpeningPlay(t)
	entry := decimal.NewFromFloat(2.00)
	p := shortPutPlay("p10")
	p.State = playtypes.StatePendingClosing
	p.EntryPrice = &entry
	p.CloseOrderID = "close-1"
	require.NoError(t, store.Save(p))

	brk := &fakeBroker{orderState: broker.OrderState{Status: broker.StatusRejected, Reason: "order too small"}}
	gate := risk.New(risk.Limits{MaxNotionalLeverage: 10, MaxCapitalAllocation: 10})
	exec := New(store, brk, newTestGateway(), gate, audit.New(nil), false)

	require.NoError(t, exec.PollClose(context.Background(), p))

	reloaded, err := store.Load("p10")
	require.NoError(t, err)
	assert.Equal(t, playtypes.StateOpen, reloaded.State)
	assert.Empty(t, reloaded.CloseOrderID)
}
