package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(shares float64) *Order {
	return &Order{
		ID:     "ord-1",
		Side:   SideYes,
		Shares: shares,
		Status: OrderPlanning,
	}
}

func TestOrder_LifecycleHappyPath(t *testing.T) {
	o := newTestOrder(100)
	now := time.Now()

	require.NoError(t, o.Transition(OrderSubmitting))
	require.NoError(t, o.RecordFill(40, 0.52, now))
	assert.Equal(t, OrderPartiallyFilled, o.Status)

	require.NoError(t, o.RecordFill(60, 0.53, now))
	assert.Equal(t, OrderFilled, o.Status)
	assert.InDelta(t, 100.0, o.FilledShares(), 0.001)
	assert.InDelta(t, 0.526, o.AvgFillPrice(), 0.001)
}

func TestOrder_InvalidTransition(t *testing.T) {
	o := newTestOrder(100)

	err := o.Transition(OrderFilled) // Planning → Filled no existe en la tabla
	assert.Error(t, err)
	assert.Equal(t, OrderPlanning, o.Status)
}

func TestOrder_TerminalStateIsFinal(t *testing.T) {
	o := newTestOrder(10)
	require.NoError(t, o.Transition(OrderSubmitting))
	require.NoError(t, o.Transition(OrderFailed))

	assert.Error(t, o.Transition(OrderSubmitting))
	assert.Error(t, o.RecordFill(5, 0.5, time.Now()))
}

func TestOrder_PartialFillsKeptOnFailure(t *testing.T) {
	o := newTestOrder(100)
	now := time.Now()
	require.NoError(t, o.Transition(OrderSubmitting))
	require.NoError(t, o.RecordFill(30, 0.50, now))

	// la orden falla con fills parciales: el log no se revierte
	require.NoError(t, o.Transition(OrderFailed))
	assert.InDelta(t, 30.0, o.FilledShares(), 0.001)
	assert.InDelta(t, 70.0, o.RemainingShares(), 0.001)
}

func TestOrder_OverfillRejected(t *testing.T) {
	o := newTestOrder(50)
	require.NoError(t, o.Transition(OrderSubmitting))

	err := o.RecordFill(60, 0.5, time.Now())
	assert.Error(t, err)
	assert.Empty(t, o.Fills)
}

func TestOrder_ResubmitAfterPartial(t *testing.T) {
	// un parcial puede volver a Submitting para repricear el resto
	o := newTestOrder(100)
	require.NoError(t, o.Transition(OrderSubmitting))
	require.NoError(t, o.RecordFill(40, 0.51, time.Now()))
	require.NoError(t, o.Transition(OrderSubmitting))
	assert.Equal(t, OrderSubmitting, o.Status)
}

func TestPosition_ExitFillRealizesPnL(t *testing.T) {
	p := &Position{
		ID:       "pos-1",
		Side:     SideYes,
		Shares:   100,
		CostUSD:  50, // entrada a 0.50
		Status:   PositionOpen,
		OpenedAt: time.Now(),
	}
	p.EntryPrice = 0.50

	pnl := p.ApplyExitFill(50, 0.60, time.Now())
	assert.InDelta(t, 5.0, pnl, 0.001) // 50 × (0.60-0.50)
	assert.Equal(t, PositionPartiallyClosing, p.Status)
	assert.InDelta(t, 50.0, p.Shares, 0.001)

	pnl = p.ApplyExitFill(50, 0.40, time.Now())
	assert.InDelta(t, -5.0, pnl, 0.001)
	assert.Equal(t, PositionClosed, p.Status)
	assert.NotNil(t, p.ClosedAt)
	assert.InDelta(t, 0.0, p.RealizedPnL, 0.001)
}

func TestPosition_EntryFillAveragesPrice(t *testing.T) {
	p := &Position{Status: PositionOpen}
	p.ApplyEntryFill(100, 0.40)
	p.ApplyEntryFill(100, 0.60)

	assert.InDelta(t, 0.50, p.EntryPrice, 0.001)
	assert.InDelta(t, 200.0, p.Shares, 0.001)
	assert.InDelta(t, 100.0, p.CostUSD, 0.001)
}
