package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/polytrader/internal/adapters/notify"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var notifyNow = time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

func TestConsole_Notify_Event(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	err := n.Notify(context.Background(), domain.Event{
		Kind:        domain.EventDailyLimitBreach,
		ConditionID: "0x1234567890abcdef",
		Message:     "daily loss $-110.00 hit limit $-100.00",
		At:          notifyNow,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "14:30:00")
	assert.Contains(t, out, "daily_limit_breached")
	assert.Contains(t, out, "0x1234567890...")
	assert.Contains(t, out, "hit limit")
}

func TestConsole_Notify_QuietKindsNeedVerbose(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	err := n.Notify(context.Background(), domain.Event{
		Kind: domain.EventSignalGenerated,
		At:   notifyNow,
	})
	require.NoError(t, err)
	// NewConsoleWriter es verbose: se imprime
	assert.Contains(t, buf.String(), "signal_generated")
}

func TestConsole_NotifyPositions_Table(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	closed := notifyNow.Add(-time.Hour)
	positions := []domain.Position{
		{
			ID: "p1", ConditionID: "0xmkt1", Question: "Will BTC hit 100k?",
			Side: domain.SideYes, EntryPrice: 0.52, Shares: 100, CostUSD: 52,
			Status: domain.PositionOpen, OpenedAt: notifyNow.Add(-26 * time.Hour),
		},
		{
			ID: "p2", ConditionID: "0xmkt2", Question: "Fed cut in July?",
			Side: domain.SideNo, Status: domain.PositionClosed, ClosedAt: &closed,
		},
	}
	state := domain.RiskState{
		TradingDay:  notifyNow.Truncate(24 * time.Hour),
		DailyPnL:    -12.5,
		TradesToday: 3,
		ExposureUSD: 52,
		Balance:     948,
		PeakEquity:  1000,
		Phase:       domain.PhaseWarning,
		CategoryExposure: map[string]float64{
			"crypto": 52,
		},
	}

	err := n.NotifyPositions(context.Background(), positions, state)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "1 open")
	assert.Contains(t, out, "Will BTC hit 100k?")
	// las cerradas no se listan
	assert.NotContains(t, out, "Fed cut in July?")
	assert.Contains(t, out, "WARNING")
	assert.Contains(t, out, "crypto $52")
}

func TestConsole_NotifyPositions_Empty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	err := n.NotifyPositions(context.Background(), nil, *domain.NewRiskState(notifyNow, 500))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "sin posiciones abiertas")
}

func TestConsole_PrintDailySummary(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	n.PrintDailySummary(domain.DailySummary{
		Date:           notifyNow,
		TradesAdmitted: 5,
		TradesReduced:  1,
		TradesRejected: 2,
		OrdersPlaced:   6,
		OrdersFilled:   5,
		RealizedPnL:    23.4,
		EndBalance:     1023.4,
		PeakEquity:     1030,
		MaxDrawdown:    0.05,
		EndPhase:       domain.PhaseNormal,
	})

	out := buf.String()
	assert.Contains(t, out, "DAILY SUMMARY 2025-06-15")
	assert.Contains(t, out, "5 admitted, 1 reduced, 2 rejected")
	assert.Contains(t, out, "$23.40")
	assert.Contains(t, out, "NORMAL")
}
