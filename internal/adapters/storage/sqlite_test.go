package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPosition(id string) domain.Position {
	return domain.Position{
		ID:          id,
		ConditionID: "0xmkt",
		Question:    "Will it happen?",
		Category:    "politics",
		Side:        domain.SideYes,
		EntryPrice:  0.50,
		Shares:      100,
		CostUSD:     50,
		OpenedAt:    testNow,
		Status:      domain.PositionOpen,
		StopLoss:    0.35,
		TakeProfit:  0.75,
		DecisionID:  "dec-1",
		SignalIDs:   []string{"sig-1", "sig-2"},
	}
}

func TestSaveAndLoadOpenPositions(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SavePosition(ctx, testPosition("p1")))
	p2 := testPosition("p2")
	p2.OpenedAt = testNow.Add(time.Minute)
	require.NoError(t, s.SavePosition(ctx, p2))

	// Actualizar p1: el upsert no duplica.
	p1 := testPosition("p1")
	p1.Shares = 80
	p1.Status = domain.PositionPartiallyClosing
	require.NoError(t, s.SavePosition(ctx, p1))

	positions, err := s.LoadOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, "p1", positions[0].ID)
	assert.InDelta(t, 80.0, positions[0].Shares, 1e-9)
	assert.Equal(t, domain.PositionPartiallyClosing, positions[0].Status)
	assert.Equal(t, []string{"sig-1", "sig-2"}, positions[0].SignalIDs)
	assert.Equal(t, domain.SideYes, positions[0].Side)
}

func TestSaveClosedPosition_ExcludedFromOpenSet(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	pos := testPosition("p1")
	require.NoError(t, s.SavePosition(ctx, pos))

	closedAt := testNow.Add(2 * time.Hour)
	pos.Shares = 0
	pos.CostUSD = 0
	pos.Status = domain.PositionClosed
	pos.RealizedPnL = 12.5
	pos.ClosedAt = &closedAt

	result := domain.TradeResult{
		PositionID:  "p1",
		ConditionID: "0xmkt",
		Category:    "politics",
		Side:        domain.SideYes,
		PnL:         12.5,
		Won:         true,
		SignalIDs:   []string{"sig-1", "sig-2"},
		ClosedAt:    closedAt,
	}
	require.NoError(t, s.SaveClosedPosition(ctx, pos, result))

	positions, err := s.LoadOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	remaining, err := s.FlushPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestSaveClosedPosition_RetainsOnFailure(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	pos := testPosition("p1")
	require.NoError(t, s.SavePosition(ctx, pos))

	// Cerrar la DB por debajo fuerza el fallo de escritura.
	require.NoError(t, s.db.Close())

	result := domain.TradeResult{PositionID: "p1", ConditionID: "0xmkt", Side: domain.SideYes, PnL: -5, ClosedAt: testNow}
	// No devuelve error: el cierre queda encolado.
	require.NoError(t, s.SaveClosedPosition(ctx, pos, result))

	remaining, err := s.FlushPending(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, remaining)
}

func TestRiskSnapshotRoundTrip(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	state := domain.NewRiskState(testNow, 1000)
	state.DailyPnL = -42.5
	state.TradesToday = 3
	state.OpenPositions = 2
	state.ExposureUSD = 120
	state.CategoryExposure["politics"] = 80
	state.CategoryExposure["crypto"] = 40
	state.Phase = domain.PhaseWarning
	state.AdmittedIDs["dec-1"] = true
	state.AdmittedIDs["dec-2"] = true

	require.NoError(t, s.SaveRiskSnapshot(ctx, *state))

	loaded, ok, err := s.LoadRiskSnapshot(ctx, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	assert.InDelta(t, -42.5, loaded.DailyPnL, 1e-9)
	assert.Equal(t, 3, loaded.TradesToday)
	assert.Equal(t, domain.PhaseWarning, loaded.Phase)
	assert.InDelta(t, 80.0, loaded.CategoryExposure["politics"], 1e-9)
	assert.True(t, loaded.AdmittedIDs["dec-2"])

	// Día sin snapshot: ok=false sin error.
	_, ok, err = s.LoadRiskSnapshot(ctx, testNow.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccuracyRoundTripAndVersioning(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	rec := domain.NewSourceAccuracyRecord(domain.KindSentiment)
	rec = rec.Record(true, testNow)
	rec = rec.Record(true, testNow)
	require.NoError(t, s.SaveAccuracy(ctx, []domain.SourceAccuracyRecord{rec}))

	// Una versión más vieja no pisa a la guardada.
	stale := domain.NewSourceAccuracyRecord(domain.KindSentiment)
	stale = stale.Record(false, testNow)
	require.NoError(t, s.SaveAccuracy(ctx, []domain.SourceAccuracyRecord{stale}))

	records, err := s.LoadAccuracy(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.KindSentiment, records[0].Kind)
	assert.Equal(t, rec.Version, records[0].Version)
	assert.InDelta(t, rec.Score, records[0].Score, 1e-9)
}

func TestSaveDailySummary_Upserts(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	summary := domain.DailySummary{
		Date:        testNow,
		RealizedPnL: -12.0,
		EndBalance:  988.0,
		PeakEquity:  1010.0,
		EndPhase:    domain.PhaseNormal,
	}
	require.NoError(t, s.SaveDailySummary(ctx, summary))

	summary.RealizedPnL = 5.0
	require.NoError(t, s.SaveDailySummary(ctx, summary))

	var pnl float64
	row := s.db.QueryRow(`SELECT realized_pnl FROM daily_summaries WHERE date = ?`, dayKey(testNow))
	require.NoError(t, row.Scan(&pnl))
	assert.InDelta(t, 5.0, pnl, 1e-9)
}
