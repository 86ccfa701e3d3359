package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testManager(cfg Config) *Manager {
	state := domain.NewRiskState(testNow, 1000)
	return NewManager(cfg, state, nil, nil)
}

func candidate(id, category string, sizeUSD float64) domain.CandidateTrade {
	return domain.CandidateTrade{
		DecisionID:  id,
		ConditionID: "0x" + id,
		Question:    "Will it happen?",
		Category:    category,
		Side:        domain.SideYes,
		Price:       0.50,
		SizeUSD:     sizeUSD,
		Shares:      sizeUSD / 0.50,
	}
}

func TestAdmit_AllowBooksAtomically(t *testing.T) {
	m := testManager(DefaultConfig())

	adm := m.Admit(candidate("d1", "politics", 50), testNow)
	require.Equal(t, domain.VerdictAllow, adm.Verdict)
	assert.True(t, adm.Allowed())

	st := m.State()
	assert.InDelta(t, 50.0, st.ExposureUSD, 1e-9)
	assert.InDelta(t, 50.0, st.CategoryExposure["politics"], 1e-9)
	assert.InDelta(t, 950.0, st.Balance, 1e-9)
	assert.Equal(t, 1, st.TradesToday)
	assert.Equal(t, 1, st.OpenPositions)
}

func TestAdmit_DuplicateDecisionRejected(t *testing.T) {
	m := testManager(DefaultConfig())

	first := m.Admit(candidate("d1", "politics", 50), testNow)
	require.True(t, first.Allowed())

	dup := m.Admit(candidate("d1", "politics", 50), testNow)
	assert.Equal(t, domain.VerdictReject, dup.Verdict)
	assert.Equal(t, domain.RejectDuplicateDecision, dup.Reason)

	// La reserva no se duplicó.
	assert.InDelta(t, 50.0, m.State().ExposureUSD, 1e-9)
}

func TestAdmit_ReducesToCategoryHeadroom(t *testing.T) {
	m := testManager(DefaultConfig())

	require.True(t, m.Admit(candidate("d1", "politics", 150), testNow).Allowed())

	// Cap de categoría: 20% de $1000 = $200. Quedan $50 de headroom.
	adm := m.Admit(candidate("d2", "politics", 100), testNow)
	require.Equal(t, domain.VerdictReduce, adm.Verdict)
	assert.InDelta(t, 50.0, adm.Trade.SizeUSD, 1e-9)
	assert.InDelta(t, 100.0, adm.Trade.Shares, 1e-9) // shares reescalados al precio

	// Sin headroom útil el siguiente pasa a rechazo.
	adm = m.Admit(candidate("d3", "politics", 100), testNow)
	assert.Equal(t, domain.VerdictReject, adm.Verdict)
	assert.Equal(t, domain.RejectCategoryExposure, adm.Reason)
}

func TestAdmit_CorrelatedExposureUsesCorrelator(t *testing.T) {
	corr := NewGroupCorrelator(map[string][]string{
		"election-cycle": {"politics", "elections"},
	})
	state := domain.NewRiskState(testNow, 1000)
	m := NewManager(DefaultConfig(), state, corr, nil)

	require.True(t, m.Admit(candidate("d1", "politics", 150), testNow).Allowed())

	// Cap correlacionado: 25% de $1000 = $250. politics ya usa $150,
	// así que elections sólo puede desplegar $100 más.
	adm := m.Admit(candidate("d2", "elections", 200), testNow)
	require.Equal(t, domain.VerdictReduce, adm.Verdict)
	assert.InDelta(t, 100.0, adm.Trade.SizeUSD, 1e-9)

	// Una categoría fuera del grupo no cuenta contra ese presupuesto.
	adm = m.Admit(candidate("d3", "crypto", 150), testNow)
	assert.Equal(t, domain.VerdictAllow, adm.Verdict)
}

func TestAdmit_TradeCountAndPositionLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerDay = 1
	m := testManager(cfg)

	require.True(t, m.Admit(candidate("d1", "politics", 50), testNow).Allowed())
	adm := m.Admit(candidate("d2", "crypto", 50), testNow)
	assert.Equal(t, domain.RejectTooManyTradesToday, adm.Reason)

	cfg = DefaultConfig()
	cfg.MaxOpenPositions = 1
	m = testManager(cfg)
	require.True(t, m.Admit(candidate("d1", "politics", 50), testNow).Allowed())
	adm = m.Admit(candidate("d2", "crypto", 50), testNow)
	assert.Equal(t, domain.RejectTooManyOpenPositions, adm.Reason)

	// Un candidato de rebalanceo no cuenta contra el límite de posiciones.
	reb := candidate("d3", "crypto", 50)
	reb.Rebalance = true
	assert.True(t, m.Admit(reb, testNow).Allowed())
}

func TestAdmit_BalanceReserveNeverCommitted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BalanceReservePct = 0.95
	m := testManager(cfg)

	// Gastable: $1000 − 95% de equity = $50.
	adm := m.Admit(candidate("d1", "politics", 100), testNow)
	require.Equal(t, domain.VerdictReduce, adm.Verdict)
	assert.InDelta(t, 50.0, adm.Trade.SizeUSD, 1e-9)
}

func TestDailyLimiter_FreezesAtLimit(t *testing.T) {
	m := testManager(DefaultConfig())

	// Límite diario: 10% de $1000 = $100.
	m.BookClose(domain.TradeResult{Category: "politics", PnL: -60, ClosedAt: testNow}, 60, 0, testNow)
	assert.Equal(t, domain.PhaseNormal, m.State().Phase)

	m.BookClose(domain.TradeResult{Category: "politics", PnL: -50, ClosedAt: testNow}, 50, 0, testNow)
	st := m.State()
	assert.Equal(t, domain.PhaseFrozen, st.Phase)
	assert.Equal(t, testNow.Add(4*time.Hour), st.CooldownUntil)

	// Durante el cooldown toda admisión se rechaza.
	adm := m.Admit(candidate("d1", "crypto", 10), testNow.Add(time.Hour))
	assert.Equal(t, domain.RejectDailyLimitCooldown, adm.Reason)

	// Vencido el cooldown la admisión reabre sin esperar al rollover.
	adm = m.Admit(candidate("d2", "crypto", 10), testNow.Add(5*time.Hour))
	assert.True(t, adm.Allowed())
}

func TestDailyLimiter_WarningAtSeventyPercent(t *testing.T) {
	m := testManager(DefaultConfig())

	m.RecordUnrealized(-70, testNow)
	assert.Equal(t, domain.PhaseWarning, m.State().Phase)

	evs := m.DrainEvents()
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventDailyLimitWarning, evs[0].Kind)

	// La fase no retrocede dentro del día aunque el P&L se recupere.
	m.RecordUnrealized(-10, testNow.Add(time.Minute))
	assert.Equal(t, domain.PhaseWarning, m.State().Phase)
}

func TestDailyLimiter_UnrealizedMarkReplacesPrevious(t *testing.T) {
	m := testManager(DefaultConfig())

	m.RecordUnrealized(-30, testNow)
	m.RecordUnrealized(-40, testNow.Add(time.Minute))
	// El mark no se acumula: el P&L diario es −40, no −70.
	assert.InDelta(t, -40.0, m.State().DailyPnL, 1e-9)
	assert.Equal(t, domain.PhaseNormal, m.State().Phase)
}

func TestDailyLimiter_EmergencyAdvisory(t *testing.T) {
	m := testManager(DefaultConfig())

	m.BookClose(domain.TradeResult{Category: "politics", PnL: -150, ClosedAt: testNow}, 150, 0, testNow)

	var kinds []domain.EventKind
	for _, ev := range m.DrainEvents() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, domain.EventDailyLimitBreach)
	assert.Contains(t, kinds, domain.EventEmergencyAdvice)
}

func TestDailyLimiter_AbsoluteCapOverridesPct(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyLossAbs = 50
	m := testManager(cfg)

	m.BookClose(domain.TradeResult{Category: "politics", PnL: -55, ClosedAt: testNow}, 55, 0, testNow)
	assert.Equal(t, domain.PhaseFrozen, m.State().Phase)
}

func TestRolloverDay_ResetsCountersKeepsBalance(t *testing.T) {
	m := testManager(DefaultConfig())
	require.True(t, m.Admit(candidate("d1", "politics", 50), testNow).Allowed())
	m.BookClose(domain.TradeResult{Category: "politics", PnL: -150, ClosedAt: testNow}, 50, 0, testNow)
	require.Equal(t, domain.PhaseFrozen, m.State().Phase)

	nextDay := testNow.Add(24 * time.Hour)
	m.RolloverDay(nextDay)

	st := m.State()
	assert.Equal(t, domain.PhaseNormal, st.Phase)
	assert.Zero(t, st.TradesToday)
	assert.Zero(t, st.DailyPnL)
	assert.Empty(t, st.AdmittedIDs)
	assert.InDelta(t, 950.0, st.Balance, 1e-9) // el balance sobrevive al rollover

	// Mismo día: no-op.
	before := m.State()
	m.RolloverDay(nextDay.Add(time.Hour))
	assert.Equal(t, before.TradingDay, m.State().TradingDay)
}

func TestReleaseFailed_RestoresBooking(t *testing.T) {
	m := testManager(DefaultConfig())
	adm := m.Admit(candidate("d1", "politics", 50), testNow)
	require.True(t, adm.Allowed())

	m.ReleaseFailed(adm.Trade)

	st := m.State()
	assert.Zero(t, st.ExposureUSD)
	assert.Zero(t, st.OpenPositions)
	assert.InDelta(t, 1000.0, st.Balance, 1e-9)
	// El contador de trades del día no se devuelve: el intento cuenta.
	assert.Equal(t, 1, st.TradesToday)
}

func TestAdjustBooking_ReleasesUnfilledPortion(t *testing.T) {
	m := testManager(DefaultConfig())
	adm := m.Admit(candidate("d1", "politics", 50), testNow)
	require.True(t, adm.Allowed())

	// Sólo se gastaron $30 de los $50 admitidos.
	m.AdjustBooking(adm.Trade, 30)

	st := m.State()
	assert.InDelta(t, 30.0, st.ExposureUSD, 1e-9)
	assert.InDelta(t, 970.0, st.Balance, 1e-9)
}

func TestCategoryCorrelator_MatchesCaseInsensitive(t *testing.T) {
	c := CategoryCorrelator{}
	assert.True(t, c.Correlated("Politics", "politics"))
	assert.False(t, c.Correlated("politics", "crypto"))
	assert.False(t, c.Correlated("", ""))
}

func TestOptimizer_SuggestsTrimAndClose(t *testing.T) {
	opt := NewOptimizer(DefaultOptimizerConfig())
	state := domain.NewRiskState(testNow, 1000)

	overweight := domain.Position{
		ID:          "p1",
		ConditionID: "0xbig",
		Side:        domain.SideYes,
		Shares:      400,
		CostUSD:     180,
		EntryPrice:  0.45,
		OpenedAt:    testNow.Add(-24 * time.Hour),
		Status:      domain.PositionOpen,
	}
	stale := domain.Position{
		ID:          "p2",
		ConditionID: "0xflat",
		Side:        domain.SideYes,
		Shares:      100,
		CostUSD:     50,
		EntryPrice:  0.50,
		OpenedAt:    testNow.Add(-10 * 24 * time.Hour),
		Status:      domain.PositionOpen,
	}
	prices := map[string]float64{
		"0xbig":  0.50, // $200 > 15% de $1000
		"0xflat": 0.50, // P&L plano tras 10 días
	}

	sugs := opt.Suggest([]domain.Position{overweight, stale}, *state, prices, testNow)
	require.Len(t, sugs, 2)

	assert.Equal(t, SuggestTrim, sugs[0].Kind)
	assert.Equal(t, "p1", sugs[0].PositionID)
	assert.InDelta(t, 100.0, sugs[0].Shares, 1e-9) // recorte de $50 a $0.50

	assert.Equal(t, SuggestClose, sugs[1].Kind)
	assert.Equal(t, "p2", sugs[1].PositionID)
	assert.InDelta(t, 100.0, sugs[1].Shares, 1e-9)
}
