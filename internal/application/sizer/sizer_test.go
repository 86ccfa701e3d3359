package sizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// deepSnapshot construye un mercado YES@0.50 con books profundos y
// resolución lejana, para que los modificadores de liquidez y tiempo
// queden en 1.0.
func deepSnapshot() domain.Snapshot {
	book := domain.OrderBook{
		Bids: []domain.BookEntry{{Price: 0.49, Size: 10000}, {Price: 0.48, Size: 10000}},
		Asks: []domain.BookEntry{{Price: 0.51, Size: 10000}, {Price: 0.52, Size: 10000}},
	}
	return domain.Snapshot{
		Market: domain.Market{
			ConditionID: "0xmkt",
			Question:    "Will it happen?",
			Category:    "politics",
			EndDate:     testNow.Add(30 * 24 * time.Hour),
			Tokens: [2]domain.Token{
				{TokenID: "tok-yes", Outcome: "Yes", Price: 0.50},
				{TokenID: "tok-no", Outcome: "No", Price: 0.50},
			},
		},
		YesBook:   book,
		NoBook:    book,
		FetchedAt: testNow,
	}
}

func entryDecision(prob, conf float64) domain.AggregatedDecision {
	return domain.AggregatedDecision{
		ID:          "dec-1",
		ConditionID: "0xmkt",
		Action:      domain.ActionEnterYes,
		Probability: prob,
		Confidence:  conf,
		CreatedAt:   testNow,
	}
}

func testConfig() Config {
	return Config{
		MinEdge:        0.06,
		MinConfidence:  0.60,
		KellyFraction:  0.35,
		MaxPositionPct: 0.05,
	}
}

func TestSize_ProducesTradeOnSufficientEdge(t *testing.T) {
	s := New(testConfig(), nil)
	acct := Account{Balance: 1000, BaselineBalance: 1000}

	// edge 0.10 sobre precio 0.50: Kelly pleno 0.20, aplicado
	// 0.20 × 0.35 × 0.75 = 0.0525 → $52.50, capado al 5% = $50.
	trade, ok := s.Size(entryDecision(0.60, 0.75), deepSnapshot(), acct, testNow)
	require.True(t, ok)

	assert.Equal(t, domain.SideYes, trade.Side)
	assert.Equal(t, "dec-1", trade.DecisionID)
	assert.InDelta(t, 50.0, trade.SizeUSD, 1e-9)
	assert.InDelta(t, 100.0, trade.Shares, 1e-9)
	assert.InDelta(t, 0.50, trade.Price, 1e-9)
}

func TestSize_RejectsBelowMinEdge(t *testing.T) {
	s := New(testConfig(), nil)
	acct := Account{Balance: 1000, BaselineBalance: 1000}

	// edge 0.04 < 0.06: no se produce trade.
	_, ok := s.Size(entryDecision(0.54, 0.75), deepSnapshot(), acct, testNow)
	assert.False(t, ok)
}

func TestSize_RejectsLowConfidence(t *testing.T) {
	s := New(testConfig(), nil)
	acct := Account{Balance: 1000, BaselineBalance: 1000}

	_, ok := s.Size(entryDecision(0.60, 0.50), deepSnapshot(), acct, testNow)
	assert.False(t, ok)
}

func TestSize_CapsAtMaxPositionPct(t *testing.T) {
	cfg := testConfig()
	cfg.KellyFraction = 1.0 // Kelly pleno para forzar el tope
	s := New(cfg, nil)
	acct := Account{Balance: 1000, BaselineBalance: 1000}

	trade, ok := s.Size(entryDecision(0.70, 0.90), deepSnapshot(), acct, testNow)
	require.True(t, ok)
	assert.InDelta(t, 50.0, trade.SizeUSD, 1e-9)
}

func TestSize_IgnoresNonEntryActions(t *testing.T) {
	s := New(testConfig(), nil)
	acct := Account{Balance: 1000, BaselineBalance: 1000}

	dec := entryDecision(0.60, 0.75)
	dec.Action = domain.ActionHold
	_, ok := s.Size(dec, deepSnapshot(), acct, testNow)
	assert.False(t, ok)

	dec.Action = domain.ActionExit
	_, ok = s.Size(dec, deepSnapshot(), acct, testNow)
	assert.False(t, ok)
}

func TestDrawdownMultiplier_Table(t *testing.T) {
	assert.Equal(t, 1.0, drawdownMultiplier(0.0))
	assert.Equal(t, 1.0, drawdownMultiplier(0.05))
	assert.Equal(t, 0.5, drawdownMultiplier(0.10))
	assert.Equal(t, 0.5, drawdownMultiplier(0.15))
	assert.Equal(t, 0.25, drawdownMultiplier(0.20))
	assert.Equal(t, 0.25, drawdownMultiplier(0.35))
}

func TestSize_DrawdownHalvesSize(t *testing.T) {
	s := New(testConfig(), nil)
	acct := Account{Balance: 1000, BaselineBalance: 1000, Drawdown: 0.10}

	trade, ok := s.Size(entryDecision(0.60, 0.75), deepSnapshot(), acct, testNow)
	require.True(t, ok)
	// 52.50 × 0.5 = 26.25, por debajo del tope del 5%.
	assert.InDelta(t, 26.25, trade.SizeUSD, 1e-9)
}

func TestSize_DrawdownHaltStopsSizing(t *testing.T) {
	cfg := testConfig()
	cfg.DrawdownHaltPct = 0.25
	s := New(cfg, nil)
	acct := Account{Balance: 1000, BaselineBalance: 1000, Drawdown: 0.30}

	_, ok := s.Size(entryDecision(0.60, 0.90), deepSnapshot(), acct, testNow)
	assert.False(t, ok)
}

func TestGrowthMultiplier_SqrtAndClamp(t *testing.T) {
	assert.InDelta(t, 1.0, growthMultiplier(Account{Balance: 1000, BaselineBalance: 1000}), 1e-9)
	// 4× de crecimiento → 2× de tamaño, justo en el tope.
	assert.InDelta(t, 2.0, growthMultiplier(Account{Balance: 4000, BaselineBalance: 1000}), 1e-9)
	// 9× de crecimiento se clampa igualmente a 2.0.
	assert.InDelta(t, 2.0, growthMultiplier(Account{Balance: 9000, BaselineBalance: 1000}), 1e-9)
	// Balance a la mitad → sqrt(0.5) ≈ 0.707.
	assert.InDelta(t, 0.7071, growthMultiplier(Account{Balance: 500, BaselineBalance: 1000}), 1e-3)
	// Sin baseline no hay ajuste.
	assert.InDelta(t, 1.0, growthMultiplier(Account{Balance: 500}), 1e-9)
}

func TestPerformance_StreakMultiplier(t *testing.T) {
	p := NewPerformance()
	assert.Equal(t, 1.0, p.StreakMultiplier())

	p.RecordResult(10, testNow)
	p.RecordResult(10, testNow)
	assert.Equal(t, 1.0, p.StreakMultiplier()) // dos wins aún no escalan

	p.RecordResult(10, testNow)
	assert.InDelta(t, 1.25, p.StreakMultiplier(), 1e-9)
	p.RecordResult(10, testNow)
	assert.InDelta(t, 1.5, p.StreakMultiplier(), 1e-9)

	for i := 0; i < 10; i++ {
		p.RecordResult(10, testNow)
	}
	assert.InDelta(t, 2.0, p.StreakMultiplier(), 1e-9) // techo

	p.RecordResult(-5, testNow)
	assert.Equal(t, 1.0, p.StreakMultiplier()) // la racha se corta
	p.RecordResult(-5, testNow)
	assert.InDelta(t, 0.75, p.StreakMultiplier(), 1e-9)

	for i := 0; i < 10; i++ {
		p.RecordResult(-5, testNow)
	}
	assert.InDelta(t, 0.5, p.StreakMultiplier(), 1e-9) // suelo
}

func TestPerformance_KellyMultiplierLearning(t *testing.T) {
	p := NewPerformance()
	assert.Equal(t, 1.0, p.KellyMultiplier())

	// Con menos de 10 resultados no se ajusta.
	for i := 0; i < 9; i++ {
		p.RecordResult(10, testNow)
	}
	assert.Equal(t, 1.0, p.KellyMultiplier())

	// Win rate al 100%: el multiplicador sube poco a poco.
	p.RecordResult(10, testNow)
	assert.Greater(t, p.KellyMultiplier(), 1.0)

	// Una tanda larga de pérdidas lo arrastra hasta el suelo.
	for i := 0; i < 60; i++ {
		p.RecordResult(-10, testNow)
	}
	assert.InDelta(t, 0.5, p.KellyMultiplier(), 1e-9)
}

func TestSize_DynamicEdgeTightensOnLosingStreak(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicEdge = true
	s := New(cfg, nil)
	s.Performance().RecordResult(-5, testNow)
	s.Performance().RecordResult(-5, testNow)

	acct := Account{Balance: 1000, BaselineBalance: 1000}
	// edge 0.07 supera el umbral base 0.06 pero no el endurecido 0.078.
	_, ok := s.Size(entryDecision(0.57, 0.75), deepSnapshot(), acct, testNow)
	assert.False(t, ok)

	cfg.DynamicEdge = false
	s2 := New(cfg, nil)
	_, ok = s2.Size(entryDecision(0.57, 0.75), deepSnapshot(), acct, testNow)
	assert.True(t, ok)
}

func TestSize_DynamicEdgeRelaxesOnWinningStreak(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicEdge = true
	s := New(cfg, nil)
	for i := 0; i < 3; i++ {
		s.Performance().RecordResult(10, testNow)
	}

	acct := Account{Balance: 1000, BaselineBalance: 1000}
	// edge 0.05 < 0.06 base, pero el umbral relajado es 0.042.
	trade, ok := s.Size(entryDecision(0.55, 0.80), deepSnapshot(), acct, testNow)
	assert.True(t, ok)
	assert.Positive(t, trade.SizeUSD)
}

func TestSize_ConservativeSizeFactor(t *testing.T) {
	s := New(testConfig(), nil)
	acct := Account{Balance: 1000, BaselineBalance: 1000}

	dec := entryDecision(0.60, 0.75)
	dec.SizeFactor = 0.5
	trade, ok := s.Size(dec, deepSnapshot(), acct, testNow)
	require.True(t, ok)
	assert.InDelta(t, 26.25, trade.SizeUSD, 1e-9)
}

func TestLiquidityTimeMultiplier_ThinBookAndNearResolution(t *testing.T) {
	snap := deepSnapshot()
	assert.InDelta(t, 1.0, liquidityTimeMultiplier(snap, domain.SideYes, testNow), 1e-9)

	thin := snap
	thin.YesBook = domain.OrderBook{
		Asks: []domain.BookEntry{{Price: 0.51, Size: 100}}, // $51 de profundidad
	}
	assert.InDelta(t, 0.25, liquidityTimeMultiplier(thin, domain.SideYes, testNow), 1e-9)

	near := snap
	near.Market.EndDate = testNow.Add(12 * time.Hour)
	assert.InDelta(t, 0.5, liquidityTimeMultiplier(near, domain.SideYes, testNow), 1e-9)

	// Las dos penalizaciones combinadas no bajan del suelo 0.25.
	both := thin
	both.Market.EndDate = testNow.Add(12 * time.Hour)
	assert.InDelta(t, 0.25, liquidityTimeMultiplier(both, domain.SideYes, testNow), 1e-9)
}
