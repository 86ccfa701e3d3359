// Package sizer convierte una decisión agregada y el estado de la cuenta en
// un trade candidato dimensionado por Kelly fraccional.
package sizer

import (
	"math"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Config controla las puertas de entrada y el sizing.
type Config struct {
	MinEdge         float64 // edge mínimo para operar (gate de política, no error)
	MinConfidence   float64 // confianza de consenso mínima
	KellyFraction   float64 // multiplicador conservador sobre el Kelly pleno (p.ej. 0.35)
	MaxPositionPct  float64 // tope duro de una posición como fracción del balance
	DynamicEdge     bool    // umbral de edge dinámico según racha
	DrawdownHaltPct float64 // drawdown que detiene el sizing por completo; 0 = sin halt
}

// DefaultConfig devuelve valores conservadores de producción.
func DefaultConfig() Config {
	return Config{
		MinEdge:        0.05,
		MinConfidence:  0.60,
		KellyFraction:  0.35,
		MaxPositionPct: 0.05,
		DynamicEdge:    true,
	}
}

// Account es la vista del estado de cuenta que el sizer necesita.
type Account struct {
	Balance         float64
	BaselineBalance float64 // balance inicial, base del factor de crecimiento
	Drawdown        float64 // caída actual desde el pico, ∈ [0,1]
}

// Sizer produce CandidateTrades. Las evaluaciones concurrentes de mercados
// distintos comparten el tracker de performance, que es thread-safe.
type Sizer struct {
	cfg  Config
	perf *Performance
}

// New crea un Sizer. perf puede ser nil para empezar sin historial.
func New(cfg Config, perf *Performance) *Sizer {
	if perf == nil {
		perf = NewPerformance()
	}
	return &Sizer{cfg: cfg, perf: perf}
}

// Performance expone el tracker para que el engine registre resultados.
func (s *Sizer) Performance() *Performance { return s.perf }

// Size calcula el trade candidato para una decisión de entrada.
// Devuelve ok=false si algún gate de política rechaza la entrada:
// eso es un resultado esperado, no un error.
func (s *Sizer) Size(dec domain.AggregatedDecision, snap domain.Snapshot, acct Account, now time.Time) (domain.CandidateTrade, bool) {
	if !dec.Action.IsEntry() || acct.Balance <= 0 {
		return domain.CandidateTrade{}, false
	}

	side := dec.Action.EntrySide()
	price := snap.Market.Price(side)
	if price <= 0 || price >= 1 {
		return domain.CandidateTrade{}, false
	}

	edge := math.Abs(dec.Probability - price)
	if edge < s.minEdge(dec.Confidence) {
		return domain.CandidateTrade{}, false
	}
	if dec.Confidence < s.cfg.MinConfidence {
		return domain.CandidateTrade{}, false
	}

	if s.cfg.DrawdownHaltPct > 0 && acct.Drawdown >= s.cfg.DrawdownHaltPct {
		return domain.CandidateTrade{}, false
	}

	// Kelly binario: f* = (p_model − p_market) / (1 − p_market).
	fullKelly := (dec.Probability - price) / (1 - price)
	if fullKelly <= 0 {
		return domain.CandidateTrade{}, false
	}

	applied := fullKelly * s.cfg.KellyFraction * dec.Confidence

	// Modificadores dinámicos, cada uno clampeado por separado.
	applied *= s.perf.StreakMultiplier()
	applied *= s.perf.KellyMultiplier()
	applied *= growthMultiplier(acct)
	applied *= drawdownMultiplier(acct.Drawdown)
	applied *= volatilityMultiplier(snap)
	applied *= liquidityTimeMultiplier(snap, side, now)

	if dec.SizeFactor > 0 {
		applied *= dec.SizeFactor
	}

	sizeUSD := applied * acct.Balance

	// Tope duro: jamás por encima de max_position_pct × balance.
	maxUSD := s.cfg.MaxPositionPct * acct.Balance
	if sizeUSD > maxUSD {
		sizeUSD = maxUSD
	}
	if sizeUSD <= 0 {
		return domain.CandidateTrade{}, false
	}

	return domain.CandidateTrade{
		DecisionID:  dec.ID,
		ConditionID: snap.Market.ConditionID,
		Question:    snap.Market.Question,
		Category:    snap.Market.Category,
		Side:        side,
		Price:       price,
		SizeUSD:     sizeUSD,
		Shares:      sizeUSD / price,
	}, true
}

// minEdge devuelve el umbral de edge vigente. Con DynamicEdge, una racha
// ganadora con alta confianza lo baja 30% y una racha perdedora lo sube 30%.
func (s *Sizer) minEdge(confidence float64) float64 {
	base := s.cfg.MinEdge
	if !s.cfg.DynamicEdge {
		return base
	}
	wins, losses := s.perf.Streaks()
	if wins >= 3 && confidence >= 0.75 {
		return base * 0.7
	}
	if losses >= 2 {
		return base * 1.3
	}
	return base
}

// growthMultiplier escala con la raíz del crecimiento del balance:
// 4× de crecimiento → 2× de tamaño. Clampeado a [0.5, 2.0].
func growthMultiplier(acct Account) float64 {
	if acct.BaselineBalance <= 0 {
		return 1.0
	}
	m := math.Sqrt(acct.Balance / acct.BaselineBalance)
	return clamp(m, 0.5, 2.0)
}

// drawdownMultiplier aplica la tabla fija de protección por drawdown.
func drawdownMultiplier(dd float64) float64 {
	switch {
	case dd >= 0.20:
		return 0.25
	case dd >= 0.10:
		return 0.5
	default:
		return 1.0
	}
}

// volatilityMultiplier clasifica la volatilidad intradía implícita del book
// y devuelve el factor del bucket.
func volatilityMultiplier(snap domain.Snapshot) float64 {
	prices := recentPrices(snap)
	return domain.ClassifyVolatility(prices).SizeMultiplier()
}

// recentPrices aproxima la serie de precios reciente con los niveles del book:
// sin historial propio, el spread y la profundidad son el proxy disponible.
func recentPrices(snap domain.Snapshot) []float64 {
	book := snap.YesBook
	prices := make([]float64, 0, len(book.Bids)+len(book.Asks))
	for i := len(book.Bids) - 1; i >= 0; i-- {
		prices = append(prices, book.Bids[i].Price)
	}
	for _, a := range book.Asks {
		prices = append(prices, a.Price)
	}
	return prices
}

// liquidityTimeMultiplier reduce tamaño con books finos o resolución cercana.
// Clampeado a [0.25, 1.0].
func liquidityTimeMultiplier(snap domain.Snapshot, side domain.Side, now time.Time) float64 {
	m := 1.0

	book := snap.Book(side)
	depthUSD := 0.0
	for _, a := range book.Asks {
		depthUSD += a.Size * a.Price
	}
	switch {
	case depthUSD < 100:
		m *= 0.25
	case depthUSD < 500:
		m *= 0.5
	case depthUSD < 2000:
		m *= 0.75
	}

	hours := snap.Market.HoursToResolution(now)
	switch {
	case hours > 0 && hours < 24:
		m *= 0.5
	case hours > 0 && hours < 72:
		m *= 0.75
	}

	return clamp(m, 0.25, 1.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
