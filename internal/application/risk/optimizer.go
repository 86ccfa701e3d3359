package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// OptimizerConfig controla el optimizador periódico de cartera.
type OptimizerConfig struct {
	MaxPositionPct   float64       // peso máximo de una posición sobre el equity
	StaleHoldingAge  time.Duration // antigüedad a partir de la cual una posición plana se sugiere cerrar
	StalePnLBand     float64       // banda de P&L (fracción del costo) que cuenta como "plana"
	MinTrimUSD       float64       // recortes menores a esto no se sugieren
}

// DefaultOptimizerConfig devuelve los umbrales por defecto.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		MaxPositionPct:  0.15,
		StaleHoldingAge: 7 * 24 * time.Hour,
		StalePnLBand:    0.02,
		MinTrimUSD:      5.0,
	}
}

// SuggestionKind clasifica la acción sugerida por el optimizador.
type SuggestionKind string

const (
	SuggestTrim  SuggestionKind = "trim"
	SuggestClose SuggestionKind = "close"
)

// Suggestion es una recomendación de rebalanceo. Es advisory: el engine la
// publica como evento y sólo la ejecuta si el modo de rebalanceo automático
// está activo, pasando por la admisión normal.
type Suggestion struct {
	Kind       SuggestionKind
	PositionID string
	ConditionID string
	Shares     float64 // shares a vender (todas, si Kind == close)
	Reason     string
}

// Optimizer revisa la cartera abierta y propone recortes.
type Optimizer struct {
	cfg OptimizerConfig
}

// NewOptimizer crea el optimizador.
func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	return &Optimizer{cfg: cfg}
}

// Suggest evalúa las posiciones abiertas contra los precios actuales y
// devuelve las sugerencias ordenadas por tamaño de recorte descendente.
func (o *Optimizer) Suggest(positions []domain.Position, state domain.RiskState, prices map[string]float64, now time.Time) []Suggestion {
	equity := state.Equity()
	if equity <= 0 {
		return nil
	}

	var out []Suggestion
	for _, pos := range positions {
		current, ok := prices[pos.ConditionID]
		if !ok || current <= 0 {
			continue
		}
		valueUSD := pos.Shares * current

		// Posición sobredimensionada: recortar hasta el peso máximo.
		maxUSD := o.cfg.MaxPositionPct * equity
		if valueUSD > maxUSD {
			trimUSD := valueUSD - maxUSD
			if trimUSD >= o.cfg.MinTrimUSD {
				out = append(out, Suggestion{
					Kind:        SuggestTrim,
					PositionID:  pos.ID,
					ConditionID: pos.ConditionID,
					Shares:      trimUSD / current,
					Reason:      fmt.Sprintf("position $%.2f above %.0f%% weight cap", valueUSD, 100*o.cfg.MaxPositionPct),
				})
			}
			continue
		}

		// Posición plana y vieja: el capital rinde más en otro mercado.
		if o.cfg.StaleHoldingAge > 0 && pos.HoldingTime(now) >= o.cfg.StaleHoldingAge {
			pnl := pos.UnrealizedPnL(current)
			cost := pos.CostUSD
			if cost > 0 && pnl > -o.cfg.StalePnLBand*cost && pnl < o.cfg.StalePnLBand*cost {
				out = append(out, Suggestion{
					Kind:        SuggestClose,
					PositionID:  pos.ID,
					ConditionID: pos.ConditionID,
					Shares:      pos.Shares,
					Reason:      fmt.Sprintf("flat for %s, freeing $%.2f", pos.HoldingTime(now).Round(time.Hour), valueUSD),
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Shares > out[j].Shares })
	return out
}
