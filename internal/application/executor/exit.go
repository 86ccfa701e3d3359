package executor

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// ExitReason identifica qué regla disparó la salida.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitTimeLimit  ExitReason = "time_limit"
	ExitSignal     ExitReason = "signal"     // consenso de señales en contra
	ExitRebalance  ExitReason = "rebalance"  // sugerencia del optimizador
	ExitEmergency  ExitReason = "emergency"  // liquidación aprobada por el operador
)

// ExitConfig gobierna la política de salida de posiciones.
type ExitConfig struct {
	MaxHolding      time.Duration // antigüedad máxima de una posición; 0 = sin límite
	TrancheFraction float64       // fracción de la posición por tramo en salidas graduales
}

// DefaultExitConfig devuelve la política de producción.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		MaxHolding:      14 * 24 * time.Hour,
		TrancheFraction: 0.5,
	}
}

// ExitIntent es una salida decidida pero aún no ejecutada.
type ExitIntent struct {
	PositionID string
	Reason     ExitReason
	Shares     float64
	Urgency    Urgency
}

// EvaluateExit aplica las reglas de salida sobre una posición abierta.
// Devuelve ok=false si ninguna regla dispara. Un stop-loss siempre manda:
// sale la posición entera con urgencia máxima. El take-profit y el límite
// de tiempo salen gradualmente, por tramos, para no barrer books finos.
func EvaluateExit(pos domain.Position, currentPrice float64, now time.Time, cfg ExitConfig) (ExitIntent, bool) {
	if pos.Shares <= 0 || pos.Status == domain.PositionClosed {
		return ExitIntent{}, false
	}

	if pos.StopTriggered(currentPrice) {
		return ExitIntent{
			PositionID: pos.ID,
			Reason:     ExitStopLoss,
			Shares:     pos.Shares,
			Urgency:    UrgencyHigh,
		}, true
	}

	if pos.TakeProfitTriggered(currentPrice) {
		return ExitIntent{
			PositionID: pos.ID,
			Reason:     ExitTakeProfit,
			Shares:     tranche(pos.Shares, cfg.TrancheFraction),
			Urgency:    UrgencyNormal,
		}, true
	}

	if cfg.MaxHolding > 0 && pos.HoldingTime(now) >= cfg.MaxHolding {
		return ExitIntent{
			PositionID: pos.ID,
			Reason:     ExitTimeLimit,
			Shares:     tranche(pos.Shares, cfg.TrancheFraction),
			Urgency:    UrgencyLow,
		}, true
	}

	return ExitIntent{}, false
}

// SignalExit arma la salida completa dictada por el agregador.
func SignalExit(pos domain.Position) ExitIntent {
	return ExitIntent{
		PositionID: pos.ID,
		Reason:     ExitSignal,
		Shares:     pos.Shares,
		Urgency:    UrgencyNormal,
	}
}

// RebalanceExit arma el recorte parcial sugerido por el optimizador.
func RebalanceExit(pos domain.Position, shares float64) ExitIntent {
	if shares > pos.Shares {
		shares = pos.Shares
	}
	return ExitIntent{
		PositionID: pos.ID,
		Reason:     ExitRebalance,
		Shares:     shares,
		Urgency:    UrgencyLow,
	}
}

// tranche devuelve el tamaño del tramo, nunca menor que el residuo que
// dejaría un resto inoperable.
func tranche(shares, fraction float64) float64 {
	if fraction <= 0 || fraction >= 1 {
		return shares
	}
	t := shares * fraction
	// Si el resto sería polvo, vender todo de una vez.
	if shares-t < 1 {
		return shares
	}
	return t
}

func (r ExitReason) String() string { return string(r) }

// Describe arma la línea de log del intent.
func (i ExitIntent) Describe() string {
	return fmt.Sprintf("%s: %.2f shares (urgency %d)", i.Reason, i.Shares, i.Urgency)
}
