package domain

import "time"

// Action es la acción resultante de agregar las señales de un mercado.
type Action string

const (
	ActionEnterYes Action = "ENTER_YES"
	ActionEnterNo  Action = "ENTER_NO"
	ActionExit     Action = "EXIT"
	ActionHold     Action = "HOLD"
)

// IsEntry devuelve true si la acción abre posición.
func (a Action) IsEntry() bool {
	return a == ActionEnterYes || a == ActionEnterNo
}

// EntrySide devuelve el lado de entrada de la acción.
// Solo tiene sentido si IsEntry().
func (a Action) EntrySide() Side {
	if a == ActionEnterNo {
		return SideNo
	}
	return SideYes
}

// AggregatedDecision es el consenso de todas las señales activas de un mercado
// en un ciclo de evaluación. Se crea una vez por ciclo y se consume de inmediato.
type AggregatedDecision struct {
	ID          string
	ConditionID string
	Action      Action
	Probability float64 // probabilidad de consenso para el lado de la acción
	Confidence  float64 // confianza de consenso, ∈ [0,1]
	Agreement   float64 // fracción del peso total que respalda el lado mayoritario
	SizeFactor  float64 // 1.0 normal; <1 si el modo de conflicto reduce tamaño
	SignalIDs   []string
	CreatedAt   time.Time
}

// CandidateTrade es un trade propuesto por el sizer, pendiente de admisión.
// Efímero: lo produce el sizer y lo consume el risk manager.
type CandidateTrade struct {
	DecisionID  string
	ConditionID string
	Question    string
	Category    string
	Side        Side
	Price       float64 // precio de mercado del lado al momento de sizing
	SizeUSD     float64
	Shares      float64
	Rebalance   bool // true si lo emitió el optimizador de portfolio
}

// ReducedTo devuelve una copia del candidato recortada a sizeUSD,
// recalculando los shares al mismo precio.
func (ct CandidateTrade) ReducedTo(sizeUSD float64) CandidateTrade {
	out := ct
	out.SizeUSD = sizeUSD
	if ct.Price > 0 {
		out.Shares = sizeUSD / ct.Price
	}
	return out
}
