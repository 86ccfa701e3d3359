package domain

import "time"

// EventKind clasifica los eventos estructurados que el core emite al notifier.
type EventKind string

const (
	EventSignalGenerated   EventKind = "signal_generated"
	EventTradeAdmitted     EventKind = "trade_admitted"
	EventTradeReduced      EventKind = "trade_reduced"
	EventTradeRejected     EventKind = "trade_rejected"
	EventOrderFilled       EventKind = "order_filled"
	EventOrderFailed       EventKind = "order_failed"
	EventOrderCancelled    EventKind = "order_cancelled"
	EventPositionClosed    EventKind = "position_closed"
	EventDailyLimitWarning EventKind = "daily_limit_warning"
	EventDailyLimitBreach  EventKind = "daily_limit_breached"
	EventEmergencyAdvice   EventKind = "emergency_liquidation_recommended"
	EventRebalanceAdvice   EventKind = "rebalance_suggested"
	EventInvariantBreach   EventKind = "invariant_violation"
)

// Event es un evento estructurado para entrega externa.
// El mecanismo de entrega y formato final son responsabilidad del notifier.
type Event struct {
	Kind        EventKind
	ConditionID string
	Message     string
	At          time.Time
}

// PriceUpdate es una actualización de precio recibida por el stream del CLOB.
type PriceUpdate struct {
	TokenID   string
	Price     float64
	Timestamp time.Time
}

// SubmitAck es la respuesta del transport de ejecución a un submit.
type SubmitAck struct {
	ExternalID string
	Accepted   bool
	Reason     string // motivo del reject, si lo hay
}

// OrderUpdate es el estado de una orden consultado al transport.
type OrderUpdate struct {
	ExternalID   string
	FilledShares float64 // acumulado según el exchange
	AvgFillPrice float64
	Done         bool // el exchange ya no la considera viva
	Cancelled    bool
}

// ProbabilityEstimate es la salida del proveedor de modelo de probabilidad.
type ProbabilityEstimate struct {
	Probability float64
	Confidence  float64
}

// DailySummary es el resumen diario de trading y riesgo.
type DailySummary struct {
	Date            time.Time
	TradesAdmitted  int
	TradesReduced   int
	TradesRejected  int
	OrdersPlaced    int
	OrdersFilled    int
	OrdersFailed    int
	RealizedPnL     float64
	EndBalance      float64
	PeakEquity      float64
	MaxDrawdown     float64
	EndPhase        RiskPhase
	OpenPositions   int
	ExposureUSD     float64
}
