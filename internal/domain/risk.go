package domain

import "time"

// RiskPhase es la fase del limitador de riesgo diario.
type RiskPhase string

const (
	PhaseNormal  RiskPhase = "NORMAL"
	PhaseWarning RiskPhase = "WARNING"
	PhaseFrozen  RiskPhase = "FROZEN"
)

// RiskState es el estado de riesgo global del proceso: un solo escritor
// (el risk manager) lo muta bajo una sección crítica serializada.
// Se resetea en cada cambio de día de trading.
type RiskState struct {
	TradingDay       time.Time // día UTC actual, truncado a 24h
	DailyPnL         float64   // P&L realizado + no realizado del día
	TradesToday      int
	OpenPositions    int
	ExposureUSD      float64            // suma de posiciones abiertas en USD
	CategoryExposure map[string]float64 // exposición por categoría
	Phase            RiskPhase
	CooldownUntil    time.Time
	PeakEquity       float64
	Balance          float64
	AdmittedIDs      map[string]bool // decision IDs ya admitidos (idempotencia)
}

// NewRiskState crea un estado limpio para el día dado.
func NewRiskState(day time.Time, balance float64) *RiskState {
	return &RiskState{
		TradingDay:       day.UTC().Truncate(24 * time.Hour),
		Phase:            PhaseNormal,
		Balance:          balance,
		PeakEquity:       balance,
		CategoryExposure: make(map[string]float64),
		AdmittedIDs:      make(map[string]bool),
	}
}

// Drawdown devuelve la caída porcentual del equity actual respecto al pico.
func (rs *RiskState) Drawdown() float64 {
	if rs.PeakEquity <= 0 {
		return 0
	}
	dd := (rs.PeakEquity - rs.Equity()) / rs.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// Equity es el balance líquido más la exposición desplegada.
func (rs *RiskState) Equity() float64 {
	return rs.Balance + rs.ExposureUSD
}

// FreeBalance es el balance no comprometido en posiciones.
func (rs *RiskState) FreeBalance() float64 {
	return rs.Balance
}

// Frozen devuelve true si el estado está congelado y el cooldown sigue vigente.
func (rs *RiskState) Frozen(now time.Time) bool {
	return rs.Phase == PhaseFrozen && now.Before(rs.CooldownUntil)
}

// ResetDay reinicia los contadores diarios conservando balance, pico y exposición.
func (rs *RiskState) ResetDay(day time.Time) {
	rs.TradingDay = day.UTC().Truncate(24 * time.Hour)
	rs.DailyPnL = 0
	rs.TradesToday = 0
	rs.Phase = PhaseNormal
	rs.CooldownUntil = time.Time{}
	rs.AdmittedIDs = make(map[string]bool)
}

// RejectReason identifica el chequeo concreto que rechazó un candidato.
type RejectReason string

const (
	RejectDailyLimitCooldown   RejectReason = "daily_limit_cooldown"
	RejectTooManyTradesToday   RejectReason = "too_many_trades_today"
	RejectTooManyOpenPositions RejectReason = "too_many_open_positions"
	RejectCategoryExposure     RejectReason = "category_exposure"
	RejectCorrelatedExposure   RejectReason = "correlated_exposure"
	RejectTotalExposure        RejectReason = "total_exposure"
	RejectBalanceReserve       RejectReason = "balance_reserve"
	RejectDuplicateDecision    RejectReason = "duplicate_decision"
)

// Verdict es el resultado de la admisión de un candidato.
type Verdict string

const (
	VerdictAllow  Verdict = "ALLOW"
	VerdictReduce Verdict = "REDUCE"
	VerdictReject Verdict = "REJECT"
)

// Admission es la resolución del risk manager para un CandidateTrade.
// Todo candidato resuelve exactamente a uno de Allow/Reduce/Reject.
type Admission struct {
	Verdict Verdict
	Trade   CandidateTrade // el trade (posiblemente recortado) si Allow/Reduce
	Reason  RejectReason   // vacío salvo Reject
	Detail  string
}

// Allowed devuelve true si el trade puede ejecutarse (Allow o Reduce).
func (a Admission) Allowed() bool {
	return a.Verdict == VerdictAllow || a.Verdict == VerdictReduce
}

// TradeResult es el resultado de una posición cerrada, consumido por el
// feedback de accuracy y las métricas de streak del sizer.
type TradeResult struct {
	PositionID  string
	ConditionID string
	Category    string
	Side        Side
	PnL         float64
	Won         bool
	SignalIDs   []string
	ClosedAt    time.Time
}
