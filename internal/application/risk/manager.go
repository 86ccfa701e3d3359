// Package risk implementa el gestor de riesgo: admisión serializada de
// candidatos, límite de pérdida diaria con cooldown y sugerencias de
// rebalanceo de cartera.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Config son los límites operativos del gestor.
type Config struct {
	MaxDailyLossPct     float64       // pérdida máxima diaria como fracción del equity inicial del día
	MaxDailyLossAbs     float64       // tope absoluto en USD; 0 = sin tope absoluto
	WarningPct          float64       // fracción del límite diario que activa WARNING (p.ej. 0.70)
	EmergencyPct        float64       // múltiplo del límite que dispara la recomendación de liquidación
	Cooldown            time.Duration // duración del congelamiento tras romper el límite
	MaxTradesPerDay     int
	MaxOpenPositions    int
	MaxTotalExposurePct float64 // exposición total máxima como fracción del equity
	MaxCategoryPct      float64 // exposición por categoría como fracción del equity
	MaxCorrelatedPct    float64 // exposición en mercados correlacionados
	BalanceReservePct   float64 // fracción del equity que nunca se compromete
	MinTradeUSD         float64 // por debajo de esto un REDUCE pasa a REJECT
}

// DefaultConfig devuelve los límites de producción.
func DefaultConfig() Config {
	return Config{
		MaxDailyLossPct:     0.10,
		WarningPct:          0.70,
		EmergencyPct:        1.5,
		Cooldown:            4 * time.Hour,
		MaxTradesPerDay:     20,
		MaxOpenPositions:    10,
		MaxTotalExposurePct: 0.50,
		MaxCategoryPct:      0.20,
		MaxCorrelatedPct:    0.25,
		BalanceReservePct:   0.10,
		MinTradeUSD:         1.0,
	}
}

// Manager serializa toda mutación del RiskState: admitir y reservar es una
// sola sección crítica, de modo que dos candidatos concurrentes nunca ven
// el mismo headroom.
type Manager struct {
	mu         sync.Mutex
	cfg        Config
	state      *domain.RiskState
	dayEquity  float64 // equity al comenzar el día, base del límite diario
	realized   float64 // P&L realizado del día
	unrealized float64 // último mark de P&L no realizado
	correlator Correlator
	logger     *slog.Logger

	events []domain.Event // eventos emitidos bajo el lock, drenados por el engine
}

// NewManager crea el gestor con el estado inicial dado. correlator puede ser
// nil, en cuyo caso se usa la heurística por categoría.
func NewManager(cfg Config, state *domain.RiskState, correlator Correlator, logger *slog.Logger) *Manager {
	if correlator == nil {
		correlator = CategoryCorrelator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		state:      state,
		dayEquity:  state.Equity(),
		realized:   state.DailyPnL,
		correlator: correlator,
		logger:     logger,
	}
}

// dailyLossLimit devuelve el límite de pérdida del día en USD (positivo).
// Requiere el lock tomado.
func (m *Manager) dailyLossLimit() float64 {
	limit := m.cfg.MaxDailyLossPct * m.dayEquity
	if m.cfg.MaxDailyLossAbs > 0 && m.cfg.MaxDailyLossAbs < limit {
		limit = m.cfg.MaxDailyLossAbs
	}
	return limit
}

// Admit evalúa un candidato contra todos los límites y, si lo admite,
// reserva atómicamente su exposición. Los chequeos se aplican en orden
// fijo y el primero que falla determina la razón del rechazo.
func (m *Manager) Admit(trade domain.CandidateTrade, now time.Time) domain.Admission {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := m.state

	// Idempotencia: una decisión ya admitida no se vuelve a reservar.
	if rs.AdmittedIDs[trade.DecisionID] {
		return domain.Admission{
			Verdict: domain.VerdictReject,
			Reason:  domain.RejectDuplicateDecision,
			Detail:  fmt.Sprintf("decision %s already admitted", trade.DecisionID),
		}
	}

	if rs.Frozen(now) {
		return m.reject(trade, domain.RejectDailyLimitCooldown,
			fmt.Sprintf("frozen until %s", rs.CooldownUntil.Format(time.RFC3339)), now)
	}

	if rs.TradesToday >= m.cfg.MaxTradesPerDay {
		return m.reject(trade, domain.RejectTooManyTradesToday,
			fmt.Sprintf("%d trades today, max %d", rs.TradesToday, m.cfg.MaxTradesPerDay), now)
	}

	if !trade.Rebalance && rs.OpenPositions >= m.cfg.MaxOpenPositions {
		return m.reject(trade, domain.RejectTooManyOpenPositions,
			fmt.Sprintf("%d open positions, max %d", rs.OpenPositions, m.cfg.MaxOpenPositions), now)
	}

	equity := rs.Equity()
	size := trade.SizeUSD
	reduced := false

	// Exposición por categoría: recortar al headroom si no cabe entera.
	catCap := m.cfg.MaxCategoryPct * equity
	catUsed := rs.CategoryExposure[trade.Category]
	if catUsed+size > catCap {
		headroom := catCap - catUsed
		if headroom < m.cfg.MinTradeUSD {
			return m.reject(trade, domain.RejectCategoryExposure,
				fmt.Sprintf("category %q at %.2f of %.2f USD", trade.Category, catUsed, catCap), now)
		}
		size = headroom
		reduced = true
	}

	// Exposición correlacionada, con el mismo recorte al headroom.
	corrCap := m.cfg.MaxCorrelatedPct * equity
	corrUsed := m.correlatedExposure(trade)
	if corrUsed+size > corrCap {
		headroom := corrCap - corrUsed
		if headroom < m.cfg.MinTradeUSD {
			return m.reject(trade, domain.RejectCorrelatedExposure,
				fmt.Sprintf("correlated exposure %.2f of %.2f USD", corrUsed, corrCap), now)
		}
		size = headroom
		reduced = true
	}

	// Exposición total.
	totalCap := m.cfg.MaxTotalExposurePct * equity
	if rs.ExposureUSD+size > totalCap {
		headroom := totalCap - rs.ExposureUSD
		if headroom < m.cfg.MinTradeUSD {
			return m.reject(trade, domain.RejectTotalExposure,
				fmt.Sprintf("total exposure %.2f of %.2f USD", rs.ExposureUSD, totalCap), now)
		}
		size = headroom
		reduced = true
	}

	// Reserva de balance: nunca comprometer la fracción reservada.
	spendable := rs.Balance - m.cfg.BalanceReservePct*equity
	if size > spendable {
		if spendable < m.cfg.MinTradeUSD {
			return m.reject(trade, domain.RejectBalanceReserve,
				fmt.Sprintf("spendable %.2f USD below minimum", spendable), now)
		}
		size = spendable
		reduced = true
	}

	admitted := trade
	if reduced {
		admitted = trade.ReducedTo(size)
	}

	// Reserva atómica: se contabiliza dentro de la misma sección crítica
	// en la que se decidió, para que el siguiente candidato vea el
	// headroom ya consumido.
	rs.ExposureUSD += admitted.SizeUSD
	rs.CategoryExposure[admitted.Category] += admitted.SizeUSD
	rs.Balance -= admitted.SizeUSD
	rs.TradesToday++
	rs.OpenPositions++
	rs.AdmittedIDs[admitted.DecisionID] = true

	if rs.Balance < 0 {
		// Nunca debería pasar tras el chequeo de reserva.
		m.logger.Error("balance negativo tras reservar", "balance", rs.Balance)
		m.pushEvent(domain.Event{
			Kind:    domain.EventInvariantBreach,
			Message: fmt.Sprintf("negative balance %.2f after booking %s", rs.Balance, admitted.DecisionID),
			At:      now,
		})
	}

	verdict := domain.VerdictAllow
	kind := domain.EventTradeAdmitted
	if reduced {
		verdict = domain.VerdictReduce
		kind = domain.EventTradeReduced
	}
	m.pushEvent(domain.Event{
		Kind:        kind,
		ConditionID: admitted.ConditionID,
		Message:     fmt.Sprintf("%s %s $%.2f @ %.3f", admitted.Side, admitted.Question, admitted.SizeUSD, admitted.Price),
		At:          now,
	})

	return domain.Admission{Verdict: verdict, Trade: admitted}
}

// reject arma la admisión rechazada y emite el evento correspondiente.
// Requiere el lock tomado.
func (m *Manager) reject(trade domain.CandidateTrade, reason domain.RejectReason, detail string, now time.Time) domain.Admission {
	m.logger.Debug("candidato rechazado",
		"condition_id", trade.ConditionID,
		"reason", string(reason),
		"detail", detail,
	)
	m.pushEvent(domain.Event{
		Kind:        domain.EventTradeRejected,
		ConditionID: trade.ConditionID,
		Message:     fmt.Sprintf("%s: %s", reason, detail),
		At:          now,
	})
	return domain.Admission{Verdict: domain.VerdictReject, Reason: reason, Detail: detail}
}

// correlatedExposure suma la exposición ya desplegada en categorías que el
// correlator considera correlacionadas con el candidato. Requiere el lock.
func (m *Manager) correlatedExposure(trade domain.CandidateTrade) float64 {
	var total float64
	for cat, usd := range m.state.CategoryExposure {
		if m.correlator.Correlated(trade.Category, cat) {
			total += usd
		}
	}
	return total
}

// ReleaseFailed devuelve al estado la exposición de un trade admitido cuya
// ejecución falló sin fill alguno.
func (m *Manager) ReleaseFailed(trade domain.CandidateTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := m.state
	rs.ExposureUSD -= trade.SizeUSD
	rs.CategoryExposure[trade.Category] -= trade.SizeUSD
	rs.Balance += trade.SizeUSD
	rs.OpenPositions--
	if rs.ExposureUSD < 0 {
		rs.ExposureUSD = 0
	}
	if rs.CategoryExposure[trade.Category] < 0 {
		rs.CategoryExposure[trade.Category] = 0
	}
	if rs.OpenPositions < 0 {
		rs.OpenPositions = 0
	}
}

// AdjustBooking corrige la reserva cuando la ejecución llenó menos de lo
// admitido: libera la diferencia entre lo reservado y lo efectivamente gastado.
func (m *Manager) AdjustBooking(trade domain.CandidateTrade, spentUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	diff := trade.SizeUSD - spentUSD
	if diff <= 0 {
		return
	}
	rs := m.state
	rs.ExposureUSD -= diff
	rs.CategoryExposure[trade.Category] -= diff
	rs.Balance += diff
}

// BookPartialExit registra una salida parcial: libera el cost basis vendido,
// acredita el producto y actualiza el P&L diario sin dar la posición por
// cerrada.
func (m *Manager) BookPartialExit(category string, costBasisUSD, proceedsUSD, pnl float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := m.state
	rs.ExposureUSD -= costBasisUSD
	if rs.ExposureUSD < 0 {
		rs.ExposureUSD = 0
	}
	rs.CategoryExposure[category] -= costBasisUSD
	if rs.CategoryExposure[category] < 0 {
		rs.CategoryExposure[category] = 0
	}
	rs.Balance += proceedsUSD

	m.realized += pnl
	rs.DailyPnL = m.realized + m.unrealized
	if eq := rs.Equity(); eq > rs.PeakEquity {
		rs.PeakEquity = eq
	}
	m.updatePhase(now)
}

// BookClose registra el cierre de una posición: libera exposición, acredita
// el producto de la venta y actualiza el P&L diario y el limitador.
func (m *Manager) BookClose(result domain.TradeResult, costBasisUSD, proceedsUSD float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs := m.state
	rs.ExposureUSD -= costBasisUSD
	if rs.ExposureUSD < 0 {
		rs.ExposureUSD = 0
	}
	rs.CategoryExposure[result.Category] -= costBasisUSD
	if rs.CategoryExposure[result.Category] < 0 {
		rs.CategoryExposure[result.Category] = 0
	}
	rs.Balance += proceedsUSD
	rs.OpenPositions--
	if rs.OpenPositions < 0 {
		rs.OpenPositions = 0
	}

	m.realized += result.PnL
	rs.DailyPnL = m.realized + m.unrealized
	if eq := rs.Equity(); eq > rs.PeakEquity {
		rs.PeakEquity = eq
	}

	m.updatePhase(now)
}

// RecordUnrealized incorpora el mark de P&L no realizado del ciclo al
// limitador diario. El mark reemplaza al anterior, no se acumula.
func (m *Manager) RecordUnrealized(unrealized float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrealized = unrealized
	m.state.DailyPnL = m.realized + m.unrealized
	m.updatePhase(now)
}

// State devuelve una copia del estado para lectura.
func (m *Manager) State() domain.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.state
	cp.CategoryExposure = make(map[string]float64, len(m.state.CategoryExposure))
	for k, v := range m.state.CategoryExposure {
		cp.CategoryExposure[k] = v
	}
	cp.AdmittedIDs = make(map[string]bool, len(m.state.AdmittedIDs))
	for k, v := range m.state.AdmittedIDs {
		cp.AdmittedIDs[k] = v
	}
	return cp
}

// DrainEvents devuelve y limpia los eventos emitidos desde el último drain.
func (m *Manager) DrainEvents() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events
	m.events = nil
	return evs
}

// pushEvent encola un evento. Requiere el lock.
func (m *Manager) pushEvent(ev domain.Event) {
	m.events = append(m.events, ev)
}
