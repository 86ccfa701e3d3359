package risk

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// updatePhase reevalúa la fase del limitador diario a partir del P&L del día.
// Transiciones: NORMAL → WARNING al 70% del límite, WARNING → FROZEN al
// romperlo (arranca el cooldown), FROZEN → NORMAL sólo por cooldown vencido
// o rollover de día. La fase nunca retrocede de WARNING a NORMAL dentro del
// mismo día aunque el P&L se recupere. Requiere el lock tomado.
func (m *Manager) updatePhase(now time.Time) {
	rs := m.state
	limit := m.dailyLossLimit()
	loss := -rs.DailyPnL // positivo cuando hay pérdida

	switch rs.Phase {
	case domain.PhaseNormal:
		if loss >= limit {
			m.freeze(now, loss, limit)
		} else if loss >= m.cfg.WarningPct*limit {
			rs.Phase = domain.PhaseWarning
			m.logger.Warn("límite diario en zona de aviso",
				"daily_pnl", rs.DailyPnL, "limit", limit)
			m.pushEvent(domain.Event{
				Kind:    domain.EventDailyLimitWarning,
				Message: fmt.Sprintf("daily loss $%.2f at %.0f%% of $%.2f limit", loss, 100*loss/limit, limit),
				At:      now,
			})
		}
	case domain.PhaseWarning:
		if loss >= limit {
			m.freeze(now, loss, limit)
		}
	case domain.PhaseFrozen:
		if !now.Before(rs.CooldownUntil) {
			rs.Phase = domain.PhaseNormal
			rs.CooldownUntil = time.Time{}
			m.logger.Info("cooldown vencido, admisión reabierta")
		}
	}

	// Recomendación de liquidación de emergencia: sólo advisory, nunca
	// se liquida automáticamente.
	if m.cfg.EmergencyPct > 0 && loss >= m.cfg.EmergencyPct*limit {
		m.pushEvent(domain.Event{
			Kind:    domain.EventEmergencyAdvice,
			Message: fmt.Sprintf("daily loss $%.2f exceeds %.1fx the $%.2f limit", loss, m.cfg.EmergencyPct, limit),
			At:      now,
		})
	}
}

// freeze congela la admisión y arranca el cooldown. Requiere el lock.
func (m *Manager) freeze(now time.Time, loss, limit float64) {
	rs := m.state
	rs.Phase = domain.PhaseFrozen
	rs.CooldownUntil = now.Add(m.cfg.Cooldown)
	m.logger.Error("límite de pérdida diaria roto, admisión congelada",
		"daily_pnl", rs.DailyPnL,
		"limit", limit,
		"cooldown_until", rs.CooldownUntil,
	)
	m.pushEvent(domain.Event{
		Kind:    domain.EventDailyLimitBreach,
		Message: fmt.Sprintf("daily loss $%.2f broke $%.2f limit, frozen until %s", loss, limit, rs.CooldownUntil.Format(time.RFC3339)),
		At:      now,
	})
}

// RolloverDay reinicia los contadores diarios al cruzar la medianoche UTC.
// El nuevo límite diario se calcula sobre el equity con el que arranca el día.
func (m *Manager) RolloverDay(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := now.UTC().Truncate(24 * time.Hour)
	if day.Equal(m.state.TradingDay) {
		return
	}
	m.state.ResetDay(day)
	m.dayEquity = m.state.Equity()
	m.realized = 0
	m.unrealized = 0
	m.logger.Info("nuevo día de trading",
		"day", day.Format("2006-01-02"),
		"equity", m.dayEquity,
	)
}

// Summary arma el resumen del día con el estado actual.
func (m *Manager) Summary(now time.Time) domain.DailySummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.state
	return domain.DailySummary{
		Date:          rs.TradingDay,
		RealizedPnL:   m.realized,
		EndBalance:    rs.Balance,
		PeakEquity:    rs.PeakEquity,
		MaxDrawdown:   rs.Drawdown(),
		EndPhase:      rs.Phase,
		OpenPositions: rs.OpenPositions,
		ExposureUSD:   rs.ExposureUSD,
	}
}
