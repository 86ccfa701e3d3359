package sizer

import (
	"sync"
	"time"
)

const (
	// Ventana de resultados recientes para el multiplicador aprendido.
	recentWindow = 50

	kellyMultMin = 0.5
	kellyMultMax = 2.0

	streakMultMin = 0.5
	streakMultMax = 2.0
)

// tradeOutcome es un resultado cerrado tal como lo ve el sizer.
type tradeOutcome struct {
	won      bool
	pnl      float64
	closedAt time.Time
}

// Performance acumula resultados de trades cerrados y deriva de ellos los
// multiplicadores de racha y el multiplicador de Kelly aprendido.
type Performance struct {
	mu sync.Mutex

	winStreak  int
	loseStreak int
	recent     []tradeOutcome
	kellyMult  float64
}

// NewPerformance crea un tracker neutro (multiplicadores en 1.0).
func NewPerformance() *Performance {
	return &Performance{kellyMult: 1.0}
}

// RecordResult registra un trade cerrado y ajusta el estado interno.
func (p *Performance) RecordResult(pnl float64, closedAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	won := pnl > 0
	if won {
		p.winStreak++
		p.loseStreak = 0
	} else {
		p.loseStreak++
		p.winStreak = 0
	}

	p.recent = append(p.recent, tradeOutcome{won: won, pnl: pnl, closedAt: closedAt})
	if len(p.recent) > recentWindow {
		p.recent = p.recent[len(p.recent)-recentWindow:]
	}

	p.adjustKellyMult()
}

// Streaks devuelve las rachas actuales (una de las dos siempre es cero).
func (p *Performance) Streaks() (wins, losses int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.winStreak, p.loseStreak
}

// StreakMultiplier sube escalonadamente con rachas ganadoras y baja con
// perdedoras. Clampeado a [0.5, 2.0].
func (p *Performance) StreakMultiplier() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.winStreak >= 3:
		m := 1.0 + 0.25*float64(p.winStreak-2)
		if m > streakMultMax {
			m = streakMultMax
		}
		return m
	case p.loseStreak >= 2:
		m := 1.0 - 0.25*float64(p.loseStreak-1)
		if m < streakMultMin {
			m = streakMultMin
		}
		return m
	default:
		return 1.0
	}
}

// KellyMultiplier devuelve el multiplicador aprendido de la ventana reciente.
func (p *Performance) KellyMultiplier() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kellyMult
}

// adjustKellyMult recalcula el multiplicador según el win rate reciente:
// por encima del 60% sube despacio, por debajo del 40% baja más rápido.
// Requiere el lock tomado.
func (p *Performance) adjustKellyMult() {
	if len(p.recent) < 10 {
		return
	}
	wins := 0
	for _, r := range p.recent {
		if r.won {
			wins++
		}
	}
	rate := float64(wins) / float64(len(p.recent))

	switch {
	case rate > 0.60:
		p.kellyMult *= 1.05
	case rate < 0.40:
		p.kellyMult *= 0.90
	}
	if p.kellyMult > kellyMultMax {
		p.kellyMult = kellyMultMax
	}
	if p.kellyMult < kellyMultMin {
		p.kellyMult = kellyMultMin
	}
}

// Restore carga rachas persistidas al arrancar.
func (p *Performance) Restore(winStreak, loseStreak int, kellyMult float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.winStreak = winStreak
	p.loseStreak = loseStreak
	if kellyMult >= kellyMultMin && kellyMult <= kellyMultMax {
		p.kellyMult = kellyMult
	}
}
