package domain

import "time"

// PositionStatus es el estado de vida de una posición.
type PositionStatus string

const (
	PositionOpen             PositionStatus = "OPEN"
	PositionPartiallyClosing PositionStatus = "PARTIALLY_CLOSING"
	PositionClosed           PositionStatus = "CLOSED"
)

// Position es una posición abierta en un mercado.
// Se crea con el primer fill de un trade admitido, se muta con fills parciales
// y órdenes de salida, y se archiva al cerrarse del todo.
type Position struct {
	ID          string
	ConditionID string
	Question    string
	Category    string
	Side        Side
	EntryPrice  float64 // precio promedio de entrada
	Shares      float64 // shares vivos (entrada - salidas ejecutadas)
	CostUSD     float64 // cost basis de los shares vivos
	OpenedAt    time.Time
	Status      PositionStatus
	RealizedPnL float64
	StopLoss    float64 // precio de stop; 0 = sin stop
	TakeProfit  float64 // precio de take profit; 0 = sin TP
	ClosedAt    *time.Time
	DecisionID  string   // decisión que originó la posición
	SignalIDs   []string // señales contribuyentes, para el feedback de accuracy
}

// UnrealizedPnL calcula el P&L no realizado al precio actual del lado.
func (p Position) UnrealizedPnL(currentPrice float64) float64 {
	if p.Shares <= 0 || currentPrice <= 0 {
		return 0
	}
	return p.Shares*currentPrice - p.CostUSD
}

// ApplyEntryFill incorpora un fill de entrada: promedia el precio y suma shares.
func (p *Position) ApplyEntryFill(shares, price float64) {
	if shares <= 0 || price <= 0 {
		return
	}
	newCost := p.CostUSD + shares*price
	p.Shares += shares
	p.CostUSD = newCost
	if p.Shares > 0 {
		p.EntryPrice = p.CostUSD / p.Shares
	}
}

// ApplyExitFill incorpora un fill de salida: reduce shares, realiza P&L
// proporcional al cost basis y devuelve el P&L realizado en este fill.
func (p *Position) ApplyExitFill(shares, price float64, now time.Time) float64 {
	if shares <= 0 || p.Shares <= 0 {
		return 0
	}
	if shares > p.Shares {
		shares = p.Shares
	}
	costPortion := p.CostUSD * (shares / p.Shares)
	pnl := shares*price - costPortion

	p.Shares -= shares
	p.CostUSD -= costPortion
	p.RealizedPnL += pnl

	if p.Shares <= 1e-9 {
		p.Shares = 0
		p.CostUSD = 0
		p.Status = PositionClosed
		t := now
		p.ClosedAt = &t
	} else if p.Status == PositionOpen {
		p.Status = PositionPartiallyClosing
	}
	return pnl
}

// StopTriggered devuelve true si el precio actual cruza el stop-loss.
func (p Position) StopTriggered(currentPrice float64) bool {
	return p.StopLoss > 0 && currentPrice > 0 && currentPrice <= p.StopLoss
}

// TakeProfitTriggered devuelve true si el precio actual cruza el take-profit.
func (p Position) TakeProfitTriggered(currentPrice float64) bool {
	return p.TakeProfit > 0 && currentPrice >= p.TakeProfit
}

// HoldingTime devuelve cuánto lleva abierta la posición.
func (p Position) HoldingTime(now time.Time) time.Duration {
	if p.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(p.OpenedAt)
}
