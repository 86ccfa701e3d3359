package domain

import (
	"fmt"
	"time"
)

// OrderStatus es el estado de una orden dentro del ciclo de vida del executor.
type OrderStatus string

const (
	OrderPlanning        OrderStatus = "PLANNING"
	OrderSubmitting      OrderStatus = "SUBMITTING"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderFailed          OrderStatus = "FAILED"
)

// Terminal devuelve true si el estado no admite más transiciones.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderFailed
}

// orderTransitions es la tabla fija de transiciones válidas.
// El estado actual siempre es función del log de fills más estas transiciones;
// nunca se muta una orden fuera de Transition/RecordFill.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPlanning:        {OrderSubmitting, OrderCancelled, OrderFailed},
	OrderSubmitting:      {OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderFailed, OrderSubmitting},
	OrderPartiallyFilled: {OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderFailed, OrderSubmitting},
}

// Fill es una entrada del log append-only de fills de una orden.
type Fill struct {
	Shares    float64
	Price     float64
	Timestamp time.Time
}

// Order es una orden gestionada exclusivamente por el smart executor
// durante su vida. PositionID es vacío para órdenes de entrada.
type Order struct {
	ID          string
	DecisionID  string
	PositionID  string // "" para entradas
	ConditionID string
	TokenID     string
	Side        Side
	Exit        bool    // true si la orden cierra posición
	LimitPrice  float64
	Shares      float64 // tamaño pedido
	Status      OrderStatus
	Retries     int
	Fills       []Fill // log append-only; los fills nunca se revierten
	CreatedAt   time.Time
	ExternalID  string // id asignado por el transport de ejecución
}

// Transition valida y aplica un cambio de estado según la tabla fija.
func (o *Order) Transition(to OrderStatus) error {
	if o.Status.Terminal() {
		return fmt.Errorf("order %s: transition %s → %s: terminal state", o.ID, o.Status, to)
	}
	for _, allowed := range orderTransitions[o.Status] {
		if allowed == to {
			o.Status = to
			return nil
		}
	}
	return fmt.Errorf("order %s: invalid transition %s → %s", o.ID, o.Status, to)
}

// RecordFill añade un fill al log y transiciona el estado que corresponda.
// Un fill que completa el tamaño pedido lleva a Filled; si no, a PartiallyFilled.
func (o *Order) RecordFill(shares, price float64, now time.Time) error {
	if shares <= 0 {
		return fmt.Errorf("order %s: fill with non-positive shares %.4f", o.ID, shares)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("order %s: fill on terminal state %s", o.ID, o.Status)
	}
	if o.FilledShares()+shares > o.Shares+1e-9 {
		return fmt.Errorf("order %s: overfill %.4f > %.4f", o.ID, o.FilledShares()+shares, o.Shares)
	}

	o.Fills = append(o.Fills, Fill{Shares: shares, Price: price, Timestamp: now})

	if o.RemainingShares() <= 1e-9 {
		return o.Transition(OrderFilled)
	}
	return o.Transition(OrderPartiallyFilled)
}

// FilledShares devuelve los shares ejecutados, derivados del log de fills.
func (o Order) FilledShares() float64 {
	var total float64
	for _, f := range o.Fills {
		total += f.Shares
	}
	return total
}

// RemainingShares devuelve los shares pendientes de ejecución.
func (o Order) RemainingShares() float64 {
	rem := o.Shares - o.FilledShares()
	if rem < 0 {
		return 0
	}
	return rem
}

// AvgFillPrice devuelve el precio promedio ponderado de los fills.
func (o Order) AvgFillPrice() float64 {
	var shares, cost float64
	for _, f := range o.Fills {
		shares += f.Shares
		cost += f.Shares * f.Price
	}
	if shares == 0 {
		return 0
	}
	return cost / shares
}

// FilledUSD devuelve el valor en USDC de los fills ejecutados.
func (o Order) FilledUSD() float64 {
	var cost float64
	for _, f := range o.Fills {
		cost += f.Shares * f.Price
	}
	return cost
}
