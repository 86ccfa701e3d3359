// Package paper implementa ports.ExecutionClient con fills simulados: el
// mismo pipeline de decisión corre completo sin enviar órdenes reales.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/google/uuid"
)

// paperOrder es el estado interno de una orden simulada.
type paperOrder struct {
	order     domain.Order
	filled    float64
	cancelled bool
	createdAt time.Time
}

// Client simula el exchange: toda orden aceptada se llena entera a su precio
// límite en el primer poll. Suficiente para validar el pipeline; no modela
// colas ni fills parciales.
type Client struct {
	mu      sync.Mutex
	balance float64
	orders  map[string]*paperOrder
	logger  *slog.Logger
}

// NewClient crea un exchange simulado con el balance inicial dado.
func NewClient(balance float64, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		balance: balance,
		orders:  make(map[string]*paperOrder),
		logger:  logger,
	}
}

// SubmitOrder acepta la orden salvo parámetros sin sentido o balance
// insuficiente, replicando los rechazos típicos del exchange real.
func (c *Client) SubmitOrder(_ context.Context, order domain.Order) (domain.SubmitAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if order.Shares <= 0 || order.LimitPrice <= 0 || order.LimitPrice >= 1 {
		return domain.SubmitAck{Accepted: false, Reason: "invalid order parameters"}, nil
	}
	if !order.Exit {
		cost := order.Shares * order.LimitPrice
		if cost > c.balance {
			return domain.SubmitAck{
				Accepted: false,
				Reason:   fmt.Sprintf("insufficient balance: need $%.2f, have $%.2f", cost, c.balance),
			}, nil
		}
	}

	id := uuid.NewString()
	c.orders[id] = &paperOrder{order: order, createdAt: time.Now()}
	c.logger.Debug("paper order accepted",
		"external_id", id,
		"token_id", order.TokenID,
		"shares", order.Shares,
		"price", order.LimitPrice,
		"exit", order.Exit,
	)
	return domain.SubmitAck{ExternalID: id, Accepted: true}, nil
}

// PollOrder llena la orden entera al precio límite en la primera consulta.
func (c *Client) PollOrder(_ context.Context, externalID string) (domain.OrderUpdate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	po, ok := c.orders[externalID]
	if !ok {
		return domain.OrderUpdate{}, fmt.Errorf("paper.PollOrder: unknown order %s", externalID)
	}
	if po.cancelled {
		return domain.OrderUpdate{ExternalID: externalID, Done: true, Cancelled: true,
			FilledShares: po.filled, AvgFillPrice: po.order.LimitPrice}, nil
	}

	if po.filled < po.order.Shares {
		po.filled = po.order.Shares
		notional := po.order.Shares * po.order.LimitPrice
		if po.order.Exit {
			c.balance += notional
		} else {
			c.balance -= notional
		}
	}

	return domain.OrderUpdate{
		ExternalID:   externalID,
		FilledShares: po.filled,
		AvgFillPrice: po.order.LimitPrice,
		Done:         true,
	}, nil
}

// CancelOrder marca la orden como cancelada si aún no se llenó.
func (c *Client) CancelOrder(_ context.Context, externalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	po, ok := c.orders[externalID]
	if !ok {
		return fmt.Errorf("paper.CancelOrder: unknown order %s", externalID)
	}
	if po.filled < po.order.Shares {
		po.cancelled = true
	}
	return nil
}

// GetBalance devuelve el balance simulado.
func (c *Client) GetBalance(context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}
