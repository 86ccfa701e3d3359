package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// ExecutionClient es el transport de órdenes hacia el exchange.
// La autenticación y el firmado son responsabilidad exclusiva del adapter.
type ExecutionClient interface {
	// SubmitOrder envía una orden límite y devuelve el ack del exchange.
	SubmitOrder(ctx context.Context, order domain.Order) (domain.SubmitAck, error)

	// PollOrder consulta el estado de fill de una orden viva.
	PollOrder(ctx context.Context, externalID string) (domain.OrderUpdate, error)

	// CancelOrder cancela una orden por su ID externo.
	CancelOrder(ctx context.Context, externalID string) error

	// GetBalance devuelve el balance USDC disponible.
	GetBalance(ctx context.Context) (float64, error)
}
