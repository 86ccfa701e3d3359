package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Notifier entrega los eventos estructurados del core al exterior.
// El formato y el canal de salida son responsabilidad de la implementación.
type Notifier interface {
	// Notify entrega un evento. Nunca debe bloquear el loop de evaluación:
	// los errores se loguean y se descartan.
	Notify(ctx context.Context, event domain.Event) error

	// NotifyPositions presenta el estado actual del portfolio.
	NotifyPositions(ctx context.Context, positions []domain.Position, state domain.RiskState) error
}
