package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Storage persiste posiciones, trades resueltos y el estado de riesgo.
//
// Contrato de durabilidad: una posición no se considera cerrada hasta que su
// registro de cierre está durablemente escrito. Si la escritura falla, la
// implementación la retiene en un buffer y la reintenta de forma independiente
// sin bloquear el loop de decisión.
type Storage interface {
	// SavePosition inserta o actualiza una posición.
	SavePosition(ctx context.Context, pos domain.Position) error

	// SaveClosedPosition registra el cierre definitivo de una posición.
	// Devuelve error solo si ni siquiera pudo encolarse para retry.
	SaveClosedPosition(ctx context.Context, pos domain.Position, result domain.TradeResult) error

	// LoadOpenPositions devuelve las posiciones abiertas para rehidratar
	// el estado al arrancar.
	LoadOpenPositions(ctx context.Context) ([]domain.Position, error)

	// SaveRiskSnapshot persiste el estado de riesgo actual.
	SaveRiskSnapshot(ctx context.Context, state domain.RiskState) error

	// LoadRiskSnapshot devuelve el último estado de riesgo para el día dado.
	// ok=false si no hay snapshot para ese día.
	LoadRiskSnapshot(ctx context.Context, day time.Time) (domain.RiskState, bool, error)

	// SaveAccuracy persiste los registros de accuracy por fuente.
	SaveAccuracy(ctx context.Context, records []domain.SourceAccuracyRecord) error

	// LoadAccuracy devuelve los registros de accuracy persistidos.
	LoadAccuracy(ctx context.Context) ([]domain.SourceAccuracyRecord, error)

	// SaveDailySummary persiste el resumen diario.
	SaveDailySummary(ctx context.Context, summary domain.DailySummary) error

	// FlushPending reintenta las escrituras de cierre pendientes.
	FlushPending(ctx context.Context) (remaining int, err error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
