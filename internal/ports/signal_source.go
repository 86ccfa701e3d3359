package ports

import (
	"context"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// SignalSource es una fuente externa de señales ya normalizadas.
// El core nunca parsea payloads crudos de feeds: eso ocurre antes de aquí.
type SignalSource interface {
	// Name identifica la fuente en logs y eventos.
	Name() string

	// Run produce señales en out hasta que el contexto se cancele.
	// out es una cola append-only compartida; la fuente nunca lee de ella.
	Run(ctx context.Context, out chan<- domain.Signal) error
}

// ProbabilityEstimator es el proveedor de modelo de probabilidad (caja negra,
// p.ej. un LLM). Se consume como fuente de señales de kind ModelEstimate.
type ProbabilityEstimator interface {
	Estimate(ctx context.Context, market domain.Market) (domain.ProbabilityEstimate, error)
}
