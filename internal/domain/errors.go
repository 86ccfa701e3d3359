package domain

import (
	"errors"
	"fmt"
)

// Errores de la capa de datos: siempre locales a un mercado/ciclo,
// nunca detienen el loop completo.
var (
	// ErrStaleData indica que el snapshot del mercado es demasiado viejo;
	// el mercado se salta este ciclo.
	ErrStaleData = errors.New("market snapshot is stale")

	// ErrInvariantViolation es fatal: indica un bug de corrección en el
	// gate de riesgo (balance negativo, doble admisión). Detiene la
	// admisión de trades nuevos; el monitoreo de salidas sigue vivo.
	ErrInvariantViolation = errors.New("risk invariant violation")
)

// InvariantError envuelve ErrInvariantViolation con el detalle concreto.
func InvariantError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// ExecFailureKind clasifica los fallos de ejecución retriables.
type ExecFailureKind string

const (
	ExecTimeout           ExecFailureKind = "timeout"
	ExecRejected          ExecFailureKind = "rejected"
	ExecInsufficientDepth ExecFailureKind = "insufficient_depth"
	ExecSlippageExceeded  ExecFailureKind = "slippage_exceeded"
)

// ExecFailure es un fallo de ejecución: se reintenta según la política del
// executor y, agotados los reintentos, la orden termina en Failed.
type ExecFailure struct {
	Kind ExecFailureKind
	Err  error
}

func (e *ExecFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("execution failure: %s", e.Kind)
	}
	return fmt.Sprintf("execution failure (%s): %v", e.Kind, e.Err)
}

func (e *ExecFailure) Unwrap() error { return e.Err }

// NewExecFailure construye un ExecFailure del tipo dado.
func NewExecFailure(kind ExecFailureKind, err error) *ExecFailure {
	return &ExecFailure{Kind: kind, Err: err}
}

// AsExecFailure extrae un ExecFailure de la cadena de errores, si existe.
func AsExecFailure(err error) (*ExecFailure, bool) {
	var ef *ExecFailure
	if errors.As(err, &ef) {
		return ef, true
	}
	return nil, false
}
