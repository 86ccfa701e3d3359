package engine

import (
	"context"
	"fmt"
)

// rehydrate reconstruye el estado en memoria desde storage al arrancar:
// posiciones abiertas, accuracy por fuente y cierres pendientes de escribir.
// El estado de riesgo del día se rehidrata antes, al construir el Manager.
func (e *Engine) rehydrate(ctx context.Context) error {
	positions, err := e.deps.Storage.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine.rehydrate: load positions: %w", err)
	}

	e.mu.Lock()
	for i := range positions {
		pos := positions[i]
		e.positions[pos.ConditionID] = &pos
	}
	e.mu.Unlock()

	records, err := e.deps.Storage.LoadAccuracy(ctx)
	if err != nil {
		// Accuracy se reconstruye sola con el tiempo; no bloquea el arranque.
		e.deps.Logger.Warn("accuracy no rehidratado", "error", err)
	} else if len(records) > 0 {
		e.deps.Accuracy.Restore(records)
	}

	if remaining, err := e.deps.Storage.FlushPending(ctx); err != nil {
		e.deps.Logger.Warn("cierres pendientes de sesiones previas sin resolver",
			"remaining", remaining,
			"error", err,
		)
	}

	e.deps.Logger.Info("estado rehidratado",
		"open_positions", len(positions),
		"accuracy_records", len(records),
	)
	return nil
}
