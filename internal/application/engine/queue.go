package engine

import (
	"sync"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// signalQueue es la cola append-only compartida entre las fuentes y el loop
// de evaluación. Las fuentes sólo añaden; el loop lee por mercado y la poda
// de señales expiradas ocurre en la lectura.
type signalQueue struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func newSignalQueue() *signalQueue {
	return &signalQueue{}
}

// Add encola una señal. Nunca bloquea.
func (q *signalQueue) Add(sig domain.Signal) {
	q.mu.Lock()
	q.signals = append(q.signals, sig)
	q.mu.Unlock()
}

// ByMarket devuelve las señales vivas agrupadas por condition ID y descarta
// de la cola las ya expiradas.
func (q *signalQueue) ByMarket(now time.Time) map[string][]domain.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()

	alive := q.signals[:0]
	byMarket := make(map[string][]domain.Signal)
	for _, sig := range q.signals {
		if sig.Expired(now) {
			continue
		}
		alive = append(alive, sig)
		byMarket[sig.ConditionID] = append(byMarket[sig.ConditionID], sig)
	}
	q.signals = alive
	return byMarket
}

// Len devuelve cuántas señales hay encoladas, expiradas incluidas.
func (q *signalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals)
}
